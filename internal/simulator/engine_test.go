package simulator

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/event"
	"github.com/sebastiankruger/factory-twin/internal/sensor"
)

type manualTimer struct {
	ctx      context.Context
	interval time.Duration
	fn       func()
}

// manualScheduler records timers; tests fire them by hand
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualScheduler) Every(ctx context.Context, interval time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, &manualTimer{ctx: ctx, interval: interval, fn: fn})
}

func (m *manualScheduler) active() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualTimer
	for _, t := range m.timers {
		if t.ctx.Err() == nil {
			out = append(out, t)
		}
	}
	return out
}

func (m *manualScheduler) fire(interval time.Duration) {
	for _, t := range m.active() {
		if t.interval == interval {
			t.fn()
		}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeResults struct {
	calls  int
	record core.ProductionRecord
	err    error
	during func()
}

func (f *fakeResults) FetchResult(ctx context.Context) (core.ProductionRecord, error) {
	f.calls++
	if f.during != nil {
		f.during()
	}
	return f.record, f.err
}

type fakeRecords struct {
	calls   int
	batches [][]core.ProductionRecord
	errs    []error
}

func (f *fakeRecords) FetchRecords(ctx context.Context) ([]core.ProductionRecord, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

type staticLot string

func (s staticLot) LotNumber() string { return string(s) }

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func twoSteps() []core.MachineStep {
	return []core.MachineStep{
		{ID: "step1", BaseID: "step", Name: "Step 1", Duration: 12, Occurrence: 1},
		{ID: "step2", BaseID: "step", Name: "Step 2", Duration: 8, Occurrence: 2},
	}
}

func newTestEngine(opts Options) (*Engine, *manualScheduler, *fakeClock) {
	sched := &manualScheduler{}
	clock := &fakeClock{now: t0}
	opts.Scheduler = sched
	opts.Clock = clock.Now
	return NewEngine(opts), sched, clock
}

func TestScriptedTerminationIsExactlyOnce(t *testing.T) {
	results := &fakeResults{record: core.ProductionRecord{
		Status:      core.RunStatusFinish,
		GoodProduct: 10.0,
	}}
	bus := event.NewBus()
	finished := 0
	event.Subscribe(bus, func(RunFinished) { finished++ })

	engine, sched, clock := newTestEngine(Options{Results: results, Bus: bus, Lots: staticLot("LOT-7")})
	if err := engine.Start(twoSteps()); err != nil {
		t.Fatalf("start: %v", err)
	}

	timers := sched.active()
	if len(timers) != 1 || timers[0].interval != DefaultScriptedTickInterval {
		t.Fatalf("expected one scripted ticker, got %d", len(timers))
	}
	tick := timers[0].fn

	steps := []struct {
		elapsed  float64
		active   string
		progress float64
		mode     string
	}{
		{0, "step1", 0, "Running"},
		{5, "step1", 5.0 / 12.0, "Running"},
		{12, "step2", 0, "Running"},
		{19, "step2", 7.0 / 8.0, "Running"},
		{20, "step2", 1, "Idle"},
		{25, "step2", 1, "Idle"},
	}

	for _, s := range steps {
		clock.Set(t0.Add(time.Duration(s.elapsed * float64(time.Second))))
		// Fire the captured callback even after cancellation to model an
		// overlapping timer firing.
		tick()

		snap := engine.Snapshot()
		if snap.ActiveStepID != s.active {
			t.Fatalf("elapsed %v: active %q, want %q", s.elapsed, snap.ActiveStepID, s.active)
		}
		if math.Abs(snap.StepProgress-s.progress) > 1e-9 {
			t.Fatalf("elapsed %v: progress %v, want %v", s.elapsed, snap.StepProgress, s.progress)
		}
		if snap.Mode != s.mode {
			t.Fatalf("elapsed %v: mode %s, want %s", s.elapsed, snap.Mode, s.mode)
		}
	}

	if results.calls != 1 {
		t.Fatalf("result fetched %d times, want 1", results.calls)
	}
	if finished != 1 {
		t.Fatalf("RunFinished published %d times, want 1", finished)
	}

	snap := engine.Snapshot()
	if snap.ElapsedSeconds != 20 {
		t.Fatalf("terminal elapsed %v, want 20", snap.ElapsedSeconds)
	}
	if snap.Result == nil || snap.Result.LotNumber != "LOT-7" || *snap.Result.GoodProduct != 10 {
		t.Fatalf("unexpected result: %+v", snap.Result)
	}
	if len(sched.active()) != 0 {
		t.Fatalf("ticker still active after termination")
	}
}

func TestScriptedSingleActiveStepAndMonotonicProgress(t *testing.T) {
	engine, sched, clock := newTestEngine(Options{})
	steps := twoSteps()
	if err := engine.Start(steps); err != nil {
		t.Fatalf("start: %v", err)
	}

	lastStep := ""
	lastProgress := 0.0
	for ms := 0; ms < 20000; ms += 250 {
		clock.Set(t0.Add(time.Duration(ms) * time.Millisecond))
		sched.fire(DefaultScriptedTickInterval)

		snap := engine.Snapshot()
		found := false
		for _, s := range steps {
			if s.ID == snap.ActiveStepID {
				found = true
			}
		}
		if !found {
			t.Fatalf("at %dms active step %q not in sequence", ms, snap.ActiveStepID)
		}
		if snap.StepProgress < 0 || snap.StepProgress > 1 {
			t.Fatalf("at %dms progress %v out of bounds", ms, snap.StepProgress)
		}
		if snap.ActiveStepID == lastStep && snap.StepProgress < lastProgress {
			t.Fatalf("at %dms progress decreased from %v to %v", ms, lastProgress, snap.StepProgress)
		}
		lastStep, lastProgress = snap.ActiveStepID, snap.StepProgress
	}
}

func TestScriptedResultFetchFailureStillTerminates(t *testing.T) {
	results := &fakeResults{err: errors.New("backend down")}
	engine, sched, clock := newTestEngine(Options{Results: results})
	engine.Start(twoSteps())

	clock.Set(t0.Add(30 * time.Second))
	sched.fire(DefaultScriptedTickInterval)

	snap := engine.Snapshot()
	if snap.Mode != "Idle" || snap.Result != nil {
		t.Fatalf("expected idle without result, got %+v", snap)
	}
	if results.calls != 1 {
		t.Fatalf("expected a single fetch attempt, got %d", results.calls)
	}
}

func TestStopDuringResultFetchDiscardsResult(t *testing.T) {
	results := &fakeResults{record: core.ProductionRecord{Status: core.RunStatusFinish}}
	engine, sched, clock := newTestEngine(Options{Results: results})
	results.during = func() { engine.Stop(false) }
	engine.Start(twoSteps())

	clock.Set(t0.Add(20 * time.Second))
	sched.fire(DefaultScriptedTickInterval)

	snap := engine.Snapshot()
	if snap.Result != nil {
		t.Fatalf("stale result applied after stop: %+v", snap.Result)
	}
	if snap.Mode != "Idle" || snap.ActiveStepID != "" {
		t.Fatalf("expected cleared idle state, got %+v", snap)
	}
}

func TestEmptySequenceStaysIdle(t *testing.T) {
	engine, sched, _ := newTestEngine(Options{})

	for _, steps := range [][]core.MachineStep{
		nil,
		{{ID: "zero", Duration: 0}},
	} {
		err := engine.Start(steps)
		if !errors.Is(err, ErrEmptySequence) {
			t.Fatalf("expected ErrEmptySequence, got %v", err)
		}
		snap := engine.Snapshot()
		if snap.Mode != "Idle" || snap.ActiveStepID != "" || snap.StepProgress != 0 || snap.ElapsedSeconds != 0 {
			t.Fatalf("expected cleared idle state, got %+v", snap)
		}
		if len(sched.active()) != 0 {
			t.Fatalf("no timer expected for empty sequence")
		}
	}
}

func TestRealtimeFinishIsTerminal(t *testing.T) {
	records := &fakeRecords{batches: [][]core.ProductionRecord{
		{{Status: core.RunStatusProcess, ActiveMachineID: "step1"}},
		{{Status: core.RunStatusProcess, ActiveMachineID: "step2"}},
		{{
			Status:        core.RunStatusFinish,
			Lot:           "LOT-9",
			GoodProduct:   "42",
			DefectProduct: 3.7,
			OperationHour: 1.0,
			Averages:      map[string]interface{}{"temp": 21.5, "state": "ok", "bad": true},
		}},
		{{Status: core.RunStatusFinish, GoodProduct: 1.0}},
	}}
	bus := event.NewBus()
	var results []*core.RunResult
	event.Subscribe(bus, func(r RunFinished) { results = append(results, r.Result) })

	engine, sched, _ := newTestEngine(Options{Records: records, Bus: bus})
	if !engine.SetVariant(VariantRealtime) {
		t.Fatalf("variant switch while idle should apply")
	}
	engine.Start(twoSteps())

	if n := len(sched.active()); n != 2 {
		t.Fatalf("expected elapsed and poll tickers, got %d", n)
	}

	sched.fire(DefaultRealtimePollInterval)
	if snap := engine.Snapshot(); snap.ActiveStepID != "step1" || snap.StepProgress != 1 {
		t.Fatalf("unexpected state after first poll: %+v", snap)
	}
	sched.fire(DefaultRealtimePollInterval)
	if snap := engine.Snapshot(); snap.ActiveStepID != "step2" {
		t.Fatalf("unexpected state after second poll: %+v", snap)
	}
	sched.fire(DefaultRealtimePollInterval)
	sched.fire(DefaultRealtimePollInterval)

	if len(results) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(results))
	}
	r := results[0]
	if r.GoodProduct == nil || *r.GoodProduct != 42 {
		t.Fatalf("goodProduct = %v, want 42", r.GoodProduct)
	}
	if r.DefectProduct == nil || *r.DefectProduct != 4 {
		t.Fatalf("defectProduct = %v, want 4", r.DefectProduct)
	}
	if r.OperationHour == nil || *r.OperationHour != "1 hour" {
		t.Fatalf("operationHour = %v, want \"1 hour\"", r.OperationHour)
	}
	if _, ok := r.Averages["bad"]; ok {
		t.Fatalf("non-numeric, non-string average retained")
	}
	if records.calls != 3 {
		t.Fatalf("polling continued after finish: %d calls", records.calls)
	}
	if len(sched.active()) != 0 {
		t.Fatalf("timers still active after finish")
	}

	snap := engine.Snapshot()
	if snap.Mode != "Idle" || snap.ActiveStepID != "" || snap.ElapsedSeconds != 0 {
		t.Fatalf("unexpected terminal state: %+v", snap)
	}
}

func TestRealtimePollFailureKeepsPolling(t *testing.T) {
	records := &fakeRecords{
		batches: [][]core.ProductionRecord{
			{{Status: core.RunStatusProcess, ActiveMachineID: "step1"}},
			nil,
			{{Status: core.RunStatusProcess, ActiveMachineID: "STEP"}},
		},
		errs: []error{nil, errors.New("timeout")},
	}
	engine, sched, clock := newTestEngine(Options{Records: records})
	engine.SetVariant(VariantRealtime)
	engine.Start(twoSteps())

	sched.fire(DefaultRealtimePollInterval)
	sched.fire(DefaultRealtimePollInterval)
	snap := engine.Snapshot()
	if snap.Mode != "Running" || snap.ActiveStepID != "" || snap.StepProgress != 0 {
		t.Fatalf("poll failure should clear the active step only, got %+v", snap)
	}

	sched.fire(DefaultRealtimePollInterval)
	if snap := engine.Snapshot(); snap.ActiveStepID != "step1" {
		t.Fatalf("case-insensitive base id should match step1, got %q", snap.ActiveStepID)
	}

	clock.Set(t0.Add(3 * time.Second))
	sched.fire(DefaultRealtimeElapsedInterval)
	if snap := engine.Snapshot(); snap.ElapsedSeconds != 3 {
		t.Fatalf("elapsed = %v, want 3", snap.ElapsedSeconds)
	}
}

func TestRealtimeUnknownMachineClearsActiveStep(t *testing.T) {
	records := &fakeRecords{batches: [][]core.ProductionRecord{
		{{Status: core.RunStatusProcess, ActiveMachineID: "laser"}},
	}}
	engine, sched, _ := newTestEngine(Options{Records: records})
	engine.SetVariant(VariantRealtime)
	engine.Start(twoSteps())

	sched.fire(DefaultRealtimePollInterval)
	if snap := engine.Snapshot(); snap.ActiveStepID != "" || snap.StepProgress != 0 {
		t.Fatalf("unknown machine must not become active: %+v", snap)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	bus := event.NewBus()
	changes := 0
	event.Subscribe(bus, func(StateChanged) { changes++ })

	engine, sched, clock := newTestEngine(Options{Bus: bus})
	engine.Start(twoSteps())
	clock.Set(t0.Add(5 * time.Second))
	sched.fire(DefaultScriptedTickInterval)

	engine.Stop(false)
	first := engine.Snapshot()
	before := changes

	engine.Stop(false)
	second := engine.Snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second stop changed state:\n%+v\n%+v", first, second)
	}
	if changes != before {
		t.Fatalf("second stop published a state change")
	}
	if first.Mode != "Idle" || first.ActiveStepID != "" || first.ElapsedSeconds != 0 {
		t.Fatalf("unexpected stopped state: %+v", first)
	}
	if len(sched.active()) != 0 {
		t.Fatalf("timers still active after stop")
	}
}

func TestStopPreservesResult(t *testing.T) {
	results := &fakeResults{record: core.ProductionRecord{Status: core.RunStatusFinish}}
	engine, sched, clock := newTestEngine(Options{Results: results})
	engine.Start(twoSteps())
	clock.Set(t0.Add(20 * time.Second))
	sched.fire(DefaultScriptedTickInterval)

	engine.Stop(true)
	if engine.Snapshot().Result == nil {
		t.Fatalf("result should survive Stop(true)")
	}
	engine.Stop(false)
	if engine.Snapshot().Result != nil {
		t.Fatalf("result should be cleared by Stop(false)")
	}
}

func TestVariantSwitchDeferredWhileRunning(t *testing.T) {
	engine, sched, _ := newTestEngine(Options{})
	engine.Start(twoSteps())

	if engine.SetVariant(VariantRealtime) {
		t.Fatalf("switch while running must be deferred")
	}
	snap := engine.Snapshot()
	if snap.Variant != "scripted" || snap.PendingVariant != "realtime" {
		t.Fatalf("unexpected variant state: %+v", snap)
	}
	if n := len(sched.active()); n != 1 {
		t.Fatalf("running scheduler must be untouched, got %d timers", n)
	}

	engine.Start(twoSteps())
	snap = engine.Snapshot()
	if snap.Variant != "realtime" || snap.PendingVariant != "" {
		t.Fatalf("deferred variant not applied on start: %+v", snap)
	}
	if n := len(sched.active()); n != 2 {
		t.Fatalf("expected only the realtime timer set, got %d timers", n)
	}
}

func TestWeighingReadingPausesScriptedRun(t *testing.T) {
	bus := event.NewBus()
	engine, sched, _ := newTestEngine(Options{Bus: bus})
	defer engine.Close()
	engine.Start(twoSteps())

	event.Publish(bus, sensor.WeighingReading{Reading: core.SensorReading{MachineName: "Weighing-01", Value: 25}})

	snap := engine.Snapshot()
	if snap.Mode != "Idle" || snap.PendingVariant != "realtime" {
		t.Fatalf("expected paused run with pending realtime switch, got %+v", snap)
	}
	if len(sched.active()) != 0 {
		t.Fatalf("scripted ticker still active")
	}

	// A second reading while idle changes nothing.
	event.Publish(bus, sensor.WeighingReading{})
	if engine.Snapshot().Mode != "Idle" {
		t.Fatalf("idle engine should ignore weighing readings")
	}
}

func TestDemoSensorsDoNotPauseScriptedRun(t *testing.T) {
	bus := event.NewBus()
	engine, sched, _ := newTestEngine(Options{Bus: bus})
	defer engine.Close()
	engine.Start(twoSteps())

	buf := sensor.NewBuffer(sensor.DefaultCapacity, bus)
	demo := sensor.NewSynthetic([]string{"Silo", "Weightning", "Mixer"}, 1)
	for i := 0; i < 3; i++ {
		for _, ev := range demo.Next() {
			buf.Accept(ev)
		}
	}

	snap := engine.Snapshot()
	if snap.Mode != "Running" || snap.PendingVariant != "" {
		t.Fatalf("demo readings paused the run: %+v", snap)
	}
	if len(sched.active()) != 1 {
		t.Fatalf("scripted ticker should still be active")
	}
}

func TestDismissResult(t *testing.T) {
	results := &fakeResults{record: core.ProductionRecord{Status: core.RunStatusFinish}}
	engine, sched, clock := newTestEngine(Options{Results: results})
	engine.Start(twoSteps())
	clock.Set(t0.Add(21 * time.Second))
	sched.fire(DefaultScriptedTickInterval)

	if engine.Snapshot().Result == nil {
		t.Fatalf("expected a result")
	}
	engine.DismissResult()
	if engine.Snapshot().Result != nil {
		t.Fatalf("result not dismissed")
	}
}
