package simulator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/event"
	"github.com/sebastiankruger/factory-twin/internal/metrics"
	"github.com/sebastiankruger/factory-twin/internal/sensor"
)

// ErrEmptySequence is returned by Start when a scripted run has nothing to
// play. The engine is left idle.
var ErrEmptySequence = errors.New("sequence is empty or has zero total duration")

// ResultSource returns the result of a finished scripted run
type ResultSource interface {
	FetchResult(ctx context.Context) (core.ProductionRecord, error)
}

// RecordSource returns the current production records for realtime polling
type RecordSource interface {
	FetchRecords(ctx context.Context) ([]core.ProductionRecord, error)
}

// LotSource provides the lot number of the last submitted configuration
type LotSource interface {
	LotNumber() string
}

// Options configures an Engine. Zero intervals fall back to the defaults.
type Options struct {
	Results   ResultSource
	Records   RecordSource
	Lots      LotSource
	Bus       *event.Bus
	Scheduler Scheduler
	Clock     func() time.Time

	ScriptedTickInterval    time.Duration
	RealtimeElapsedInterval time.Duration
	RealtimePollInterval    time.Duration
	RequestTimeout          time.Duration
}

const (
	DefaultScriptedTickInterval    = 250 * time.Millisecond
	DefaultRealtimeElapsedInterval = 500 * time.Millisecond
	DefaultRealtimePollInterval    = 2 * time.Second
	defaultRequestTimeout          = 10 * time.Second
)

// Engine owns the simulation state. It is the only writer; everyone else
// reads snapshots or subscribes to StateChanged.
type Engine struct {
	mu sync.Mutex

	state   State
	pending *Variant

	// generation is bumped by every Start and Stop. Async work captures it
	// and drops its outcome when it no longer matches.
	generation uint64
	cancel     context.CancelFunc
	finishing  bool
	runLot     string

	results   ResultSource
	records   RecordSource
	lots      LotSource
	bus       *event.Bus
	scheduler Scheduler
	clock     func() time.Time

	scriptedInterval time.Duration
	elapsedInterval  time.Duration
	pollInterval     time.Duration
	requestTimeout   time.Duration

	unsubscribe func()
}

// NewEngine creates an idle engine in the scripted variant
func NewEngine(opts Options) *Engine {
	e := &Engine{
		state:            State{Mode: ModeIdle, Variant: VariantScripted},
		results:          opts.Results,
		records:          opts.Records,
		lots:             opts.Lots,
		bus:              opts.Bus,
		scheduler:        opts.Scheduler,
		clock:            opts.Clock,
		scriptedInterval: opts.ScriptedTickInterval,
		elapsedInterval:  opts.RealtimeElapsedInterval,
		pollInterval:     opts.RealtimePollInterval,
		requestTimeout:   opts.RequestTimeout,
	}

	if e.scheduler == nil {
		e.scheduler = TickerScheduler{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.scriptedInterval <= 0 {
		e.scriptedInterval = DefaultScriptedTickInterval
	}
	if e.elapsedInterval <= 0 {
		e.elapsedInterval = DefaultRealtimeElapsedInterval
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultRealtimePollInterval
	}
	if e.requestTimeout <= 0 {
		e.requestTimeout = defaultRequestTimeout
	}

	if e.bus != nil {
		e.unsubscribe = event.Subscribe(e.bus, func(r sensor.WeighingReading) {
			if e.PauseForLiveData() {
				log.Info().
					Str("machine", r.Reading.MachineName).
					Str("sensor", r.Reading.SensorName).
					Msg("Weighing reading received, pausing scripted simulation")
			}
		})
	}

	return e
}

// Close stops any run and detaches from the bus
func (e *Engine) Close() {
	e.Stop(true)
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

// Snapshot returns a copy of the current state
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot(e.pending)
}

// Start begins a run of steps in the current variant, applying a deferred
// variant switch first. Any previous run is cancelled.
func (e *Engine) Start(steps []core.MachineStep) error {
	e.mu.Lock()

	e.cancelTimersLocked()
	e.generation++
	e.finishing = false
	if e.pending != nil {
		e.state.Variant = *e.pending
		e.pending = nil
	}
	variant := e.state.Variant

	if variant == VariantScripted && (len(steps) == 0 || core.TotalDuration(steps) <= 0) {
		e.state = ClearIdle(StartRun(e.state, steps, "", time.Time{}))
		snap := e.state.snapshot(e.pending)
		e.mu.Unlock()

		log.Warn().Int("steps", len(steps)).Msg("Scripted sequence has nothing to play, staying idle")
		e.publish(snap)
		return ErrEmptySequence
	}

	runID := uuid.NewString()
	e.runLot = e.lotFilter()
	if e.runLot == "" {
		e.runLot = "LOT-" + strings.ToUpper(strings.ReplaceAll(runID, "-", "")[:8])
	}
	e.state = StartRun(e.state, steps, runID, e.clock())

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	gen := e.generation

	switch variant {
	case VariantScripted:
		e.scheduler.Every(ctx, e.scriptedInterval, func() { e.scriptedTick(gen) })
	case VariantRealtime:
		e.scheduler.Every(ctx, e.elapsedInterval, func() { e.elapsedTick(gen) })
		e.scheduler.Every(ctx, e.pollInterval, func() { e.poll(gen) })
	}

	snap := e.state.snapshot(e.pending)
	lot := e.runLot
	e.mu.Unlock()

	metrics.RunsStarted.WithLabelValues(variant.String()).Inc()
	log.Info().
		Str("runId", runID).
		Str("variant", variant.String()).
		Str("lot", lot).
		Int("steps", len(steps)).
		Float64("totalDuration", core.TotalDuration(steps)).
		Msg("Simulation started")

	event.Publish(e.bus, RunStarted{RunID: runID, Variant: variant, Steps: len(steps)})
	e.publish(snap)
	return nil
}

// Stop cancels all timers and returns to Idle. The result is cleared unless
// preserveResult is set. Calling Stop again is a no-op.
func (e *Engine) Stop(preserveResult bool) {
	e.mu.Lock()
	e.cancelTimersLocked()
	e.generation++
	e.finishing = false

	before := e.state
	e.state = Stop(e.state, preserveResult)
	changed := !sameState(before, e.state)
	snap := e.state.snapshot(e.pending)
	e.mu.Unlock()

	if !changed {
		return
	}
	if before.Mode == ModeRunning {
		log.Info().Str("runId", before.RunID).Bool("preserveResult", preserveResult).Msg("Simulation stopped")
	}
	e.publish(snap)
}

// SetVariant switches the timing model. While running the switch is
// deferred to the next Start and false is returned.
func (e *Engine) SetVariant(v Variant) bool {
	e.mu.Lock()
	applied := e.state.Mode != ModeRunning
	if applied {
		e.state.Variant = v
		e.pending = nil
	} else if v == e.state.Variant {
		e.pending = nil
	} else {
		e.pending = &v
	}
	snap := e.state.snapshot(e.pending)
	e.mu.Unlock()

	if !applied {
		log.Info().Str("variant", v.String()).Msg("Variant switch deferred until next start")
	}
	e.publish(snap)
	return applied
}

// DismissResult clears the stored result
func (e *Engine) DismissResult() {
	e.mu.Lock()
	if e.state.Result == nil {
		e.mu.Unlock()
		return
	}
	e.state.Result = nil
	snap := e.state.snapshot(e.pending)
	e.mu.Unlock()

	e.publish(snap)
}

// PauseForLiveData stops an active scripted run, keeping its result, and
// defers a switch to the realtime variant. Reports whether a run was paused.
func (e *Engine) PauseForLiveData() bool {
	e.mu.Lock()
	if e.state.Mode != ModeRunning || e.state.Variant != VariantScripted || e.finishing {
		e.mu.Unlock()
		return false
	}

	e.cancelTimersLocked()
	e.generation++
	e.state = Stop(e.state, true)
	realtime := VariantRealtime
	e.pending = &realtime
	snap := e.state.snapshot(e.pending)
	e.mu.Unlock()

	e.publish(snap)
	return true
}

func (e *Engine) scriptedTick(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || e.state.Mode != ModeRunning || e.finishing {
		e.mu.Unlock()
		return
	}

	now := e.clock()
	next, terminal := ScriptedTick(e.state, now.Sub(e.state.StartedAt).Seconds())
	e.state = next
	if next.Mode != ModeRunning {
		// Sequence became unplayable; nothing left to tick.
		e.cancelTimersLocked()
	}
	if terminal {
		// Set before the fetch so overlapping ticks cannot terminate twice.
		e.finishing = true
		e.cancelTimersLocked()
	}
	snap := e.state.snapshot(e.pending)
	runID := e.state.RunID
	lot := e.runLot
	e.mu.Unlock()

	e.publish(snap)
	if !terminal {
		return
	}

	result := e.fetchResult(runID, lot, now)

	e.mu.Lock()
	if gen != e.generation {
		// Stopped or restarted while fetching.
		e.mu.Unlock()
		return
	}
	e.state.Result = result
	e.state.Mode = ModeIdle
	snap = e.state.snapshot(e.pending)
	e.mu.Unlock()

	e.finished(runID, VariantScripted, result)
	e.publish(snap)
}

func (e *Engine) fetchResult(runID, lot string, now time.Time) *core.RunResult {
	if e.results == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
	defer cancel()

	rec, err := e.results.FetchResult(ctx)
	if err != nil {
		metrics.ResultFetchFailures.Inc()
		log.Warn().Err(err).Str("runId", runID).Msg("Failed to fetch scripted run result")
		return nil
	}
	return BuildRunResult(rec, lot, now)
}

func (e *Engine) elapsedTick(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || e.state.Mode != ModeRunning {
		e.mu.Unlock()
		return
	}
	e.state = RealtimeElapsed(e.state, e.clock().Sub(e.state.StartedAt).Seconds())
	snap := e.state.snapshot(e.pending)
	e.mu.Unlock()

	e.publish(snap)
}

func (e *Engine) poll(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || e.state.Mode != ModeRunning {
		e.mu.Unlock()
		return
	}
	lotFilter := e.lotFilter()
	e.mu.Unlock()

	var (
		records []core.ProductionRecord
		err     error
	)
	if e.records != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
		records, err = e.records.FetchRecords(ctx)
		cancel()
	}

	e.mu.Lock()
	if gen != e.generation || e.state.Mode != ModeRunning {
		e.mu.Unlock()
		return
	}

	if err != nil {
		e.state = PollFailed(e.state)
		snap := e.state.snapshot(e.pending)
		e.mu.Unlock()

		metrics.PollFailures.Inc()
		log.Warn().Err(err).Msg("Failed to poll current production record")
		e.publish(snap)
		return
	}

	rec, ok := SelectRecord(records, lotFilter)
	if !ok {
		e.state = PollFailed(e.state)
		snap := e.state.snapshot(e.pending)
		e.mu.Unlock()

		e.publish(snap)
		return
	}

	next, terminal := ApplyRecord(e.state, rec, e.runLot, e.clock())
	e.state = next
	if terminal {
		e.cancelTimersLocked()
	}
	runID := e.state.RunID
	result := e.state.Result.Clone()
	snap := e.state.snapshot(e.pending)
	e.mu.Unlock()

	if terminal {
		e.finished(runID, VariantRealtime, result)
	}
	e.publish(snap)
}

func (e *Engine) finished(runID string, variant Variant, result *core.RunResult) {
	outcome := "none"
	if result != nil {
		outcome = "result"
	}
	metrics.RunsFinished.WithLabelValues(variant.String(), outcome).Inc()

	ev := log.Info().Str("runId", runID).Str("variant", variant.String())
	if result != nil {
		ev = ev.Str("lot", result.LotNumber)
	}
	ev.Msg("Simulation finished")

	if result != nil {
		event.Publish(e.bus, RunFinished{RunID: runID, Variant: variant, Result: result.Clone()})
	}
}

func (e *Engine) publish(snap Snapshot) {
	metrics.StepProgress.Set(snap.StepProgress)
	event.Publish(e.bus, StateChanged{Snapshot: snap})
}

func (e *Engine) cancelTimersLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) lotFilter() string {
	if e.lots == nil {
		return ""
	}
	return strings.TrimSpace(e.lots.LotNumber())
}

func sameState(a, b State) bool {
	return a.Mode == b.Mode &&
		a.ActiveStepID == b.ActiveStepID &&
		a.StepProgress == b.StepProgress &&
		a.ElapsedSeconds == b.ElapsedSeconds &&
		a.Result == b.Result
}
