package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/config"
	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/dashboard"
	"github.com/sebastiankruger/factory-twin/internal/event"
	"github.com/sebastiankruger/factory-twin/internal/registry"
	"github.com/sebastiankruger/factory-twin/internal/review"
	"github.com/sebastiankruger/factory-twin/internal/scene"
	"github.com/sebastiankruger/factory-twin/internal/sensor"
	"github.com/sebastiankruger/factory-twin/internal/simulator"
)

type staticFlows []catalog.ProductFlowDefinition

func (s staticFlows) LoadFlows(ctx context.Context) ([]catalog.ProductFlowDefinition, error) {
	return s, nil
}

type failingSink struct{ err error }

func (f *failingSink) Submit(ctx context.Context, sub core.Submission) error { return f.err }

type fixture struct {
	mux     *http.ServeMux
	engine  *simulator.Engine
	review  *review.Workflow
	buffer  *sensor.Buffer
	sink    *failingSink
	session *dashboard.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	entries := []catalog.ModelCatalogEntry{
		{ID: "mixer", Src: "/models/mixer.glb", Position: &[3]float64{-4, 0, 0}},
		{ID: "oven", Src: "/models/oven.glb", Position: &[3]float64{4, 0, 0}},
	}
	reg, err := registry.Build(entries)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	bus := event.NewBus()
	runtime := config.NewRuntimeConfig()
	engine := simulator.NewEngine(simulator.Options{
		Bus:                  bus,
		Lots:                 runtime,
		ScriptedTickInterval: time.Hour,
	})
	t.Cleanup(engine.Close)

	flows := staticFlows{{
		ProductID:   "bread",
		ProductName: "Bread",
		Flow:        []catalog.FlowEntry{{MachineID: "oven"}},
	}}
	session := dashboard.NewSession(flows, reg, runtime, engine)

	sink := &failingSink{}
	workflow := review.NewWorkflow(sink, engine)
	detach := workflow.Attach(bus)
	t.Cleanup(detach)

	buffer := sensor.NewBuffer(10, bus)
	objects := scene.FromCatalog(entries, reg.Steps())
	tracker := scene.NewTracker(scene.NewResolver(scene.DefaultAliases), objects, scene.DefaultCamera(), scene.DefaultViewport)

	h := NewHandler("test-twin", Deps{
		Engine:   engine,
		Session:  session,
		Runtime:  runtime,
		Review:   workflow,
		Readings: buffer,
		Tracker:  tracker,
	}, time.Second)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &fixture{mux: mux, engine: engine, review: workflow, buffer: buffer, sink: sink, session: session}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestStatusReportsIdleEngine(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SimulatorName != "test-twin" || resp.Engine.Mode != "Idle" || resp.Engine.Variant != "scripted" {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestMethodChecks(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/status", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/status: expected 405, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/simulation/start", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/simulation/start: expected 405, got %d", rec.Code)
	}
	if rec := f.do(http.MethodOptions, "/api/simulation/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("preflight: expected 200, got %d", rec.Code)
	}
}

func TestSelectConfigureAndStart(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/products/select", SelectProductRequest{ProductID: "bread"})
	if rec.Code != http.StatusOK {
		t.Fatalf("select: expected 200, got %d", rec.Code)
	}
	var status dashboard.Status
	json.NewDecoder(rec.Body).Decode(&status)
	if status.ProductID != "bread" || status.Steps != 1 || status.Fallback {
		t.Fatalf("unexpected session status: %+v", status)
	}

	rec = f.do(http.MethodPost, "/api/configuration", ConfigurationRequest{LotNumber: "LOT-7", Values: map[string]string{"flour": "wheat"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("configuration: expected 200, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/simulation/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var snap simulator.Snapshot
	json.NewDecoder(rec.Body).Decode(&snap)
	if snap.Mode != "Running" || len(snap.Steps) != 1 || snap.Steps[0].ID != "oven" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	rec = f.do(http.MethodGet, "/api/status", nil)
	var resp StatusResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.LotNumber != "LOT-7" {
		t.Fatalf("lot number not reported: %+v", resp)
	}
}

func TestConfigurationRequiresLot(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/configuration", ConfigurationRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVariantDeferredWhileRunning(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/simulation/variant", VariantRequest{Variant: "bogus"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown variant: expected 400, got %d", rec.Code)
	}

	f.do(http.MethodPost, "/api/simulation/start", nil)

	rec := f.do(http.MethodPost, "/api/simulation/variant", VariantRequest{Variant: "realtime"})
	var resp VariantResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Applied || resp.Engine.PendingVariant != "realtime" || resp.Engine.Variant != "scripted" {
		t.Fatalf("switch should be deferred: %+v", resp)
	}

	rec = f.do(http.MethodPost, "/api/simulation/stop", StopRequest{})
	var snap simulator.Snapshot
	json.NewDecoder(rec.Body).Decode(&snap)
	if snap.Mode != "Idle" {
		t.Fatalf("stop did not idle the engine: %+v", snap)
	}
}

func TestReviewEndpoints(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/review/validate", nil); rec.Code != http.StatusConflict {
		t.Fatalf("validate without report: expected 409, got %d", rec.Code)
	}

	f.review.OpenReport(&core.RunResult{LotNumber: "LOT-1", Status: core.RunStatusFinish, Conclusion: "ok"})

	if rec := f.do(http.MethodPost, "/api/review/validate", nil); rec.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", rec.Code)
	}

	f.sink.err = errors.New("backend down")
	conclusion := "adjusted"
	rec := f.do(http.MethodPost, "/api/review/confirm", ConfirmRequest{Conclusion: &conclusion})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed submit: expected 502, got %d", rec.Code)
	}
	if st := f.review.State(); st.Stage != "validation" || st.Error == "" {
		t.Fatalf("form should stay open with error: %+v", st)
	}

	if rec := f.do(http.MethodPost, "/api/review/reject", nil); rec.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d", rec.Code)
	}
	if st := f.review.State(); st.Stage != "report" {
		t.Fatalf("reject should return to report: %+v", st)
	}

	f.do(http.MethodPost, "/api/review/validate", nil)
	f.sink.err = nil
	rec = f.do(http.MethodPost, "/api/review/confirm", ConfirmRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/review", nil)
	var st review.State
	json.NewDecoder(rec.Body).Decode(&st)
	if st.Stage != "none" {
		t.Fatalf("confirm should close the review: %+v", st)
	}
}

func TestTooltipsForBufferedReadings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/tooltips", nil)
	var resp TooltipsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Tooltips == nil || len(resp.Tooltips) != 0 {
		t.Fatalf("expected empty tooltip list, got %+v", resp.Tooltips)
	}

	f.buffer.Accept(sensor.Event{MachineName: "Oven", SensorName: "temperature", Value: 182.5})
	f.buffer.Accept(sensor.Event{MachineName: "Unknown-9", Value: 1})

	rec = f.do(http.MethodGet, "/api/tooltips", nil)
	resp = TooltipsResponse{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Tooltips) != 1 || resp.Tooltips[0].ObjectID != "oven" {
		t.Fatalf("unexpected tooltips: %+v", resp.Tooltips)
	}

	rec = f.do(http.MethodGet, "/api/readings", nil)
	var readings ReadingsResponse
	json.NewDecoder(rec.Body).Decode(&readings)
	if len(readings.Readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings.Readings))
	}
}
