package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/event"
	"github.com/sebastiankruger/factory-twin/internal/metrics"
	"github.com/sebastiankruger/factory-twin/internal/simulator"
)

var (
	// ErrNoReport is returned when validation is requested without a report
	ErrNoReport = errors.New("no result report is open")
	// ErrNotInValidation is returned by Confirm and Reject outside validation
	ErrNotInValidation = errors.New("result is not being validated")
	// ErrSubmitting is returned by Confirm while an earlier confirm is
	// still waiting for the backend
	ErrSubmitting = errors.New("result submission already in progress")
)

// Stage is the position in the review sequence
type Stage int

const (
	StageNone Stage = iota
	StageReport
	StageValidation
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageReport:
		return "report"
	case StageValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Sink persists confirmed results
type Sink interface {
	Submit(ctx context.Context, sub core.Submission) error
}

// ResultDismisser clears the engine's stored result
type ResultDismisser interface {
	DismissResult()
}

// Validation holds the editable form. Result is a copy taken when validation
// was entered; later edits never touch the report.
type Validation struct {
	Result       *core.RunResult `json:"result"`
	LotNumber    string          `json:"lotNumber"`
	Conclusion   string          `json:"conclusion"`
	IsConclusion bool            `json:"isConclusion"`
}

// Edits are the operator's changes to the validation form
type Edits struct {
	LotNumber    *string `json:"lotNumber,omitempty"`
	Conclusion   *string `json:"conclusion,omitempty"`
	IsConclusion *bool   `json:"isConclusion,omitempty"`
}

// State is a snapshot of the workflow
type State struct {
	Stage      string          `json:"stage"`
	Report     *core.RunResult `json:"report,omitempty"`
	Validation *Validation     `json:"validation,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Workflow is the linear review None -> Report -> Validation -> None
type Workflow struct {
	mu         sync.Mutex
	stage      Stage
	report     *core.RunResult
	validation *Validation
	lastError  string
	submitting bool

	sink   Sink
	engine ResultDismisser
}

func NewWorkflow(sink Sink, engine ResultDismisser) *Workflow {
	return &Workflow{sink: sink, engine: engine}
}

// Attach opens a report for every finished run published on bus
func (w *Workflow) Attach(bus *event.Bus) (detach func()) {
	return event.Subscribe(bus, func(ev simulator.RunFinished) {
		w.OpenReport(ev.Result)
	})
}

// OpenReport shows result, replacing any review in progress
func (w *Workflow) OpenReport(result *core.RunResult) {
	if result == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stage = StageReport
	w.report = result.Clone()
	w.validation = nil
	w.lastError = ""

	log.Info().Str("lot", result.LotNumber).Msg("Result report opened")
}

// Validate moves from Report to Validation, pre-filling the form from a
// snapshot of the report
func (w *Workflow) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stage == StageValidation {
		return nil
	}
	if w.stage != StageReport || w.report == nil {
		return ErrNoReport
	}

	snapshot := w.report.Clone()
	w.validation = &Validation{
		Result:       snapshot,
		LotNumber:    snapshot.LotNumber,
		Conclusion:   snapshot.Conclusion,
		IsConclusion: true,
	}
	w.stage = StageValidation
	w.lastError = ""
	return nil
}

// Edit applies edits to the open validation form
func (w *Workflow) Edit(edits Edits) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stage != StageValidation {
		return ErrNotInValidation
	}
	applyEdits(w.validation, edits)
	return nil
}

// Confirm submits the validation form. On failure the form stays open with
// the error recorded; on success the review closes and the engine's result
// is dismissed.
func (w *Workflow) Confirm(ctx context.Context, edits Edits) error {
	w.mu.Lock()
	if w.stage != StageValidation {
		w.mu.Unlock()
		return ErrNotInValidation
	}
	if w.submitting {
		w.mu.Unlock()
		return ErrSubmitting
	}
	applyEdits(w.validation, edits)
	current := w.validation
	sub := submission(*current)
	w.submitting = true
	w.mu.Unlock()

	err := w.sink.Submit(ctx, sub)

	w.mu.Lock()
	w.submitting = false
	if w.validation != current {
		// Rejected or replaced by a new report while submitting.
		w.mu.Unlock()
		return nil
	}
	if err != nil {
		w.lastError = err.Error()
		w.mu.Unlock()

		metrics.ReviewSubmissions.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("lot", sub.LotNumber).Msg("Failed to submit validated result")
		return fmt.Errorf("failed to submit result for %s: %w", sub.LotNumber, err)
	}

	w.stage = StageNone
	w.report = nil
	w.validation = nil
	w.lastError = ""
	w.mu.Unlock()

	metrics.ReviewSubmissions.WithLabelValues("confirmed").Inc()
	log.Info().Str("lot", sub.LotNumber).Msg("Result confirmed")

	if w.engine != nil {
		w.engine.DismissResult()
	}
	return nil
}

// Reject returns from Validation to Report without persisting
func (w *Workflow) Reject() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stage != StageValidation {
		return ErrNotInValidation
	}
	w.stage = StageReport
	w.validation = nil
	w.lastError = ""

	metrics.ReviewSubmissions.WithLabelValues("rejected").Inc()
	return nil
}

// Close dismisses an open report without validating it
func (w *Workflow) Close() {
	w.mu.Lock()
	open := w.stage != StageNone
	w.stage = StageNone
	w.report = nil
	w.validation = nil
	w.lastError = ""
	w.mu.Unlock()

	if open && w.engine != nil {
		w.engine.DismissResult()
	}
}

// State returns a copy of the workflow state
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := State{
		Stage:  w.stage.String(),
		Report: w.report.Clone(),
		Error:  w.lastError,
	}
	if w.validation != nil {
		v := *w.validation
		v.Result = w.validation.Result.Clone()
		st.Validation = &v
	}
	return st
}

func applyEdits(v *Validation, edits Edits) {
	if edits.LotNumber != nil {
		v.LotNumber = strings.TrimSpace(*edits.LotNumber)
	}
	if edits.Conclusion != nil {
		v.Conclusion = *edits.Conclusion
	}
	if edits.IsConclusion != nil {
		v.IsConclusion = *edits.IsConclusion
	}
}

func submission(v Validation) core.Submission {
	sub := core.Submission{LotNumber: v.LotNumber}
	if c := strings.TrimSpace(v.Conclusion); c != "" {
		sub.Conclusion = &c
	}
	isConclusion := v.IsConclusion
	sub.IsConclusion = &isConclusion
	return sub
}
