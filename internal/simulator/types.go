package simulator

import (
	"time"

	"github.com/sebastiankruger/factory-twin/internal/core"
)

// Mode is whether a simulation is currently running
type Mode int

const (
	ModeIdle Mode = iota
	ModeRunning
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// Variant selects the timing model of a run
type Variant int

const (
	// VariantScripted plays the sequence once against local wall-clock time
	VariantScripted Variant = iota
	// VariantRealtime follows the production status reported by the backend
	VariantRealtime
)

func (v Variant) String() string {
	switch v {
	case VariantScripted:
		return "scripted"
	case VariantRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// ParseVariant parses "scripted" or "realtime"
func ParseVariant(s string) (Variant, bool) {
	switch s {
	case "scripted":
		return VariantScripted, true
	case "realtime":
		return VariantRealtime, true
	default:
		return VariantScripted, false
	}
}

// State is the engine's live simulation state
type State struct {
	Mode           Mode
	Variant        Variant
	ActiveStepID   string // empty = none
	ElapsedSeconds float64
	StepProgress   float64
	Steps          []core.MachineStep
	Result         *core.RunResult

	RunID     string
	StartedAt time.Time
}

// TotalDuration is the summed duration of the loaded steps in seconds
func (s State) TotalDuration() float64 {
	return core.TotalDuration(s.Steps)
}

// HasStep reports whether id is one of the loaded steps
func (s State) HasStep(id string) bool {
	for _, step := range s.Steps {
		if step.ID == id {
			return true
		}
	}
	return false
}

// Snapshot is a copy of the state safe to hand to readers
type Snapshot struct {
	Mode           string             `json:"mode"`
	Variant        string             `json:"variant"`
	PendingVariant string             `json:"pendingVariant,omitempty"`
	ActiveStepID   string             `json:"activeStepId,omitempty"`
	ElapsedSeconds float64            `json:"elapsedSeconds"`
	StepProgress   float64            `json:"stepProgress"`
	TotalDuration  float64            `json:"totalDuration"`
	Steps          []core.MachineStep `json:"steps"`
	Result         *core.RunResult    `json:"result,omitempty"`
	RunID          string             `json:"runId,omitempty"`
	StartedAt      *time.Time         `json:"startedAt,omitempty"`
}

func (s State) snapshot(pending *Variant) Snapshot {
	steps := make([]core.MachineStep, len(s.Steps))
	copy(steps, s.Steps)

	snap := Snapshot{
		Mode:           s.Mode.String(),
		Variant:        s.Variant.String(),
		ActiveStepID:   s.ActiveStepID,
		ElapsedSeconds: s.ElapsedSeconds,
		StepProgress:   s.StepProgress,
		TotalDuration:  s.TotalDuration(),
		Steps:          steps,
		Result:         s.Result.Clone(),
		RunID:          s.RunID,
	}
	if pending != nil {
		snap.PendingVariant = pending.String()
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		snap.StartedAt = &t
	}
	return snap
}

// StateChanged is published after every state mutation
type StateChanged struct {
	Snapshot Snapshot
}

// RunStarted is published when start() enters Running
type RunStarted struct {
	RunID   string
	Variant Variant
	Steps   int
}

// RunFinished is published once per run when the terminal transition
// produced a result
type RunFinished struct {
	RunID   string
	Variant Variant
	Result  *core.RunResult
}
