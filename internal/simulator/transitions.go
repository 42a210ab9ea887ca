package simulator

import (
	"math"
	"strings"
	"time"

	"github.com/sebastiankruger/factory-twin/internal/core"
)

// The functions in this file are the engine's state transitions. They take
// a state and an input and return the next state without side effects; the
// Engine owns scheduling, locking and collaborator calls.

// StartRun enters Running with a fresh sequence
func StartRun(s State, steps []core.MachineStep, runID string, now time.Time) State {
	next := s
	next.Steps = make([]core.MachineStep, len(steps))
	copy(next.Steps, steps)
	next.Result = nil
	next.Mode = ModeRunning
	next.ActiveStepID = ""
	next.ElapsedSeconds = 0
	next.StepProgress = 0
	next.RunID = runID
	next.StartedAt = now
	return next
}

// ClearIdle is the safe idle sub-state used when a scripted sequence cannot
// be played (empty or zero total duration)
func ClearIdle(s State) State {
	next := s
	next.Mode = ModeIdle
	next.ActiveStepID = ""
	next.StepProgress = 0
	next.ElapsedSeconds = 0
	return next
}

// ScriptedTick advances a scripted run to elapsed seconds since start. The
// second return value reports the terminal transition: elapsed reached the
// total duration, the last step is active with progress 1.
func ScriptedTick(s State, elapsed float64) (State, bool) {
	total := s.TotalDuration()
	if len(s.Steps) == 0 || total <= 0 {
		return ClearIdle(s), false
	}
	if elapsed < 0 {
		elapsed = 0
	}

	next := s
	if elapsed >= total {
		next.ActiveStepID = s.Steps[len(s.Steps)-1].ID
		next.StepProgress = 1
		next.ElapsedSeconds = total
		return next, true
	}

	next.ElapsedSeconds = elapsed
	cycle := math.Mod(elapsed, total)

	var start float64
	for _, step := range s.Steps {
		end := start + step.Duration
		if end > cycle {
			next.ActiveStepID = step.ID
			next.StepProgress = clamp01((cycle - start) / step.Duration)
			return next, false
		}
		start = end
	}

	// Unreachable for positive durations; keep the last step active.
	last := s.Steps[len(s.Steps)-1]
	next.ActiveStepID = last.ID
	next.StepProgress = 1
	return next, false
}

// RealtimeElapsed updates the cosmetic clock of a realtime run
func RealtimeElapsed(s State, elapsed float64) State {
	next := s
	if elapsed < 0 {
		elapsed = 0
	}
	next.ElapsedSeconds = elapsed
	return next
}

// ApplyRecord applies a polled production record to a realtime run. A
// finished record produces the result and returns the engine to Idle; the
// second return value reports that terminal transition.
func ApplyRecord(s State, rec core.ProductionRecord, fallbackLot string, now time.Time) (State, bool) {
	next := s
	if rec.Status == core.RunStatusFinish {
		next.Result = BuildRunResult(rec, fallbackLot, now)
		next.Mode = ModeIdle
		next.ActiveStepID = ""
		next.StepProgress = 0
		next.ElapsedSeconds = 0
		return next, true
	}

	next.ActiveStepID = MatchStep(s.Steps, rec.ActiveMachineID)
	if next.ActiveStepID != "" {
		next.StepProgress = 1
	} else {
		next.StepProgress = 0
	}
	return next, false
}

// PollFailed is a transient "no signal" tick
func PollFailed(s State) State {
	next := s
	next.ActiveStepID = ""
	next.StepProgress = 0
	return next
}

// Stop returns to Idle, clearing the result unless preserveResult is set
func Stop(s State, preserveResult bool) State {
	next := ClearIdle(s)
	if !preserveResult {
		next.Result = nil
	}
	return next
}

// MatchStep maps a backend machine id onto a loaded step id: exact step id,
// then base id (first occurrence), then case-insensitive on either. Returns
// "" when nothing matches.
func MatchStep(steps []core.MachineStep, machineID string) string {
	id := strings.TrimSpace(machineID)
	if id == "" {
		return ""
	}
	for _, step := range steps {
		if step.ID == id {
			return step.ID
		}
	}
	for _, step := range steps {
		if step.BaseID == id {
			return step.ID
		}
	}
	for _, step := range steps {
		if strings.EqualFold(step.ID, id) || strings.EqualFold(step.BaseID, id) {
			return step.ID
		}
	}
	return ""
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
