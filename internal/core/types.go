package core

import (
	"time"
)

// MachineStep is one simulatable station in a production sequence
type MachineStep struct {
	ID             string  `json:"id"`
	BaseID         string  `json:"baseId"`
	Name           string  `json:"name"`
	ModelReference string  `json:"modelReference"`
	Duration       float64 `json:"duration"` // seconds
	Occurrence     int     `json:"occurrence"`
}

// StepOverrides holds optional replacements applied by CloneStep
type StepOverrides struct {
	Name     *string
	Duration *float64
}

// CloneStep returns a copy of step with the given overrides applied.
// The original step is never modified.
func CloneStep(step MachineStep, overrides StepOverrides) MachineStep {
	clone := step
	if overrides.Name != nil {
		clone.Name = *overrides.Name
	}
	if overrides.Duration != nil {
		clone.Duration = *overrides.Duration
	}
	return clone
}

// TotalDuration returns the sum of all step durations in seconds
func TotalDuration(steps []MachineStep) float64 {
	var total float64
	for _, s := range steps {
		total += s.Duration
	}
	return total
}

// RunStatus is the status reported by the production backend for a lot
type RunStatus string

const (
	RunStatusProcess RunStatus = "process"
	RunStatusFinish  RunStatus = "finish"
)

// DefaultConclusion is used when a finished record carries no usable conclusion
const DefaultConclusion = "Simulation finished. No conclusion provided."

// ProductionRecord is the raw record returned by the current-production
// and scripted-result sources. Loosely typed fields are coerced when a
// RunResult is built from it.
type ProductionRecord struct {
	Lot             string                 `json:"lot,omitempty"`
	Status          RunStatus              `json:"status"`
	ActiveMachineID string                 `json:"activeMachineId,omitempty"`
	Averages        map[string]interface{} `json:"averages,omitempty"`
	OperationHour   interface{}            `json:"operationHour,omitempty"`
	GoodProduct     interface{}            `json:"goodProduct,omitempty"`
	DefectProduct   interface{}            `json:"defectProduct,omitempty"`
	Conclusion      interface{}            `json:"conclusion,omitempty"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

// RunResult summarises a finished run
type RunResult struct {
	LotNumber     string                 `json:"lotNumber"`
	Status        RunStatus              `json:"status"`
	Averages      map[string]interface{} `json:"averages"`
	OperationHour *string                `json:"operationHour"`
	GoodProduct   *int                   `json:"goodProduct"`
	DefectProduct *int                   `json:"defectProduct"`
	Conclusion    string                 `json:"conclusion"`
	Timestamp     *time.Time             `json:"timestamp,omitempty"`
}

// Clone returns a deep copy of the result so readers can't alias engine state
func (r *RunResult) Clone() *RunResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Averages != nil {
		c.Averages = make(map[string]interface{}, len(r.Averages))
		for k, v := range r.Averages {
			c.Averages[k] = v
		}
	}
	if r.OperationHour != nil {
		v := *r.OperationHour
		c.OperationHour = &v
	}
	if r.GoodProduct != nil {
		v := *r.GoodProduct
		c.GoodProduct = &v
	}
	if r.DefectProduct != nil {
		v := *r.DefectProduct
		c.DefectProduct = &v
	}
	if r.Timestamp != nil {
		v := *r.Timestamp
		c.Timestamp = &v
	}
	return &c
}

// SensorReading is one event from the live sensor stream
type SensorReading struct {
	Time        time.Time `json:"time"`
	MachineName string    `json:"machineName"`
	SensorName  string    `json:"sensorName"`
	Value       float64   `json:"value"`
}

// Submission is sent to the result persistence sink when a result is confirmed
type Submission struct {
	LotNumber    string  `json:"lotNumber"`
	Conclusion   *string `json:"conclusion,omitempty"`
	IsConclusion *bool   `json:"isConclusion,omitempty"`
}
