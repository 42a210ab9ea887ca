package api

import (
	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/dashboard"
	"github.com/sebastiankruger/factory-twin/internal/scene"
	"github.com/sebastiankruger/factory-twin/internal/simulator"
)

// StatusResponse is the response for GET /api/status
type StatusResponse struct {
	SimulatorName string             `json:"simulatorName"`
	Engine        simulator.Snapshot `json:"engine"`
	Session       dashboard.Status   `json:"session"`
	LotNumber     string             `json:"lotNumber,omitempty"`
}

// ProductsResponse is the response for GET /api/products
type ProductsResponse struct {
	Products []catalog.ProductFlowDefinition `json:"products"`
	Selected string                          `json:"selected,omitempty"`
	Sequence []core.MachineStep              `json:"sequence"`
}

// SelectProductRequest is the body for POST /api/products/select.
// An empty ProductID clears the selection.
type SelectProductRequest struct {
	ProductID string `json:"productId"`
}

// ConfigurationRequest is the body for POST /api/configuration
type ConfigurationRequest struct {
	LotNumber string            `json:"lotNumber"`
	Values    map[string]string `json:"values"`
}

// StopRequest is the body for POST /api/simulation/stop
type StopRequest struct {
	PreserveResult bool `json:"preserveResult"`
}

// VariantRequest is the body for POST /api/simulation/variant
type VariantRequest struct {
	Variant string `json:"variant"`
}

// VariantResponse reports whether a variant change was applied at once or
// deferred until the running simulation ends
type VariantResponse struct {
	Applied bool               `json:"applied"`
	Engine  simulator.Snapshot `json:"engine"`
}

// ConfirmRequest is the body for POST /api/review/confirm. Nil fields keep
// the values pre-filled from the report.
type ConfirmRequest struct {
	LotNumber    *string `json:"lotNumber,omitempty"`
	Conclusion   *string `json:"conclusion,omitempty"`
	IsConclusion *bool   `json:"isConclusion,omitempty"`
}

// TooltipsResponse is the response for GET /api/tooltips
type TooltipsResponse struct {
	Tooltips []scene.Tooltip `json:"tooltips"`
}

// ReadingsResponse is the response for GET /api/readings
type ReadingsResponse struct {
	Readings []core.SensorReading `json:"readings"`
}

// ErrorResponse is written for rejected requests
type ErrorResponse struct {
	Error string `json:"error"`
}
