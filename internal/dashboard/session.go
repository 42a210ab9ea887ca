// Package dashboard holds the operator session: which product is selected,
// the sequence resolved for it and the status banner shown next to the
// controls.
package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/config"
	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/flow"
	"github.com/sebastiankruger/factory-twin/internal/registry"
)

// StatusFallback is shown when the selected product cannot be played and the
// default registry sequence is used instead
const StatusFallback = "flow unavailable, using default sequence"

// FlowSource loads the product flow catalog
type FlowSource interface {
	LoadFlows(ctx context.Context) ([]catalog.ProductFlowDefinition, error)
}

// Runner starts and stops simulation runs
type Runner interface {
	Start(steps []core.MachineStep) error
	Stop(preserveResult bool)
}

// Status is the session as shown to the operator
type Status struct {
	ProductID string `json:"productId,omitempty"`
	Message   string `json:"message,omitempty"`
	Steps     int    `json:"steps"`
	Fallback  bool   `json:"fallback"`
}

// Session coordinates product selection and simulation start
type Session struct {
	mu sync.Mutex

	flows    FlowSource
	registry *registry.Registry
	runtime  *config.RuntimeConfig
	engine   Runner

	// generation is bumped by every selection, Clear, start and stop. A flow load
	// that returns under an older generation is dropped.
	generation uint64
	productID  string
	products   []catalog.ProductFlowDefinition
	sequence   []core.MachineStep
	fallback   bool
	message    string
}

// NewSession creates a session with no product selected
func NewSession(flows FlowSource, reg *registry.Registry, runtime *config.RuntimeConfig, engine Runner) *Session {
	return &Session{
		flows:    flows,
		registry: reg,
		runtime:  runtime,
		engine:   engine,
	}
}

// SelectProduct loads the flow catalog and resolves productID against the
// registry. A superseded load is discarded without error.
func (s *Session) SelectProduct(ctx context.Context, productID string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.productID = productID
	s.sequence = nil
	s.fallback = false
	s.message = ""
	s.mu.Unlock()

	defs, err := s.flows.LoadFlows(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil
	}

	if err != nil {
		s.fallback = true
		s.message = StatusFallback
		log.Warn().Err(err).Str("productId", productID).Msg("Failed to load product flows")
		return fmt.Errorf("failed to load flows for %s: %w", productID, err)
	}

	s.products = defs
	s.resolveLocked()
	return nil
}

// Clear deselects the product and drops any pending flow load
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.productID = ""
	s.sequence = nil
	s.fallback = false
	s.message = ""
}

// SubmitConfiguration records the production configuration and re-resolves
// the selected product, since flow conditions may depend on its values
func (s *Session) SubmitConfiguration(lotNumber string, values map[string]string) {
	s.runtime.Submit(lotNumber, values)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.productID != "" && s.products != nil {
		s.resolveLocked()
	}

	log.Info().Str("lot", s.runtime.LotNumber()).Int("values", len(values)).Msg("Production configuration submitted")
}

// StartSimulation starts the engine with the resolved sequence, or with the
// default registry sequence when none is available
func (s *Session) StartSimulation() error {
	s.mu.Lock()
	s.generation++
	steps := s.sequence
	if len(steps) == 0 {
		steps = s.registry.Steps()
		if s.productID != "" {
			s.fallback = true
			s.message = StatusFallback
		}
	}
	s.mu.Unlock()

	return s.engine.Start(steps)
}

// Stop stops the engine. A flow load still in flight is dropped, the same
// as when another product is selected.
func (s *Session) Stop(preserveResult bool) {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()

	s.engine.Stop(preserveResult)
}

// Status returns the current banner state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ProductID: s.productID,
		Message:   s.message,
		Steps:     len(s.sequence),
		Fallback:  s.fallback,
	}
}

// Sequence returns a copy of the resolved sequence
func (s *Session) Sequence() []core.MachineStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.MachineStep, len(s.sequence))
	copy(out, s.sequence)
	return out
}

// Products returns the product flows from the last successful load
func (s *Session) Products() []catalog.ProductFlowDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.ProductFlowDefinition, len(s.products))
	copy(out, s.products)
	return out
}

func (s *Session) resolveLocked() {
	def, ok := catalog.FindFlow(s.products, s.productID)
	if !ok {
		s.sequence = nil
		s.fallback = true
		s.message = StatusFallback
		log.Warn().Str("productId", s.productID).Msg("Unknown product selected")
		return
	}

	res := flow.ResolveWithConfig(def, s.registry, s.runtime.Values())
	if !res.Usable() {
		s.sequence = nil
		s.fallback = true
		s.message = StatusFallback
		return
	}

	s.sequence = res.Steps
	s.fallback = false
	s.message = ""
	if n := len(res.Warnings); n > 0 {
		s.message = fmt.Sprintf("%d flow entries skipped", n)
	}
}
