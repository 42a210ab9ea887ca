package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/factory-twin/internal/config"
	"github.com/sebastiankruger/factory-twin/internal/dashboard"
	"github.com/sebastiankruger/factory-twin/internal/review"
	"github.com/sebastiankruger/factory-twin/internal/scene"
	"github.com/sebastiankruger/factory-twin/internal/sensor"
	"github.com/sebastiankruger/factory-twin/internal/simulator"
)

// Handler handles REST API requests for the twin
type Handler struct {
	simulatorName string

	engine   *simulator.Engine
	session  *dashboard.Session
	runtime  *config.RuntimeConfig
	review   *review.Workflow
	readings *sensor.Buffer
	tracker  *scene.Tracker

	// requestTimeout bounds backend calls made on behalf of a request
	requestTimeout time.Duration
}

// Deps are the components served by the API
type Deps struct {
	Engine   *simulator.Engine
	Session  *dashboard.Session
	Runtime  *config.RuntimeConfig
	Review   *review.Workflow
	Readings *sensor.Buffer
	Tracker  *scene.Tracker
}

// NewHandler creates an API handler
func NewHandler(name string, deps Deps, requestTimeout time.Duration) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Handler{
		simulatorName:  name,
		engine:         deps.Engine,
		session:        deps.Session,
		runtime:        deps.Runtime,
		review:         deps.Review,
		readings:       deps.Readings,
		tracker:        deps.Tracker,
		requestTimeout: requestTimeout,
	}
}

// RegisterRoutes adds every API route to mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.HandleStatus)
	mux.HandleFunc("/api/products", h.HandleProducts)
	mux.HandleFunc("/api/products/select", h.post(h.handleSelectProduct))
	mux.HandleFunc("/api/configuration", h.post(h.handleConfiguration))
	mux.HandleFunc("/api/simulation/start", h.post(h.handleStart))
	mux.HandleFunc("/api/simulation/stop", h.post(h.handleStop))
	mux.HandleFunc("/api/simulation/variant", h.post(h.handleVariant))
	mux.HandleFunc("/api/review", h.HandleReview)
	mux.HandleFunc("/api/review/validate", h.post(h.handleValidate))
	mux.HandleFunc("/api/review/confirm", h.post(h.handleConfirm))
	mux.HandleFunc("/api/review/reject", h.post(h.handleReject))
	mux.HandleFunc("/api/tooltips", h.HandleTooltips)
	mux.HandleFunc("/api/readings", h.HandleReadings)
}

// HandleStatus handles GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		SimulatorName: h.simulatorName,
		Engine:        h.engine.Snapshot(),
		Session:       h.session.Status(),
	}
	if h.runtime != nil {
		resp.LotNumber = h.runtime.LotNumber()
	}

	h.writeJSON(w, resp)
}

// HandleProducts handles GET /api/products
func (h *Handler) HandleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.session.Status()
	h.writeJSON(w, ProductsResponse{
		Products: h.session.Products(),
		Selected: status.ProductID,
		Sequence: h.session.Sequence(),
	})
}

func (h *Handler) handleSelectProduct(w http.ResponseWriter, r *http.Request) {
	var req SelectProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.ProductID == "" {
		h.session.Clear()
		h.writeJSON(w, h.session.Status())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	// A failed load still leaves the session usable with the default
	// sequence, so the error goes into the status instead of the code.
	if err := h.session.SelectProduct(ctx, req.ProductID); err != nil {
		log.Debug().Err(err).Str("productId", req.ProductID).Msg("Product selection fell back")
	}
	h.writeJSON(w, h.session.Status())
}

func (h *Handler) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	var req ConfigurationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.LotNumber == "" {
		h.writeError(w, http.StatusBadRequest, "lotNumber is required")
		return
	}

	h.session.SubmitConfiguration(req.LotNumber, req.Values)
	h.writeJSON(w, h.runtime.Snapshot())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StartSimulation(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, simulator.ErrEmptySequence) {
			status = http.StatusConflict
		}
		h.writeError(w, status, err.Error())
		return
	}
	h.writeJSON(w, h.engine.Snapshot())
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	h.session.Stop(req.PreserveResult)
	h.writeJSON(w, h.engine.Snapshot())
}

func (h *Handler) handleVariant(w http.ResponseWriter, r *http.Request) {
	var req VariantRequest
	if !h.decode(w, r, &req) {
		return
	}

	variant, ok := simulator.ParseVariant(req.Variant)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unknown variant: "+req.Variant)
		return
	}

	applied := h.engine.SetVariant(variant)
	h.writeJSON(w, VariantResponse{Applied: applied, Engine: h.engine.Snapshot()})
}

// HandleReview handles GET /api/review
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, h.review.State())
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if err := h.review.Validate(); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, h.review.State())
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	err := h.review.Confirm(ctx, review.Edits{
		LotNumber:    req.LotNumber,
		Conclusion:   req.Conclusion,
		IsConclusion: req.IsConclusion,
	})
	switch {
	case errors.Is(err, review.ErrNotInValidation), errors.Is(err, review.ErrSubmitting):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.writeJSON(w, h.review.State())
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := h.review.Reject(); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, h.review.State())
}

// HandleTooltips handles GET /api/tooltips
func (h *Handler) HandleTooltips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tooltips := h.tracker.Tooltips(h.readings.Latest())
	if tooltips == nil {
		tooltips = []scene.Tooltip{}
	}
	h.writeJSON(w, TooltipsResponse{Tooltips: tooltips})
}

// HandleReadings handles GET /api/readings
func (h *Handler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, ReadingsResponse{Readings: h.readings.Readings()})
}

// post wraps a handler with the CORS preflight and POST method check
func (h *Handler) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
