package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/rca-console/internal/domain"
	"github.com/ashureev/rca-console/internal/intake"
	"github.com/ashureev/rca-console/internal/session"
	"github.com/ashureev/rca-console/internal/store"
	"github.com/ashureev/rca-console/internal/stream"
	"github.com/go-chi/chi/v5"
)

// InvestigationHandler serves the operator investigation API.
type InvestigationHandler struct {
	registry *session.Registry
	alerts   *intake.Store
	archive  store.Repository // optional
	logger   *slog.Logger
}

// NewInvestigationHandler creates the investigation API handler.
func NewInvestigationHandler(registry *session.Registry, alerts *intake.Store, archive store.Repository, logger *slog.Logger) *InvestigationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvestigationHandler{registry: registry, alerts: alerts, archive: archive, logger: logger}
}

// RegisterRoutes registers investigation routes.
func (h *InvestigationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/investigations", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)
		r.Get("/{identity}", h.Get)
		r.Delete("/{identity}", h.Terminate)
	})
	r.Get("/api/history", h.History)
}

type startRequest struct {
	Alertname string `json:"alertname"`
	Service   string `json:"service,omitempty"`
}

// Start triggers an investigation for the newest buffered alert matching
// the request.
func (h *InvestigationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Alertname == "" {
		Error(w, http.StatusBadRequest, "alertname is required")
		return
	}

	alert, ok := h.alerts.Find(req.Alertname, req.Service)
	if !ok {
		Error(w, http.StatusNotFound, "alert not found")
		return
	}

	sess, err := h.registry.Start(r.Context(), alert)
	switch {
	case errors.Is(err, session.ErrSessionLive):
		Error(w, http.StatusConflict, "investigation already running for alert")
	case err != nil:
		h.logger.Warn("Failed to start investigation", "alertname", req.Alertname, "error", err)
		Error(w, http.StatusBadGateway, err.Error())
	default:
		JSON(w, http.StatusCreated, sess.View())
	}
}

// List returns snapshots of all registered sessions, newest first.
func (h *InvestigationHandler) List(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.registry.List())
}

type investigationDetail struct {
	Session   session.View            `json:"session"`
	Narrative []stream.NarrativeEntry `json:"narrative"`
	ToolCalls []stream.ToolCallRecord `json:"tool_calls"`
	Graph     *stream.GraphSnapshot   `json:"graph,omitempty"`
}

// Get returns one session's full derived state.
func (h *InvestigationHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	sess, ok := h.registry.Get(identity)
	if !ok {
		Error(w, http.StatusNotFound, "no session for identity")
		return
	}

	agg := sess.Aggregator()
	detail := investigationDetail{
		Session:   sess.View(),
		Narrative: agg.Narrative(),
		ToolCalls: agg.ToolCalls(),
	}
	if snap, ok := agg.Graph(); ok {
		detail.Graph = &snap
	}
	JSON(w, http.StatusOK, detail)
}

// Terminate closes a session. Terminating an unknown or already finished
// identity is a no-op.
func (h *InvestigationHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	h.registry.Terminate(chi.URLParam(r, "identity"))
	w.WriteHeader(http.StatusNoContent)
}

// History returns archived investigations, newest first.
func (h *InvestigationHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		JSON(w, http.StatusOK, []*domain.InvestigationRecord{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.archive.ListInvestigations(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to load investigation history", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if records == nil {
		records = []*domain.InvestigationRecord{}
	}
	JSON(w, http.StatusOK, records)
}
