package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/rca-console/internal/domain"
	"github.com/ashureev/rca-console/internal/intake"
	"github.com/ashureev/rca-console/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// WebhookHandler serves the alert ingestion boundary.
type WebhookHandler struct {
	alerts  *intake.Store
	archive store.Repository // optional
	logger  *slog.Logger
}

// NewWebhookHandler creates a webhook handler over the intake store.
func NewWebhookHandler(alerts *intake.Store, archive store.Repository, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{alerts: alerts, archive: archive, logger: logger}
}

// RegisterRoutes registers webhook routes.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Post("/webhook", h.Receive)
		r.Get("/webhook", h.List)
	})
}

// Receive accepts either an Alertmanager group payload or a single alert
// object. A malformed body yields a 400 with no partial effect on the
// buffer.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid request")
		return
	}

	batch, err := parseWebhook(body)
	if err != nil {
		h.logger.Warn("Rejected malformed webhook payload", "error", err)
		Error(w, http.StatusBadRequest, "Invalid request")
		return
	}

	stored := h.alerts.Append(batch)
	h.logger.Info("Received alert webhook", "count", len(stored))

	if h.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.archive.ArchiveAlerts(ctx, stored); err != nil {
			h.logger.Warn("Failed to archive alerts", "error", err)
		}
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// List returns the buffered alerts newest-first.
func (h *WebhookHandler) List(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.alerts.List())
}

func parseWebhook(body []byte) ([]domain.Alert, error) {
	var probe struct {
		Alerts json.RawMessage `json:"alerts"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}

	if len(probe.Alerts) > 0 && string(probe.Alerts) != "null" {
		var envelope struct {
			Alerts []domain.Alert `json:"alerts"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		return envelope.Alerts, nil
	}

	var single domain.Alert
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []domain.Alert{single}, nil
}
