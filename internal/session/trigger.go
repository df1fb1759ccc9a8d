package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/rca-console/internal/domain"
)

var (
	// ErrRemoteRejected indicates the trigger call returned a non-success
	// status.
	ErrRemoteRejected = errors.New("rca backend rejected the investigation trigger")

	// ErrMissingHandle indicates the trigger response omitted a usable
	// session identifier.
	ErrMissingHandle = errors.New("rca backend response missing websocket_id")

	// ErrSessionLive indicates a Starting or Connected session already
	// holds the alert identity.
	ErrSessionLive = errors.New("investigation already running for alert")

	// ErrSessionTerminated indicates the session was terminated while its
	// trigger or dial was still in flight.
	ErrSessionTerminated = errors.New("investigation terminated before it connected")
)

// Trigger asks the RCA backend to start an investigation and returns the
// handle for its event channel.
type Trigger interface {
	Start(ctx context.Context, group domain.AlertGroup) (string, error)
}

// HTTPTrigger triggers investigations over the backend's HTTP API.
type HTTPTrigger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTrigger creates a trigger client for the given backend base URL.
func NewHTTPTrigger(baseURL string) *HTTPTrigger {
	return &HTTPTrigger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start POSTs the alert group to the backend trigger endpoint.
func (t *HTTPTrigger) Start(ctx context.Context, group domain.AlertGroup) (string, error) {
	payload, err := json.Marshal(group)
	if err != nil {
		return "", fmt.Errorf("marshal alert group: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/alerts", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger investigation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.StatusCode)
	}

	var body struct {
		WebsocketID string `json:"websocket_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingHandle, err)
	}
	if body.WebsocketID == "" {
		return "", ErrMissingHandle
	}
	return body.WebsocketID, nil
}
