package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/rca-console/internal/domain"
	"github.com/ashureev/rca-console/internal/intake"
	"github.com/ashureev/rca-console/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

type stubTrigger struct {
	id  string
	err error

	mu     sync.Mutex
	groups []domain.AlertGroup
}

func (s *stubTrigger) Start(_ context.Context, group domain.AlertGroup) (string, error) {
	s.mu.Lock()
	s.groups = append(s.groups, group)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.id, nil
}

// stubChannel replays frames then closes normally.
type stubChannel struct {
	frames chan []byte
}

func newStubChannel(frames ...string) *stubChannel {
	c := &stubChannel{frames: make(chan []byte, len(frames))}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	close(c.frames)
	return c
}

// newIdleChannel never delivers a frame.
func newIdleChannel() *stubChannel {
	return &stubChannel{frames: make(chan []byte)}
}

func (c *stubChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, websocket.CloseError{Code: websocket.StatusNormalClosure}
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *stubChannel) Close() error { return nil }

type testEnv struct {
	router  chi.Router
	alerts  *intake.Store
	trigger *stubTrigger
}

func newTestEnv(t *testing.T, ch session.Channel) *testEnv {
	t.Helper()
	alerts := intake.NewStore()
	trigger := &stubTrigger{id: "ws-1"}
	registry := session.NewRegistry(session.Config{
		BackendURL: "http://backend:8000",
		Trigger:    trigger,
		Dial: func(context.Context, string) (session.Channel, error) {
			return ch, nil
		},
	})
	t.Cleanup(registry.Shutdown)

	r := chi.NewRouter()
	NewWebhookHandler(alerts, nil, nil).RegisterRoutes(r)
	NewInvestigationHandler(registry, alerts, nil, nil).RegisterRoutes(r)
	return &testEnv{router: r, alerts: alerts, trigger: trigger}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

const firingHighCPU = `{"alerts":[{"status":"firing","labels":{"alertname":"HighCPU","severity":"critical","service":"billing"},"annotations":{"summary":"s","description":"d"}}]}`

func TestInvestigations_EndToEnd(t *testing.T) {
	env := newTestEnv(t, newIdleChannel())

	if w := env.do(http.MethodPost, "/alerts/webhook", firingHighCPU); w.Code != http.StatusOK {
		t.Fatalf("Webhook POST failed: %d", w.Code)
	}

	w := env.do(http.MethodGet, "/alerts/webhook", "")
	var listed []domain.Alert
	if err := json.NewDecoder(w.Body).Decode(&listed); err != nil {
		t.Fatalf("Failed to decode alert list: %v", err)
	}
	if len(listed) != 1 || listed[0].Name() != "HighCPU" || listed[0].ReceivedAt.IsZero() {
		t.Fatalf("Unexpected buffered alerts: %+v", listed)
	}

	w = env.do(http.MethodPost, "/api/investigations", `{"alertname":"HighCPU"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var view session.View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode session view: %v", err)
	}
	if view.State != session.StateConnected || view.ID != "ws-1" {
		t.Errorf("Unexpected session view %+v", view)
	}

	env.trigger.mu.Lock()
	defer env.trigger.mu.Unlock()
	if len(env.trigger.groups) != 1 {
		t.Fatalf("Expected 1 trigger call, got %d", len(env.trigger.groups))
	}
	group := env.trigger.groups[0]
	if group.GroupKey != `{}:{alertname="HighCPU"}` {
		t.Errorf("Unexpected groupKey %q", group.GroupKey)
	}
	want := map[string]string{"alertname": "HighCPU", "severity": "critical", "service": "billing"}
	for k, v := range want {
		if group.CommonLabels[k] != v {
			t.Errorf("commonLabels[%q] = %q, want %q", k, group.CommonLabels[k], v)
		}
	}
}

func TestInvestigations_StartValidation(t *testing.T) {
	env := newTestEnv(t, newIdleChannel())

	if w := env.do(http.MethodPost, "/api/investigations", `garbage`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/investigations", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing alertname, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/investigations", `{"alertname":"Unknown"}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unbuffered alert, got %d", w.Code)
	}
}

func TestInvestigations_SecondStartConflicts(t *testing.T) {
	env := newTestEnv(t, newIdleChannel())
	env.do(http.MethodPost, "/alerts/webhook", firingHighCPU)

	if w := env.do(http.MethodPost, "/api/investigations", `{"alertname":"HighCPU"}`); w.Code != http.StatusCreated {
		t.Fatalf("First start failed: %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/investigations", `{"alertname":"HighCPU"}`); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while session is live, got %d", w.Code)
	}
}

func TestInvestigations_TriggerFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, newIdleChannel())
	env.trigger.err = session.ErrRemoteRejected
	env.do(http.MethodPost, "/alerts/webhook", firingHighCPU)

	if w := env.do(http.MethodPost, "/api/investigations", `{"alertname":"HighCPU"}`); w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for rejected trigger, got %d", w.Code)
	}
}

func TestInvestigations_GetDetail(t *testing.T) {
	graphDoc, _ := json.Marshal(`{"services":[{"current":{"name":"billing","k8s":{"namespace":"prod","owner_kind":"Deployment","owner_name":"billing","owner_uid":"a"}},"upstream":[],"downstream":[]}]}`)
	env := newTestEnv(t, newStubChannel(
		`{"type":"status","agent":null,"data":"Starting root cause analysis"}`,
		`{"type":"tool_call","agent":"k8s","data":{"function_name":"get_pods"}}`,
		`{"type":"tool_output","agent":"k8s","data":"2 pods"}`,
		`{"type":"message_output","agent":"neo4j","data":`+string(graphDoc)+`}`,
	))
	env.do(http.MethodPost, "/alerts/webhook", firingHighCPU)

	w := env.do(http.MethodPost, "/api/investigations", `{"alertname":"HighCPU"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Start failed: %d", w.Code)
	}
	var view session.View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode view: %v", err)
	}

	// Wait for the channel to drain and the session to close.
	deadline := time.Now().Add(2 * time.Second)
	var detail investigationDetail
	for time.Now().Before(deadline) {
		w = env.do(http.MethodGet, "/api/investigations/"+view.Identity, "")
		if w.Code != http.StatusOK {
			t.Fatalf("Get failed: %d", w.Code)
		}
		if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
			t.Fatalf("Failed to decode detail: %v", err)
		}
		if detail.Session.State == session.StateClosed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if detail.Session.State != session.StateClosed {
		t.Fatalf("Session never closed, state %q", detail.Session.State)
	}
	if len(detail.Narrative) != 2 {
		t.Errorf("Expected 2 narrative entries, got %d", len(detail.Narrative))
	}
	if len(detail.ToolCalls) != 1 || detail.ToolCalls[0].Output != "2 pods" {
		t.Errorf("Expected paired tool call, got %+v", detail.ToolCalls)
	}
	if detail.Graph == nil || len(detail.Graph.Services) != 1 || detail.Graph.Services[0].Current.Name != "billing" {
		t.Errorf("Expected graph snapshot, got %+v", detail.Graph)
	}
}

func TestInvestigations_TerminateIdempotent(t *testing.T) {
	env := newTestEnv(t, newIdleChannel())
	env.do(http.MethodPost, "/alerts/webhook", firingHighCPU)

	w := env.do(http.MethodPost, "/api/investigations", `{"alertname":"HighCPU"}`)
	var view session.View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode view: %v", err)
	}

	if w := env.do(http.MethodDelete, "/api/investigations/"+view.Identity, ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w := env.do(http.MethodDelete, "/api/investigations/"+view.Identity, ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on repeat terminate, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/investigations/"+view.Identity, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after terminate, got %d", w.Code)
	}
}

func TestInvestigations_HistoryWithoutArchive(t *testing.T) {
	env := newTestEnv(t, newIdleChannel())

	w := env.do(http.MethodGet, "/api/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("Expected empty array, got %q", body)
	}
}
