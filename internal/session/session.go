package session

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/rca-console/internal/domain"
	"github.com/ashureev/rca-console/internal/stream"
)

// State names a session's position in its lifecycle. Idle is the absence
// of a registry entry.
type State string

const (
	StateStarting  State = "starting"
	StateConnected State = "connected"
	StateClosed    State = "closed"
	StateFailed    State = "failed"
)

// Session is one live or finished investigation for one alert identity.
type Session struct {
	Identity string
	Alert    domain.Alert

	mu        sync.RWMutex
	id        string // remote handle returned by the trigger call
	state     State
	clean     bool
	startedAt time.Time
	endedAt   time.Time
	channel   Channel
	cancel    context.CancelFunc

	agg *stream.Aggregator
}

// ID returns the remote session handle, empty while Starting.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// State returns the current lifecycle state and, for Closed, whether the
// channel closed cleanly.
func (s *Session) State() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.clean
}

// Live reports whether the session still blocks a new trigger for its
// alert identity.
func (s *Session) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateStarting || s.state == StateConnected
}

// Aggregator exposes the session's derived state for read-only consumers.
func (s *Session) Aggregator() *stream.Aggregator {
	return s.agg
}

// View is a read-only snapshot of a session for the presentation layer.
type View struct {
	Identity  string     `json:"identity"`
	ID        string     `json:"id,omitempty"`
	Alertname string     `json:"alertname"`
	Service   string     `json:"service,omitempty"`
	State     State      `json:"state"`
	Clean     bool       `json:"clean"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Identity:  s.Identity,
		ID:        s.id,
		Alertname: s.Alert.Name(),
		Service:   s.Alert.Service(),
		State:     s.state,
		Clean:     s.clean,
		StartedAt: s.startedAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		v.EndedAt = &ended
	}
	return v
}

// record builds the archive record for a finished session.
func (s *Session) record(id string) *domain.InvestigationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &domain.InvestigationRecord{
		ID:        id,
		Identity:  s.Identity,
		Alertname: s.Alert.Name(),
		Service:   s.Alert.Service(),
		RemoteID:  s.id,
		State:     string(s.state),
		Clean:     s.clean,
		Messages:  len(s.agg.Narrative()),
		ToolCalls: len(s.agg.ToolCalls()),
		Report:    s.agg.Report(),
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
}
