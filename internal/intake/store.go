// Package intake buffers alerts received from the monitoring webhook.
package intake

import (
	"sync"
	"time"

	"github.com/ashureev/rca-console/internal/domain"
)

// DefaultCapacity bounds the in-memory alert buffer.
const DefaultCapacity = 100

// Store is a bounded, newest-first buffer of recently received alerts.
// It is the only place alert data enters the session layer. Contents are
// volatile and reset on process restart.
type Store struct {
	mu       sync.RWMutex
	alerts   []domain.Alert
	capacity int
	now      func() time.Time
}

// NewStore creates an empty store with the default capacity.
func NewStore() *Store {
	return NewStoreWithCapacity(DefaultCapacity)
}

// NewStoreWithCapacity creates an empty store bounded at capacity.
// A non-positive capacity falls back to the default.
func NewStoreWithCapacity(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		now:      time.Now,
	}
}

// Append stamps each alert with a receipt time if absent, prepends the
// batch preserving its order, then truncates to capacity. It returns the
// batch as stored, with receipt times filled in.
func (s *Store) Append(batch []domain.Alert) []domain.Alert {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	received := s.now()
	stamped := make([]domain.Alert, 0, len(batch)+len(s.alerts))
	for _, a := range batch {
		if a.ReceivedAt.IsZero() {
			a.ReceivedAt = received
		}
		stamped = append(stamped, a)
	}

	s.alerts = append(stamped, s.alerts...)
	if len(s.alerts) > s.capacity {
		s.alerts = s.alerts[:s.capacity]
	}

	return stamped[:len(batch):len(batch)]
}

// List returns the current contents newest-first. The result is a copy;
// callers never observe later mutations.
func (s *Store) List() []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Find returns the newest buffered alert with the given alertname,
// restricted to the given service when it is non-empty.
func (s *Store) Find(alertname, service string) (domain.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.Name() != alertname {
			continue
		}
		if service != "" && a.Service() != service {
			continue
		}
		return a, true
	}
	return domain.Alert{}, false
}

// Len returns the number of buffered alerts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
