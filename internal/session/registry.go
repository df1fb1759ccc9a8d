package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/rca-console/internal/domain"
	"github.com/ashureev/rca-console/internal/store"
	"github.com/ashureev/rca-console/internal/stream"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Config holds registry dependencies. Trigger and Dial default to the
// HTTP and WebSocket implementations against BackendURL.
type Config struct {
	BackendURL string
	Trigger    Trigger
	Dial       Dialer
	Archive    store.Repository // optional
	Logger     *slog.Logger
}

// Registry owns investigation sessions: at most one live session per
// alert identity. Terminal sessions stay readable until terminated or
// replaced by a new trigger for the same identity.
type Registry struct {
	backendURL string
	trigger    Trigger
	dial       Dialer
	archive    store.Repository
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry from the given configuration.
func NewRegistry(cfg Config) *Registry {
	if cfg.Trigger == nil {
		cfg.Trigger = NewHTTPTrigger(cfg.BackendURL)
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		backendURL: cfg.BackendURL,
		trigger:    cfg.Trigger,
		dial:       cfg.Dial,
		archive:    cfg.Archive,
		logger:     cfg.Logger,
		sessions:   make(map[string]*Session),
	}
}

// Start triggers an investigation for the alert, opens its event channel,
// and registers the session before returning. A live session for the same
// identity rejects the call with ErrSessionLive.
func (r *Registry) Start(ctx context.Context, alert domain.Alert) (*Session, error) {
	identity := alert.Identity()

	sess := &Session{
		Identity:  identity,
		Alert:     alert,
		state:     StateStarting,
		startedAt: time.Now(),
		agg:       stream.NewAggregator(r.logger),
	}

	r.mu.Lock()
	if existing, ok := r.sessions[identity]; ok && existing.Live() {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionLive, identity)
	}
	r.sessions[identity] = sess
	r.mu.Unlock()

	id, err := r.trigger.Start(ctx, domain.NewAlertGroup(alert))
	if err != nil {
		r.release(identity, sess)
		return nil, err
	}

	ch, err := r.dial(ctx, ChannelURL(r.backendURL, id))
	if err != nil {
		r.release(identity, sess)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess.mu.Lock()
	if sess.state != StateStarting {
		// Terminate won the race while the trigger or dial was in flight:
		// the session is already terminal and unregistered, so the dialed
		// channel must be closed here instead of handed to a run task.
		sess.mu.Unlock()
		cancel()
		_ = ch.Close()
		return nil, fmt.Errorf("%w: %s", ErrSessionTerminated, identity)
	}
	sess.id = id
	sess.state = StateConnected
	sess.channel = ch
	sess.cancel = cancel
	sess.mu.Unlock()

	r.logger.Info("Investigation session connected", "identity", identity, "session_id", id)
	go r.run(runCtx, sess)
	return sess, nil
}

// run is the per-session task that owns the channel: it reads frames,
// decodes them, and applies events to the aggregator in arrival order
// until the channel closes or fails.
func (r *Registry) run(ctx context.Context, sess *Session) {
	for {
		frame, err := sess.channel.Read(ctx)
		if err != nil {
			r.finish(sess, err)
			return
		}

		ev, err := stream.Decode(frame)
		if err != nil {
			// One bad frame must not poison the rest of the session.
			r.logger.Warn("Dropping malformed event frame", "identity", sess.Identity, "error", err)
			continue
		}

		// Events already in flight when termination was requested are
		// dropped instead of mutating a dead session's state.
		if ctx.Err() != nil {
			return
		}
		sess.agg.Apply(ev)
	}
}

// finish transitions a session to its terminal state after a channel read
// error: a close frame means Closed (clean only for a normal closure), any
// other I/O error means Failed.
func (r *Registry) finish(sess *Session, cause error) {
	sess.mu.Lock()
	if sess.state == StateClosed || sess.state == StateFailed {
		sess.mu.Unlock()
		return
	}
	if status := websocket.CloseStatus(cause); status != -1 {
		sess.state = StateClosed
		sess.clean = status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
	} else {
		sess.state = StateFailed
	}
	sess.endedAt = time.Now()
	state, clean := sess.state, sess.clean
	ch := sess.channel
	sess.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	if state == StateFailed {
		r.logger.Warn("Investigation channel failed", "identity", sess.Identity, "error", cause)
	} else {
		r.logger.Info("Investigation channel closed", "identity", sess.Identity, "clean", clean)
	}
	r.archiveSession(sess)
}

// Terminate cancels a session and removes its registry entry. It is
// idempotent and safe to call for unknown identities.
func (r *Registry) Terminate(identity string) {
	r.mu.Lock()
	sess, ok := r.sessions[identity]
	if ok {
		delete(r.sessions, identity)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	live := sess.state == StateStarting || sess.state == StateConnected
	if live {
		// An operator-requested close counts as clean.
		sess.state = StateClosed
		sess.clean = true
		sess.endedAt = time.Now()
	}
	cancel := sess.cancel
	ch := sess.channel
	sess.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		_ = ch.Close()
	}
	if live {
		r.logger.Info("Investigation terminated", "identity", identity)
		r.archiveSession(sess)
	}
}

// Shutdown terminates every registered session.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	identities := make([]string, 0, len(r.sessions))
	for identity := range r.sessions {
		identities = append(identities, identity)
	}
	r.mu.RUnlock()

	for _, identity := range identities {
		r.Terminate(identity)
	}
}

// Get returns the session registered for the identity.
func (r *Registry) Get(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[identity]
	return sess, ok
}

// List returns snapshots of all registered sessions, newest first.
func (r *Registry) List() []View {
	r.mu.RLock()
	views := make([]View, 0, len(r.sessions))
	for _, sess := range r.sessions {
		views = append(views, sess.View())
	}
	r.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views
}

// release marks a session Failed and frees its slot after a trigger or
// dial failure, so the operator can retry.
func (r *Registry) release(identity string, sess *Session) {
	sess.mu.Lock()
	sess.state = StateFailed
	sess.endedAt = time.Now()
	sess.mu.Unlock()

	r.mu.Lock()
	if cur, ok := r.sessions[identity]; ok && cur == sess {
		delete(r.sessions, identity)
	}
	r.mu.Unlock()
}

// archiveSession records a finished session; archive failures are logged
// and otherwise ignored.
func (r *Registry) archiveSession(sess *Session) {
	if r.archive == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := sess.record(uuid.NewString())
	if err := r.archive.ArchiveInvestigation(ctx, rec); err != nil {
		r.logger.Warn("Failed to archive investigation", "identity", sess.Identity, "error", err)
	}
}
