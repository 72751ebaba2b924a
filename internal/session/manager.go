// Package session tracks the live agent sessions of the process. The
// persisted Session row is the durable record; ActiveSession adds the
// in-memory cancellation handle a running agent needs.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "autarch_active_sessions",
	Help: "Number of in-memory active agent sessions.",
})

// ActiveSession pairs a persisted session with its cancellation handle.
type ActiveSession struct {
	Session *domain.Session

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the session's lifetime context. Runners derive their work
// from it so stopSession aborts in-flight streaming.
func (s *ActiveSession) Context() context.Context { return s.ctx }

// Manager owns the in-memory session registry. Each context key maps to at
// most one active session.
type Manager struct {
	sessions ports.SessionRepository
	bus      *events.Bus
	logger   logging.Logger

	mu           sync.Mutex
	active       map[string]*ActiveSession // session ID -> active session
	contextIndex map[string]string         // context key -> session ID
}

// NewManager constructs an empty session manager.
func NewManager(sessions ports.SessionRepository, bus *events.Bus, logger logging.Logger) *Manager {
	return &Manager{
		sessions:     sessions,
		bus:          bus,
		logger:       logging.OrNop(logger),
		active:       make(map[string]*ActiveSession),
		contextIndex: make(map[string]string),
	}
}

// StartRequest describes the session to start.
type StartRequest struct {
	ContextType domain.ContextType
	ContextID   string
	AgentRole   domain.AgentRole
	PulseID     string
}

// StartSession creates and registers a new active session for a context. Any
// session already active on the same context is stopped first. Displacing the
// previous holder and claiming the context index happen in one critical
// section, so concurrent starts on the same context cannot both win.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*ActiveSession, error) {
	key := domain.ContextKey(req.ContextType, req.ContextID)

	sess := &domain.Session{
		ID:          domain.NewSessionID(),
		ContextType: req.ContextType,
		ContextID:   req.ContextID,
		AgentRole:   req.AgentRole,
		Status:      domain.SessionActive,
		PulseID:     req.PulseID,
		CreatedAt:   time.Now(),
	}
	// Persist before registering so a concurrent start that displaces this
	// session finds a row to mark completed.
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	active := &ActiveSession{Session: sess, ctx: sctx, cancel: cancel}

	m.mu.Lock()
	displaced := m.detachLocked(key)
	m.active[sess.ID] = active
	m.contextIndex[key] = sess.ID
	activeSessions.Set(float64(len(m.active)))
	m.mu.Unlock()

	if displaced != nil {
		if err := m.finalize(ctx, displaced, domain.SessionCompleted, ""); err != nil {
			m.logger.Warn("stopping displaced session %s: %v", displaced.Session.ID, err)
		}
	}

	m.bus.Broadcast(events.Event{
		Type: events.SessionStarted,
		Payload: map[string]any{
			"session_id":   sess.ID,
			"context_type": string(sess.ContextType),
			"context_id":   sess.ContextID,
			"agent_role":   string(sess.AgentRole),
		},
	})
	m.logger.Info("session %s started (%s %s, role=%s)", sess.ID, sess.ContextType, sess.ContextID, sess.AgentRole)
	return active, nil
}

func (m *Manager) register(sess *domain.Session) *ActiveSession {
	sctx, cancel := context.WithCancel(context.Background())
	active := &ActiveSession{Session: sess, ctx: sctx, cancel: cancel}

	m.mu.Lock()
	m.active[sess.ID] = active
	m.contextIndex[domain.ContextKey(sess.ContextType, sess.ContextID)] = sess.ID
	activeSessions.Set(float64(len(m.active)))
	m.mu.Unlock()
	return active
}

// detachLocked removes the session currently holding key from both maps and
// returns it for finalization. Caller holds m.mu.
func (m *Manager) detachLocked(key string) *ActiveSession {
	id, ok := m.contextIndex[key]
	if !ok {
		return nil
	}
	delete(m.contextIndex, key)
	active, ok := m.active[id]
	if !ok {
		return nil
	}
	delete(m.active, id)
	return active
}

// StopSession cancels and completes a session. Calling it on an unknown or
// already stopped session is a no-op.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	return m.stop(ctx, sessionID, domain.SessionCompleted, "")
}

// ErrorSession cancels a session and marks it errored.
func (m *Manager) ErrorSession(ctx context.Context, sessionID, reason string) error {
	return m.stop(ctx, sessionID, domain.SessionError, reason)
}

func (m *Manager) stop(ctx context.Context, sessionID string, status domain.SessionStatus, reason string) error {
	m.mu.Lock()
	active, ok := m.active[sessionID]
	if ok {
		delete(m.active, sessionID)
		key := domain.ContextKey(active.Session.ContextType, active.Session.ContextID)
		if m.contextIndex[key] == sessionID {
			delete(m.contextIndex, key)
		}
		activeSessions.Set(float64(len(m.active)))
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.finalize(ctx, active, status, reason)
}

// finalize cancels a session already removed from the registry, persists its
// terminal status, and broadcasts the lifecycle event.
func (m *Manager) finalize(ctx context.Context, active *ActiveSession, status domain.SessionStatus, reason string) error {
	sessionID := active.Session.ID
	active.cancel()
	if err := m.sessions.UpdateStatus(ctx, sessionID, status); err != nil {
		return fmt.Errorf("persist session status: %w", err)
	}

	eventType := events.SessionCompleted
	payload := map[string]any{"session_id": sessionID}
	if status == domain.SessionError {
		eventType = events.SessionError
		payload["error"] = reason
	}
	m.bus.Broadcast(events.Event{Type: eventType, Payload: payload})
	m.logger.Info("session %s stopped (%s)", sessionID, status)
	return nil
}

// GetOrRestoreSession returns the in-memory session, rehydrating a persisted
// active session with a fresh cancellation handle after a restart. Returns
// nil when the session is absent or no longer active.
func (m *Manager) GetOrRestoreSession(ctx context.Context, sessionID string) (*ActiveSession, error) {
	m.mu.Lock()
	if active, ok := m.active[sessionID]; ok {
		m.mu.Unlock()
		return active, nil
	}
	m.mu.Unlock()

	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Status != domain.SessionActive {
		return nil, nil
	}
	m.logger.Info("restoring session %s (%s %s)", sess.ID, sess.ContextType, sess.ContextID)
	return m.register(sess), nil
}

// GetSessionByContext returns the active session for a context, if any.
func (m *Manager) GetSessionByContext(contextType domain.ContextType, contextID string) *ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.contextIndex[domain.ContextKey(contextType, contextID)]
	if !ok {
		return nil
	}
	return m.active[id]
}

// Get returns the in-memory session by ID, if active.
func (m *Manager) Get(sessionID string) *ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[sessionID]
}

// HasActiveSession reports whether a context has an active session.
func (m *Manager) HasActiveSession(contextType domain.ContextType, contextID string) bool {
	return m.GetSessionByContext(contextType, contextID) != nil
}

// ActiveSessions returns a snapshot of the in-memory sessions.
func (m *Manager) ActiveSessions() []*ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ActiveSession, 0, len(m.active))
	for _, active := range m.active {
		out = append(out, active)
	}
	return out
}

// ActiveSessionCount reports the number of in-memory sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
