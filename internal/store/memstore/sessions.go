package memstore

import (
	"context"
	"sync"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

type sessionRow struct {
	ses domain.Session
}

// SessionRepo is the in-memory SessionRepository.
type SessionRepo struct {
	mu    sync.RWMutex
	items map[string]*sessionRow
}

var _ ports.SessionRepository = (*SessionRepo)(nil)

func (r *SessionRepo) Create(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[session.ID]; exists {
		return nil
	}
	cp := *session
	r.items[session.ID] = &sessionRow{ses: cp}
	return nil
}

func (r *SessionRepo) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.items[sessionID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := row.ses
	return &cp, nil
}

func (r *SessionRepo) UpdateStatus(_ context.Context, sessionID string, status domain.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.items[sessionID]
	if !ok {
		return ports.ErrNotFound
	}
	row.ses.Status = status
	return nil
}

func (r *SessionRepo) GetActiveByContext(_ context.Context, contextType domain.ContextType, contextID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.items {
		if row.ses.ContextType == contextType && row.ses.ContextID == contextID && row.ses.Status == domain.SessionActive {
			cp := row.ses
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}
