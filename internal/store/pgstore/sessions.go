package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// SessionRepo is the Postgres SessionRepository.
type SessionRepo struct {
	pool *pgxpool.Pool
}

var _ ports.SessionRepository = (*SessionRepo)(nil)

func (r *SessionRepo) Create(ctx context.Context, session *domain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, context_type, context_id, agent_role, status, pulse_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		session.ID, session.ContextType, session.ContextID, session.AgentRole,
		session.Status, session.PulseID, session.CreatedAt)
	return err
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.ContextType, &s.ContextID, &s.AgentRole, &s.Status, &s.PulseID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepo) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `
		SELECT id, context_type, context_id, agent_role, status, pulse_id, created_at
		FROM sessions WHERE id = $1`, sessionID))
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET status = $2 WHERE id = $1`, sessionID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) GetActiveByContext(ctx context.Context, contextType domain.ContextType, contextID string) (*domain.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `
		SELECT id, context_type, context_id, agent_role, status, pulse_id, created_at
		FROM sessions WHERE context_type = $1 AND context_id = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1`, contextType, contextID, domain.SessionActive))
}
