// Package pgstore provides PostgreSQL repositories over pgx/v5. Artifact
// payloads are stored as JSONB; EnsureSchema creates everything the store
// needs.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Store bundles the Postgres repositories over one connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger

	Workflows     *WorkflowRepo
	Artifacts     *ArtifactRepo
	Conversations *ConversationRepo
	Pulses        *PulseRepo
	Sessions      *SessionRepo
}

// New connects to Postgres and prepares the repository set.
func New(ctx context.Context, dsn string, logger logging.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool, logger: logging.OrNop(logger)}
	s.Workflows = &WorkflowRepo{pool: pool}
	s.Artifacts = &ArtifactRepo{pool: pool}
	s.Conversations = &ConversationRepo{pool: pool}
	s.Pulses = &PulseRepo{pool: pool}
	s.Sessions = &SessionRepo{pool: pool}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Repositories adapts the store to the ports bundle.
func (s *Store) Repositories() ports.Repositories {
	return ports.Repositories{
		Workflows:     s.Workflows,
		Artifacts:     s.Artifacts,
		Conversations: s.Conversations,
		Pulses:        s.Pulses,
		Sessions:      s.Sessions,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		current_session_id TEXT NOT NULL DEFAULT '',
		awaiting_approval BOOLEAN NOT NULL DEFAULT FALSE,
		pending_artifact_type TEXT NOT NULL DEFAULT 'none',
		skipped_stages JSONB NOT NULL DEFAULT '[]',
		base_branch TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scope_cards (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS research_cards (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS review_cards (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS review_comments (
		id TEXT PRIMARY KEY,
		review_card_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_index INT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		hidden BOOLEAN NOT NULL DEFAULT FALSE,
		input_tokens INT NOT NULL DEFAULT 0,
		output_tokens INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, turn_index)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		message_index INT NOT NULL,
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thoughts (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		thought_index INT NOT NULL,
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tool_calls (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		tool_index INT NOT NULL,
		tool_name TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		input JSONB NOT NULL DEFAULT '{}',
		output TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS pulses (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		planned_pulse_id TEXT NOT NULL,
		planned_index INT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		depends_on JSONB NOT NULL DEFAULT '[]',
		commit_message TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		has_unresolved_issues BOOLEAN NOT NULL DEFAULT FALSE,
		is_recovery_checkpoint BOOLEAN NOT NULL DEFAULT FALSE,
		rejection_count INT NOT NULL DEFAULT 0,
		worktree_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS preflight_setups (
		workflow_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS baselines (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		issue_type TEXT NOT NULL,
		source TEXT NOT NULL,
		pattern TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		context_type TEXT NOT NULL,
		context_id TEXT NOT NULL,
		agent_role TEXT NOT NULL,
		status TEXT NOT NULL,
		pulse_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_context ON sessions (context_type, context_id, status)`,
}

// EnsureSchema creates the store's tables and indexes when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.logger.Info("postgres schema ensured")
	return nil
}
