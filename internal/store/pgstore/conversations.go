package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// ConversationRepo is the Postgres ConversationRepository.
type ConversationRepo struct {
	pool *pgxpool.Pool
}

var _ ports.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) CreateTurn(ctx context.Context, turn *domain.Turn) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO turns (id, session_id, turn_index, role, status, hidden,
			input_tokens, output_tokens, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		turn.ID, turn.SessionID, turn.TurnIndex, turn.Role, turn.Status, turn.Hidden,
		turn.InputTokens, turn.OutputTokens, turn.CreatedAt, turn.CompletedAt)
	return err
}

func (r *ConversationRepo) CompleteTurn(ctx context.Context, turnID string, inputTokens, outputTokens int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE turns SET status = $2, input_tokens = $3, output_tokens = $4, completed_at = $5
		WHERE id = $1`, turnID, domain.TurnCompleted, inputTokens, outputTokens, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) ErrorTurn(ctx context.Context, turnID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE turns SET status = $2, completed_at = $3 WHERE id = $1`,
		turnID, domain.TurnError, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) SaveMessage(ctx context.Context, msg *domain.Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (id, turn_id, message_index, content) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.TurnID, msg.MessageIndex, msg.Content)
	return err
}

func (r *ConversationRepo) SaveThought(ctx context.Context, thought *domain.Thought) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO thoughts (id, turn_id, thought_index, content) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		thought.ID, thought.TurnID, thought.ThoughtIndex, thought.Content)
	return err
}

func (r *ConversationRepo) RecordToolStart(ctx context.Context, rec *domain.ToolCallRecord) error {
	input, err := json.Marshal(rec.Input)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO tool_calls (id, turn_id, tool_index, tool_name, reason, input, output, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.TurnID, rec.ToolIndex, rec.ToolName, rec.Reason, input,
		rec.Output, rec.Status, rec.StartedAt, rec.EndedAt)
	return err
}

func (r *ConversationRepo) RecordToolComplete(ctx context.Context, toolCallID, output string, status domain.ToolCallStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tool_calls SET output = $2, status = $3, ended_at = $4 WHERE id = $1`,
		toolCallID, output, status, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) GetHistory(ctx context.Context, sessionID string) ([]*domain.Turn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, turn_index, role, status, hidden, input_tokens, output_tokens,
			created_at, completed_at
		FROM turns WHERE session_id = $1 ORDER BY turn_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Turn
	for rows.Next() {
		var turn domain.Turn
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.TurnIndex, &turn.Role, &turn.Status,
			&turn.Hidden, &turn.InputTokens, &turn.OutputTokens, &turn.CreatedAt, &turn.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, &turn)
	}
	return out, rows.Err()
}

func (r *ConversationRepo) NextTurnIndex(ctx context.Context, sessionID string) (int, error) {
	var next int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(turn_index) + 1, 0) FROM turns WHERE session_id = $1`, sessionID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return next, err
}

func (r *ConversationRepo) LoadSessionContext(ctx context.Context, sessionID string) ([]ports.TranscriptEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.role, m.content
		FROM turns t JOIN messages m ON m.turn_id = t.id
		WHERE t.session_id = $1
		ORDER BY t.turn_index, m.message_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.TranscriptEntry
	var current *strings.Builder
	var currentRole domain.TurnRole
	flush := func() {
		if current != nil && current.Len() > 0 {
			out = append(out, ports.TranscriptEntry{Role: currentRole, Content: current.String()})
		}
		current = nil
	}
	prevRole := domain.TurnRole("")
	for rows.Next() {
		var role domain.TurnRole
		var content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		if current == nil || role != prevRole {
			flush()
			current = &strings.Builder{}
			currentRole = role
			prevRole = role
		}
		current.WriteString(content)
	}
	flush()
	return out, rows.Err()
}
