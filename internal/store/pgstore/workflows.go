package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// WorkflowRepo is the Postgres WorkflowRepository.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

var _ ports.WorkflowRepository = (*WorkflowRepo)(nil)

func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow) error {
	skipped, err := json.Marshal(wf.SkippedStages)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflows (id, title, description, priority, status, current_session_id,
			awaiting_approval, pending_artifact_type, skipped_stages, base_branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		wf.ID, wf.Title, wf.Description, wf.Priority, wf.Status, wf.CurrentSessionID,
		wf.AwaitingApproval, wf.PendingArtifactType, skipped, wf.BaseBranch, wf.CreatedAt, wf.UpdatedAt)
	return err
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	var skipped []byte
	err := row.Scan(&wf.ID, &wf.Title, &wf.Description, &wf.Priority, &wf.Status,
		&wf.CurrentSessionID, &wf.AwaitingApproval, &wf.PendingArtifactType,
		&skipped, &wf.BaseBranch, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(skipped, &wf.SkippedStages); err != nil {
		return nil, err
	}
	return &wf, nil
}

const workflowColumns = `id, title, description, priority, status, current_session_id,
	awaiting_approval, pending_artifact_type, skipped_stages, base_branch, created_at, updated_at`

func (r *WorkflowRepo) GetByID(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	return scanWorkflow(r.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, workflowID))
}

func (r *WorkflowRepo) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *WorkflowRepo) UpdateStatus(ctx context.Context, workflowID string, status domain.Stage) error {
	return r.exec(ctx, `UPDATE workflows SET status = $2, updated_at = $3 WHERE id = $1`,
		workflowID, status, time.Now())
}

func (r *WorkflowRepo) SetCurrentSession(ctx context.Context, workflowID, sessionID string) error {
	return r.exec(ctx, `UPDATE workflows SET current_session_id = $2, updated_at = $3 WHERE id = $1`,
		workflowID, sessionID, time.Now())
}

func (r *WorkflowRepo) SetAwaitingApproval(ctx context.Context, workflowID string, artifactType domain.ArtifactType) error {
	return r.exec(ctx, `UPDATE workflows SET awaiting_approval = TRUE, pending_artifact_type = $2,
		updated_at = $3 WHERE id = $1`, workflowID, artifactType, time.Now())
}

func (r *WorkflowRepo) ClearAwaitingApproval(ctx context.Context, workflowID string) error {
	return r.exec(ctx, `UPDATE workflows SET awaiting_approval = FALSE, pending_artifact_type = 'none',
		updated_at = $2 WHERE id = $1`, workflowID, time.Now())
}

func (r *WorkflowRepo) TransitionStage(ctx context.Context, workflowID string, newStage domain.Stage, sessionID string) error {
	return r.exec(ctx, `UPDATE workflows SET status = $2, current_session_id = $3,
		awaiting_approval = FALSE, pending_artifact_type = 'none', updated_at = $4 WHERE id = $1`,
		workflowID, newStage, sessionID, time.Now())
}

func (r *WorkflowRepo) SetBaseBranch(ctx context.Context, workflowID, baseBranch string) error {
	return r.exec(ctx, `UPDATE workflows SET base_branch = $2, updated_at = $3 WHERE id = $1`,
		workflowID, baseBranch, time.Now())
}

func (r *WorkflowRepo) SetSkippedStages(ctx context.Context, workflowID string, stages []domain.Stage) error {
	skipped, err := json.Marshal(stages)
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE workflows SET skipped_stages = $2, updated_at = $3 WHERE id = $1`,
		workflowID, skipped, time.Now())
}

func (r *WorkflowRepo) List(ctx context.Context) ([]*domain.Workflow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (r *WorkflowRepo) Delete(ctx context.Context, workflowID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, workflowID)
	return err
}
