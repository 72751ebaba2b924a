package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// PulseRepo is the Postgres PulseRepository.
type PulseRepo struct {
	pool *pgxpool.Pool
}

var _ ports.PulseRepository = (*PulseRepo)(nil)

const pulseColumns = `id, workflow_id, planned_pulse_id, planned_index, status, title, description,
	depends_on, commit_message, failure_reason, has_unresolved_issues, is_recovery_checkpoint,
	rejection_count, worktree_path, created_at, updated_at`

func (r *PulseRepo) Create(ctx context.Context, pulse *domain.Pulse) error {
	deps, err := json.Marshal(pulse.DependsOn)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO pulses (`+pulseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`,
		pulse.ID, pulse.WorkflowID, pulse.PlannedPulseID, pulse.PlannedIndex, pulse.Status,
		pulse.Title, pulse.Description, deps, pulse.CommitMessage, pulse.FailureReason,
		pulse.HasUnresolvedIssues, pulse.IsRecoveryCheckpoint, pulse.RejectionCount,
		pulse.WorktreePath, pulse.CreatedAt, pulse.UpdatedAt)
	return err
}

func scanPulse(row pgx.Row) (*domain.Pulse, error) {
	var p domain.Pulse
	var deps []byte
	err := row.Scan(&p.ID, &p.WorkflowID, &p.PlannedPulseID, &p.PlannedIndex, &p.Status,
		&p.Title, &p.Description, &deps, &p.CommitMessage, &p.FailureReason,
		&p.HasUnresolvedIssues, &p.IsRecoveryCheckpoint, &p.RejectionCount,
		&p.WorktreePath, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(deps, &p.DependsOn); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PulseRepo) GetByID(ctx context.Context, pulseID string) (*domain.Pulse, error) {
	return scanPulse(r.pool.QueryRow(ctx,
		`SELECT `+pulseColumns+` FROM pulses WHERE id = $1`, pulseID))
}

func (r *PulseRepo) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *PulseRepo) StartPulse(ctx context.Context, pulseID, worktreePath string) error {
	return r.exec(ctx, `UPDATE pulses SET status = $2, worktree_path = $3, updated_at = $4 WHERE id = $1`,
		pulseID, domain.PulseRunning, worktreePath, time.Now())
}

func (r *PulseRepo) CompletePulse(ctx context.Context, pulseID, commitMessage string, hasUnresolvedIssues bool) error {
	return r.exec(ctx, `UPDATE pulses SET status = $2, commit_message = $3,
		has_unresolved_issues = $4, updated_at = $5 WHERE id = $1`,
		pulseID, domain.PulseSucceeded, commitMessage, hasUnresolvedIssues, time.Now())
}

func (r *PulseRepo) FailPulse(ctx context.Context, pulseID, reason string) error {
	return r.exec(ctx, `UPDATE pulses SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1`,
		pulseID, domain.PulseFailed, reason, time.Now())
}

func (r *PulseRepo) StopPulse(ctx context.Context, pulseID string) error {
	return r.exec(ctx, `UPDATE pulses SET status = $2, updated_at = $3 WHERE id = $1`,
		pulseID, domain.PulseStopped, time.Now())
}

func (r *PulseRepo) GetRunningPulse(ctx context.Context, workflowID string) (*domain.Pulse, error) {
	return scanPulse(r.pool.QueryRow(ctx, `
		SELECT `+pulseColumns+` FROM pulses
		WHERE workflow_id = $1 AND status = $2 LIMIT 1`, workflowID, domain.PulseRunning))
}

func (r *PulseRepo) GetPulsesForWorkflow(ctx context.Context, workflowID string) ([]*domain.Pulse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pulseColumns+` FROM pulses WHERE workflow_id = $1 ORDER BY planned_index`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Pulse
	for rows.Next() {
		p, err := scanPulse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetNextProposedPulse applies the dependsOn DAG in memory: the pulse set per
// workflow is small and the readiness rule does not map cleanly to SQL.
func (r *PulseRepo) GetNextProposedPulse(ctx context.Context, workflowID string) (*domain.Pulse, error) {
	pulses, err := r.GetPulsesForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	succeeded := make(map[string]bool)
	var candidates []*domain.Pulse
	for _, p := range pulses {
		if p.Status == domain.PulseSucceeded {
			succeeded[p.PlannedPulseID] = true
		}
		if p.Status == domain.PulseProposed {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].PlannedIndex < candidates[j].PlannedIndex })
	for _, p := range candidates {
		ready := true
		for _, dep := range p.DependsOn {
			if !succeeded[dep] {
				ready = false
				break
			}
		}
		if ready {
			return p, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r *PulseRepo) IncrementRejectionCount(ctx context.Context, pulseID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE pulses SET rejection_count = rejection_count + 1, updated_at = $2
		WHERE id = $1 RETURNING rejection_count`, pulseID, time.Now()).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ports.ErrNotFound
	}
	return count, err
}

func (r *PulseRepo) CreatePreflightSetup(ctx context.Context, setup *domain.PreflightSetup) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO preflight_setups (workflow_id, session_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id) DO UPDATE SET session_id = EXCLUDED.session_id,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		setup.WorkflowID, setup.SessionID, setup.Status, setup.CreatedAt, setup.UpdatedAt)
	return err
}

func (r *PulseRepo) UpdatePreflightStatus(ctx context.Context, workflowID string, status domain.PreflightStatus) error {
	return r.exec(ctx, `UPDATE preflight_setups SET status = $2, updated_at = $3 WHERE workflow_id = $1`,
		workflowID, status, time.Now())
}

func (r *PulseRepo) GetPreflightSetup(ctx context.Context, workflowID string) (*domain.PreflightSetup, error) {
	var setup domain.PreflightSetup
	err := r.pool.QueryRow(ctx, `
		SELECT workflow_id, session_id, status, created_at, updated_at
		FROM preflight_setups WHERE workflow_id = $1`, workflowID).
		Scan(&setup.WorkflowID, &setup.SessionID, &setup.Status, &setup.CreatedAt, &setup.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &setup, nil
}

func (r *PulseRepo) RecordBaseline(ctx context.Context, baseline *domain.Baseline) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO baselines (id, workflow_id, issue_type, source, pattern, file_path, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		baseline.ID, baseline.WorkflowID, baseline.IssueType, baseline.Source,
		baseline.Pattern, baseline.FilePath, baseline.Description, baseline.CreatedAt)
	return err
}

func (r *PulseRepo) MatchesBaseline(ctx context.Context, workflowID, diagnostic string) (bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pattern FROM baselines WHERE workflow_id = $1 AND pattern <> ''`, workflowID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var pattern string
		if err := rows.Scan(&pattern); err != nil {
			return false, err
		}
		if strings.Contains(diagnostic, pattern) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (r *PulseRepo) CountBaselines(ctx context.Context, workflowID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM baselines WHERE workflow_id = $1`, workflowID).Scan(&count)
	return count, err
}

func (r *PulseRepo) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	for _, table := range []string{"pulses", "preflight_setups", "baselines"} {
		if _, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE workflow_id = $1`, workflowID); err != nil {
			return err
		}
	}
	return nil
}
