package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// ArtifactRepo is the Postgres ArtifactRepository. Each artifact kind lives
// in its own table with the full struct as a JSONB payload; the status column
// is kept in sync for cheap filtering.
type ArtifactRepo struct {
	pool *pgxpool.Pool
}

var _ ports.ArtifactRepository = (*ArtifactRepo)(nil)

func (r *ArtifactRepo) save(ctx context.Context, table, id, workflowID string, status domain.ArtifactStatus, payload any, createdAt any) error {
	doc, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO `+table+` (id, workflow_id, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload`,
		id, workflowID, status, doc, createdAt)
	return err
}

func (r *ArtifactRepo) latest(ctx context.Context, table, workflowID string, dest any) error {
	var doc []byte
	var status domain.ArtifactStatus
	err := r.pool.QueryRow(ctx, `
		SELECT payload, status FROM `+table+`
		WHERE workflow_id = $1 ORDER BY seq DESC LIMIT 1`, workflowID).Scan(&doc, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, dest); err != nil {
		return err
	}
	// The status column is authoritative; approval updates touch it directly.
	switch v := dest.(type) {
	case *domain.ScopeCard:
		v.Status = status
	case *domain.ResearchCard:
		v.Status = status
	case *domain.Plan:
		v.Status = status
	case *domain.ReviewCard:
		v.Status = status
	}
	return nil
}

func (r *ArtifactRepo) updateStatus(ctx context.Context, table, id string, status domain.ArtifactStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE `+table+` SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *ArtifactRepo) SaveScopeCard(ctx context.Context, card *domain.ScopeCard) error {
	return r.save(ctx, "scope_cards", card.ID, card.WorkflowID, card.Status, card, card.CreatedAt)
}

func (r *ArtifactRepo) LatestScopeCard(ctx context.Context, workflowID string) (*domain.ScopeCard, error) {
	var card domain.ScopeCard
	if err := r.latest(ctx, "scope_cards", workflowID, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *ArtifactRepo) UpdateScopeCardStatus(ctx context.Context, cardID string, status domain.ArtifactStatus) error {
	return r.updateStatus(ctx, "scope_cards", cardID, status)
}

func (r *ArtifactRepo) SaveResearchCard(ctx context.Context, card *domain.ResearchCard) error {
	return r.save(ctx, "research_cards", card.ID, card.WorkflowID, card.Status, card, card.CreatedAt)
}

func (r *ArtifactRepo) LatestResearchCard(ctx context.Context, workflowID string) (*domain.ResearchCard, error) {
	var card domain.ResearchCard
	if err := r.latest(ctx, "research_cards", workflowID, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *ArtifactRepo) UpdateResearchCardStatus(ctx context.Context, cardID string, status domain.ArtifactStatus) error {
	return r.updateStatus(ctx, "research_cards", cardID, status)
}

func (r *ArtifactRepo) SavePlan(ctx context.Context, plan *domain.Plan) error {
	return r.save(ctx, "plans", plan.ID, plan.WorkflowID, plan.Status, plan, plan.CreatedAt)
}

func (r *ArtifactRepo) LatestPlan(ctx context.Context, workflowID string) (*domain.Plan, error) {
	var plan domain.Plan
	if err := r.latest(ctx, "plans", workflowID, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *ArtifactRepo) UpdatePlanStatus(ctx context.Context, planID string, status domain.ArtifactStatus) error {
	return r.updateStatus(ctx, "plans", planID, status)
}

func (r *ArtifactRepo) SaveReviewCard(ctx context.Context, card *domain.ReviewCard) error {
	return r.save(ctx, "review_cards", card.ID, card.WorkflowID, card.Status, card, card.CreatedAt)
}

func (r *ArtifactRepo) LatestReviewCard(ctx context.Context, workflowID string) (*domain.ReviewCard, error) {
	var card domain.ReviewCard
	if err := r.latest(ctx, "review_cards", workflowID, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *ArtifactRepo) UpdateReviewCardStatus(ctx context.Context, cardID string, status domain.ArtifactStatus) error {
	return r.updateStatus(ctx, "review_cards", cardID, status)
}

func (r *ArtifactRepo) SetReviewCardDiff(ctx context.Context, cardID, diff string) error {
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE review_cards SET payload = jsonb_set(payload, '{diff_content}', $2::jsonb)
		WHERE id = $1`, cardID, diffJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *ArtifactRepo) CompleteReviewCard(ctx context.Context, cardID string, recommendation domain.ReviewRecommendation, summary, suggestedCommitMessage string) error {
	patch, err := json.Marshal(map[string]any{
		"recommendation":           recommendation,
		"summary":                  summary,
		"suggested_commit_message": suggestedCommitMessage,
	})
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE review_cards SET payload = payload || $2::jsonb WHERE id = $1`, cardID, patch)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *ArtifactRepo) AddReviewComment(ctx context.Context, comment *domain.ReviewComment) error {
	doc, err := json.Marshal(comment)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO review_comments (id, review_card_id, payload, created_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		comment.ID, comment.ReviewCardID, doc, comment.CreatedAt)
	return err
}

func (r *ArtifactRepo) ListReviewComments(ctx context.Context, reviewCardID string) ([]*domain.ReviewComment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM review_comments WHERE review_card_id = $1 ORDER BY created_at`, reviewCardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ReviewComment
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var comment domain.ReviewComment
		if err := json.Unmarshal(doc, &comment); err != nil {
			return nil, err
		}
		out = append(out, &comment)
	}
	return out, rows.Err()
}

func (r *ArtifactRepo) DeleteReviewComment(ctx context.Context, commentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM review_comments WHERE id = $1`, commentID)
	return err
}

func (r *ArtifactRepo) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM review_comments WHERE review_card_id IN
			(SELECT id FROM review_cards WHERE workflow_id = $1)`, workflowID)
	if err != nil {
		return err
	}
	for _, table := range []string{"scope_cards", "research_cards", "plans", "review_cards"} {
		if _, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE workflow_id = $1`, workflowID); err != nil {
			return err
		}
	}
	return nil
}
