package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// ArtifactRepo is the in-memory ArtifactRepository. Artifacts are append-only;
// "latest" getters pick the newest row per workflow.
type ArtifactRepo struct {
	mu        sync.RWMutex
	scopes    []*domain.ScopeCard
	research  []*domain.ResearchCard
	plans     []*domain.Plan
	reviews   []*domain.ReviewCard
	comments  map[string]*domain.ReviewComment
}

var _ ports.ArtifactRepository = (*ArtifactRepo)(nil)

func newArtifactRepo() *ArtifactRepo {
	return &ArtifactRepo{comments: make(map[string]*domain.ReviewComment)}
}

func (r *ArtifactRepo) SaveScopeCard(_ context.Context, card *domain.ScopeCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *card
	r.scopes = append(r.scopes, &cp)
	return nil
}

func (r *ArtifactRepo) LatestScopeCard(_ context.Context, workflowID string) (*domain.ScopeCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if r.scopes[i].WorkflowID == workflowID {
			cp := *r.scopes[i]
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r *ArtifactRepo) UpdateScopeCardStatus(_ context.Context, cardID string, status domain.ArtifactStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, card := range r.scopes {
		if card.ID == cardID {
			card.Status = status
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *ArtifactRepo) SaveResearchCard(_ context.Context, card *domain.ResearchCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *card
	r.research = append(r.research, &cp)
	return nil
}

func (r *ArtifactRepo) LatestResearchCard(_ context.Context, workflowID string) (*domain.ResearchCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.research) - 1; i >= 0; i-- {
		if r.research[i].WorkflowID == workflowID {
			cp := *r.research[i]
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r *ArtifactRepo) UpdateResearchCardStatus(_ context.Context, cardID string, status domain.ArtifactStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, card := range r.research {
		if card.ID == cardID {
			card.Status = status
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *ArtifactRepo) SavePlan(_ context.Context, plan *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *plan
	cp.Pulses = append([]domain.PulseDescriptor(nil), plan.Pulses...)
	r.plans = append(r.plans, &cp)
	return nil
}

func (r *ArtifactRepo) LatestPlan(_ context.Context, workflowID string) (*domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.plans) - 1; i >= 0; i-- {
		if r.plans[i].WorkflowID == workflowID {
			cp := *r.plans[i]
			cp.Pulses = append([]domain.PulseDescriptor(nil), r.plans[i].Pulses...)
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r *ArtifactRepo) UpdatePlanStatus(_ context.Context, planID string, status domain.ArtifactStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, plan := range r.plans {
		if plan.ID == planID {
			plan.Status = status
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *ArtifactRepo) SaveReviewCard(_ context.Context, card *domain.ReviewCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *card
	r.reviews = append(r.reviews, &cp)
	return nil
}

func (r *ArtifactRepo) LatestReviewCard(_ context.Context, workflowID string) (*domain.ReviewCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.reviews) - 1; i >= 0; i-- {
		if r.reviews[i].WorkflowID == workflowID {
			cp := *r.reviews[i]
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r *ArtifactRepo) UpdateReviewCardStatus(_ context.Context, cardID string, status domain.ArtifactStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, card := range r.reviews {
		if card.ID == cardID {
			card.Status = status
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *ArtifactRepo) SetReviewCardDiff(_ context.Context, cardID, diff string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, card := range r.reviews {
		if card.ID == cardID {
			card.DiffContent = diff
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *ArtifactRepo) CompleteReviewCard(_ context.Context, cardID string, recommendation domain.ReviewRecommendation, summary, suggestedCommitMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, card := range r.reviews {
		if card.ID == cardID {
			card.Recommendation = recommendation
			card.Summary = summary
			card.SuggestedCommitMessage = suggestedCommitMessage
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *ArtifactRepo) AddReviewComment(_ context.Context, comment *domain.ReviewComment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *comment
	r.comments[comment.ID] = &cp
	return nil
}

func (r *ArtifactRepo) ListReviewComments(_ context.Context, reviewCardID string) ([]*domain.ReviewComment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ReviewComment
	for _, c := range r.comments {
		if c.ReviewCardID == reviewCardID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ArtifactRepo) DeleteReviewComment(_ context.Context, commentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.comments, commentID)
	return nil
}

func (r *ArtifactRepo) DeleteForWorkflow(_ context.Context, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keepReviewIDs := make(map[string]bool)
	filterScopes := r.scopes[:0]
	for _, c := range r.scopes {
		if c.WorkflowID != workflowID {
			filterScopes = append(filterScopes, c)
		}
	}
	r.scopes = filterScopes
	filterResearch := r.research[:0]
	for _, c := range r.research {
		if c.WorkflowID != workflowID {
			filterResearch = append(filterResearch, c)
		}
	}
	r.research = filterResearch
	filterPlans := r.plans[:0]
	for _, p := range r.plans {
		if p.WorkflowID != workflowID {
			filterPlans = append(filterPlans, p)
		}
	}
	r.plans = filterPlans
	filterReviews := r.reviews[:0]
	for _, c := range r.reviews {
		if c.WorkflowID != workflowID {
			filterReviews = append(filterReviews, c)
			keepReviewIDs[c.ID] = true
		}
	}
	r.reviews = filterReviews
	for id, c := range r.comments {
		if !keepReviewIDs[c.ReviewCardID] {
			delete(r.comments, id)
		}
	}
	return nil
}
