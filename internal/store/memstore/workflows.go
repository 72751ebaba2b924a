package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

type workflowRow struct {
	wf domain.Workflow
}

// WorkflowRepo is the in-memory WorkflowRepository.
type WorkflowRepo struct {
	mu    sync.RWMutex
	items map[string]*workflowRow
}

var _ ports.WorkflowRepository = (*WorkflowRepo)(nil)

func (r *WorkflowRepo) Create(_ context.Context, wf *domain.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[wf.ID]; exists {
		return nil // idempotent on ID
	}
	cp := *wf
	r.items[wf.ID] = &workflowRow{wf: cp}
	return nil
}

func (r *WorkflowRepo) GetByID(_ context.Context, workflowID string) (*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.items[workflowID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := row.wf
	return &cp, nil
}

func (r *WorkflowRepo) update(workflowID string, fn func(*domain.Workflow)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.items[workflowID]
	if !ok {
		return ports.ErrNotFound
	}
	fn(&row.wf)
	row.wf.UpdatedAt = time.Now()
	return nil
}

func (r *WorkflowRepo) UpdateStatus(_ context.Context, workflowID string, status domain.Stage) error {
	return r.update(workflowID, func(wf *domain.Workflow) {
		wf.Status = status
	})
}

func (r *WorkflowRepo) SetCurrentSession(_ context.Context, workflowID, sessionID string) error {
	return r.update(workflowID, func(wf *domain.Workflow) {
		wf.CurrentSessionID = sessionID
	})
}

func (r *WorkflowRepo) SetAwaitingApproval(_ context.Context, workflowID string, artifactType domain.ArtifactType) error {
	return r.update(workflowID, func(wf *domain.Workflow) {
		wf.AwaitingApproval = true
		wf.PendingArtifactType = artifactType
	})
}

func (r *WorkflowRepo) ClearAwaitingApproval(_ context.Context, workflowID string) error {
	return r.update(workflowID, func(wf *domain.Workflow) {
		wf.AwaitingApproval = false
		wf.PendingArtifactType = domain.ArtifactNone
	})
}

func (r *WorkflowRepo) TransitionStage(_ context.Context, workflowID string, newStage domain.Stage, sessionID string) error {
	return r.update(workflowID, func(wf *domain.Workflow) {
		wf.Status = newStage
		wf.CurrentSessionID = sessionID
		wf.AwaitingApproval = false
		wf.PendingArtifactType = domain.ArtifactNone
	})
}

func (r *WorkflowRepo) SetBaseBranch(_ context.Context, workflowID, baseBranch string) error {
	return r.update(workflowID, func(wf *domain.Workflow) {
		wf.BaseBranch = baseBranch
	})
}

func (r *WorkflowRepo) SetSkippedStages(_ context.Context, workflowID string, stages []domain.Stage) error {
	return r.update(workflowID, func(wf *domain.Workflow) {
		wf.SkippedStages = append([]domain.Stage(nil), stages...)
	})
}

func (r *WorkflowRepo) List(_ context.Context) ([]*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Workflow, 0, len(r.items))
	for _, row := range r.items {
		cp := row.wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *WorkflowRepo) Delete(_ context.Context, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, workflowID)
	return nil
}
