package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// PulseRepo is the in-memory PulseRepository.
type PulseRepo struct {
	mu        sync.RWMutex
	pulses    map[string]*domain.Pulse
	preflight map[string]*domain.PreflightSetup // workflowID -> setup
	baselines map[string][]*domain.Baseline     // workflowID -> baselines
}

var _ ports.PulseRepository = (*PulseRepo)(nil)

func newPulseRepo() *PulseRepo {
	return &PulseRepo{
		pulses:    make(map[string]*domain.Pulse),
		preflight: make(map[string]*domain.PreflightSetup),
		baselines: make(map[string][]*domain.Baseline),
	}
}

func (r *PulseRepo) Create(_ context.Context, pulse *domain.Pulse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pulses[pulse.ID]; exists {
		return nil
	}
	cp := *pulse
	cp.DependsOn = append([]string(nil), pulse.DependsOn...)
	r.pulses[pulse.ID] = &cp
	return nil
}

func (r *PulseRepo) GetByID(_ context.Context, pulseID string) (*domain.Pulse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pulse, ok := r.pulses[pulseID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *pulse
	return &cp, nil
}

func (r *PulseRepo) update(pulseID string, fn func(*domain.Pulse)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pulse, ok := r.pulses[pulseID]
	if !ok {
		return ports.ErrNotFound
	}
	fn(pulse)
	pulse.UpdatedAt = time.Now()
	return nil
}

func (r *PulseRepo) StartPulse(_ context.Context, pulseID, worktreePath string) error {
	return r.update(pulseID, func(p *domain.Pulse) {
		p.Status = domain.PulseRunning
		p.WorktreePath = worktreePath
	})
}

func (r *PulseRepo) CompletePulse(_ context.Context, pulseID, commitMessage string, hasUnresolvedIssues bool) error {
	return r.update(pulseID, func(p *domain.Pulse) {
		p.Status = domain.PulseSucceeded
		p.CommitMessage = commitMessage
		p.HasUnresolvedIssues = hasUnresolvedIssues
	})
}

func (r *PulseRepo) FailPulse(_ context.Context, pulseID, reason string) error {
	return r.update(pulseID, func(p *domain.Pulse) {
		p.Status = domain.PulseFailed
		p.FailureReason = reason
	})
}

func (r *PulseRepo) StopPulse(_ context.Context, pulseID string) error {
	return r.update(pulseID, func(p *domain.Pulse) {
		p.Status = domain.PulseStopped
	})
}

func (r *PulseRepo) GetRunningPulse(_ context.Context, workflowID string) (*domain.Pulse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pulse := range r.pulses {
		if pulse.WorkflowID == workflowID && pulse.Status == domain.PulseRunning {
			cp := *pulse
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r *PulseRepo) GetPulsesForWorkflow(_ context.Context, workflowID string) ([]*domain.Pulse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Pulse
	for _, pulse := range r.pulses {
		if pulse.WorkflowID == workflowID {
			cp := *pulse
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlannedIndex < out[j].PlannedIndex })
	return out, nil
}

// GetNextProposedPulse picks the proposed pulse whose dependencies have all
// succeeded, honoring the dependsOn DAG with ties broken by planned index.
func (r *PulseRepo) GetNextProposedPulse(_ context.Context, workflowID string) (*domain.Pulse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	succeeded := make(map[string]bool)
	var candidates []*domain.Pulse
	for _, pulse := range r.pulses {
		if pulse.WorkflowID != workflowID {
			continue
		}
		if pulse.Status == domain.PulseSucceeded {
			succeeded[pulse.PlannedPulseID] = true
		}
		if pulse.Status == domain.PulseProposed {
			candidates = append(candidates, pulse)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].PlannedIndex < candidates[j].PlannedIndex })
	for _, pulse := range candidates {
		ready := true
		for _, dep := range pulse.DependsOn {
			if !succeeded[dep] {
				ready = false
				break
			}
		}
		if ready {
			cp := *pulse
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r *PulseRepo) IncrementRejectionCount(_ context.Context, pulseID string) (int, error) {
	var count int
	err := r.update(pulseID, func(p *domain.Pulse) {
		p.RejectionCount++
		count = p.RejectionCount
	})
	return count, err
}

func (r *PulseRepo) CreatePreflightSetup(_ context.Context, setup *domain.PreflightSetup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *setup
	r.preflight[setup.WorkflowID] = &cp
	return nil
}

func (r *PulseRepo) UpdatePreflightStatus(_ context.Context, workflowID string, status domain.PreflightStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	setup, ok := r.preflight[workflowID]
	if !ok {
		return ports.ErrNotFound
	}
	setup.Status = status
	setup.UpdatedAt = time.Now()
	return nil
}

func (r *PulseRepo) GetPreflightSetup(_ context.Context, workflowID string) (*domain.PreflightSetup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	setup, ok := r.preflight[workflowID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *setup
	return &cp, nil
}

func (r *PulseRepo) RecordBaseline(_ context.Context, baseline *domain.Baseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *baseline
	r.baselines[baseline.WorkflowID] = append(r.baselines[baseline.WorkflowID], &cp)
	return nil
}

func (r *PulseRepo) MatchesBaseline(_ context.Context, workflowID, diagnostic string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.baselines[workflowID] {
		if b.Pattern != "" && strings.Contains(diagnostic, b.Pattern) {
			return true, nil
		}
	}
	return false, nil
}

func (r *PulseRepo) CountBaselines(_ context.Context, workflowID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.baselines[workflowID]), nil
}

func (r *PulseRepo) DeleteForWorkflow(_ context.Context, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pulse := range r.pulses {
		if pulse.WorkflowID == workflowID {
			delete(r.pulses, id)
		}
	}
	delete(r.preflight, workflowID)
	delete(r.baselines, workflowID)
	return nil
}
