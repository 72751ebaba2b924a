// Package orchestrator drives workflows through the stage pipeline and owns
// the pulse sub-pipeline of the in_progress stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/gitx"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// GitService is the slice of the worktree service the orchestrators use.
// *gitx.Service satisfies it; tests substitute fakes.
type GitService interface {
	WorkflowBranch(workflowID string) string
	WorktreePath(workflowID string) string
	CreateWorktree(ctx context.Context, workflowID, baseBranch string) (worktreePath, branch string, err error)
	CheckoutInWorktree(ctx context.Context, worktreePath, branch string) error
	CurrentBranch(ctx context.Context, path string) (string, error)
	Diff(ctx context.Context, path, baseBranch string) (string, error)
	MergeWorkflowBranch(ctx context.Context, req gitx.MergeRequest) (*gitx.MergeResult, error)
	CleanupWorkflow(ctx context.Context, workflowID string) error
}

var _ GitService = (*gitx.Service)(nil)

// PulsingInit reports a prepared worktree and branch.
type PulsingInit struct {
	WorkflowBranch string
	WorktreePath   string
}

// PulseCompletion is the outcome of completing a pulse.
type PulseCompletion struct {
	Success       bool
	HasMorePulses bool
}

// PulseOrchestrator owns pulse rows, preflight setup and baselines for the
// in_progress stage.
type PulseOrchestrator struct {
	pulses ports.PulseRepository
	git    GitService
	logger logging.Logger
}

// NewPulseOrchestrator constructs a pulse orchestrator.
func NewPulseOrchestrator(pulses ports.PulseRepository, git GitService, logger logging.Logger) *PulseOrchestrator {
	return &PulseOrchestrator{pulses: pulses, git: git, logger: logging.OrNop(logger)}
}

// InitializePulsing creates the workflow branch and worktree off baseBranch.
func (p *PulseOrchestrator) InitializePulsing(ctx context.Context, workflowID, baseBranch string) (*PulsingInit, error) {
	worktreePath, branch, err := p.git.CreateWorktree(ctx, workflowID, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("initialize pulsing: %w", err)
	}
	return &PulsingInit{WorkflowBranch: branch, WorktreePath: worktreePath}, nil
}

// CreatePulsesFromPlan persists each planned pulse as proposed, preserving
// order and dependencies.
func (p *PulseOrchestrator) CreatePulsesFromPlan(ctx context.Context, workflowID string, planned []domain.PulseDescriptor) error {
	now := time.Now()
	for i, desc := range planned {
		pulse := &domain.Pulse{
			ID:             domain.NewPulseID(),
			WorkflowID:     workflowID,
			PlannedPulseID: desc.ID,
			PlannedIndex:   i,
			Status:         domain.PulseProposed,
			Title:          desc.Title,
			Description:    desc.Description,
			DependsOn:      append([]string(nil), desc.DependsOn...),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := p.pulses.Create(ctx, pulse); err != nil {
			return fmt.Errorf("create pulse %q: %w", desc.ID, err)
		}
	}
	p.logger.Info("workflow %s: %d pulse(s) created from plan", workflowID, len(planned))
	return nil
}

// CreatePreflightSetup marks the preflight sub-stage as running.
func (p *PulseOrchestrator) CreatePreflightSetup(ctx context.Context, workflowID, sessionID string) error {
	now := time.Now()
	return p.pulses.CreatePreflightSetup(ctx, &domain.PreflightSetup{
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Status:     domain.PreflightRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// CompletePreflight marks preflight as completed.
func (p *PulseOrchestrator) CompletePreflight(ctx context.Context, workflowID string) error {
	return p.pulses.UpdatePreflightStatus(ctx, workflowID, domain.PreflightCompleted)
}

// FailPreflight marks preflight as failed.
func (p *PulseOrchestrator) FailPreflight(ctx context.Context, workflowID string) error {
	return p.pulses.UpdatePreflightStatus(ctx, workflowID, domain.PreflightFailed)
}

// StartNextPulse picks the next proposed pulse whose dependencies have all
// succeeded and marks it running. Returns nil when none remain.
func (p *PulseOrchestrator) StartNextPulse(ctx context.Context, workflowID, worktreePath string) (*domain.Pulse, error) {
	pulse, err := p.pulses.GetNextProposedPulse(ctx, workflowID)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next proposed pulse: %w", err)
	}
	if err := p.pulses.StartPulse(ctx, pulse.ID, worktreePath); err != nil {
		return nil, fmt.Errorf("start pulse %s: %w", pulse.ID, err)
	}
	pulse.Status = domain.PulseRunning
	pulse.WorktreePath = worktreePath
	p.logger.Info("workflow %s: pulse %s (%s) running", workflowID, pulse.ID, pulse.PlannedPulseID)
	return pulse, nil
}

// CompletePulse marks a pulse succeeded and reports whether proposed pulses
// remain for the workflow.
func (p *PulseOrchestrator) CompletePulse(ctx context.Context, pulseID, commitMessage string, hasUnresolvedIssues bool) (PulseCompletion, error) {
	pulse, err := p.pulses.GetByID(ctx, pulseID)
	if err != nil {
		return PulseCompletion{}, fmt.Errorf("load pulse: %w", err)
	}
	if err := p.pulses.CompletePulse(ctx, pulseID, commitMessage, hasUnresolvedIssues); err != nil {
		return PulseCompletion{}, fmt.Errorf("complete pulse: %w", err)
	}
	remaining, err := p.pulses.GetPulsesForWorkflow(ctx, pulse.WorkflowID)
	if err != nil {
		return PulseCompletion{}, fmt.Errorf("list pulses: %w", err)
	}
	hasMore := false
	for _, other := range remaining {
		if other.Status == domain.PulseProposed {
			hasMore = true
			break
		}
	}
	return PulseCompletion{Success: true, HasMorePulses: hasMore}, nil
}

// FailPulse marks a pulse failed with a reason.
func (p *PulseOrchestrator) FailPulse(ctx context.Context, pulseID, reason string) error {
	return p.pulses.FailPulse(ctx, pulseID, reason)
}

// StopPulse marks a pulse stopped.
func (p *PulseOrchestrator) StopPulse(ctx context.Context, pulseID string) error {
	return p.pulses.StopPulse(ctx, pulseID)
}

// IncrementRejectionCount bumps and returns a pulse's rejection count.
func (p *PulseOrchestrator) IncrementRejectionCount(ctx context.Context, pulseID string) (int, error) {
	return p.pulses.IncrementRejectionCount(ctx, pulseID)
}

// IsPreflightComplete reports whether preflight finished for a workflow.
func (p *PulseOrchestrator) IsPreflightComplete(ctx context.Context, workflowID string) (bool, error) {
	setup, err := p.pulses.GetPreflightSetup(ctx, workflowID)
	if errors.Is(err, ports.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return setup.Status == domain.PreflightCompleted, nil
}

// IsPreflightFailed reports whether preflight failed for a workflow.
func (p *PulseOrchestrator) IsPreflightFailed(ctx context.Context, workflowID string) (bool, error) {
	setup, err := p.pulses.GetPreflightSetup(ctx, workflowID)
	if errors.Is(err, ports.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return setup.Status == domain.PreflightFailed, nil
}

// MatchesBaseline reports whether a diagnostic matches a recorded baseline.
func (p *PulseOrchestrator) MatchesBaseline(ctx context.Context, workflowID, diagnostic string) (bool, error) {
	return p.pulses.MatchesBaseline(ctx, workflowID, diagnostic)
}
