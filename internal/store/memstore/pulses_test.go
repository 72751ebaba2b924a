package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

func seedPulse(t *testing.T, repo ports.PulseRepository, id, plannedID string, index int, deps ...string) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &domain.Pulse{
		ID:             id,
		WorkflowID:     "wf_1",
		PlannedPulseID: plannedID,
		PlannedIndex:   index,
		Status:         domain.PulseProposed,
		Description:    "pulse " + plannedID,
		DependsOn:      deps,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}))
}

func TestGetNextProposedPulseHonorsDependencies(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Pulses

	seedPulse(t, repo, "pulse_a", "p1", 0)
	seedPulse(t, repo, "pulse_b", "p2", 1, "p1")
	seedPulse(t, repo, "pulse_c", "p3", 2, "p1", "p2")

	next, err := repo.GetNextProposedPulse(ctx, "wf_1")
	require.NoError(t, err)
	assert.Equal(t, "pulse_a", next.ID)

	require.NoError(t, repo.StartPulse(ctx, "pulse_a", "/tmp/wt"))
	// A running dependency does not unblock dependents.
	_, err = repo.GetNextProposedPulse(ctx, "wf_1")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, repo.CompletePulse(ctx, "pulse_a", "feat: a", false))
	next, err = repo.GetNextProposedPulse(ctx, "wf_1")
	require.NoError(t, err)
	assert.Equal(t, "pulse_b", next.ID)

	require.NoError(t, repo.CompletePulse(ctx, "pulse_b", "feat: b", false))
	next, err = repo.GetNextProposedPulse(ctx, "wf_1")
	require.NoError(t, err)
	assert.Equal(t, "pulse_c", next.ID)
}

func TestGetNextProposedPulsePrefersLowerIndex(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Pulses

	seedPulse(t, repo, "pulse_b", "p2", 1)
	seedPulse(t, repo, "pulse_a", "p1", 0)

	next, err := repo.GetNextProposedPulse(ctx, "wf_1")
	require.NoError(t, err)
	assert.Equal(t, "pulse_a", next.ID)
}

func TestPulseStatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Pulses
	seedPulse(t, repo, "pulse_a", "p1", 0)

	require.NoError(t, repo.StartPulse(ctx, "pulse_a", "/wt/wf_1"))
	running, err := repo.GetRunningPulse(ctx, "wf_1")
	require.NoError(t, err)
	assert.Equal(t, "/wt/wf_1", running.WorktreePath)

	require.NoError(t, repo.FailPulse(ctx, "pulse_a", "tests failed"))
	p, err := repo.GetByID(ctx, "pulse_a")
	require.NoError(t, err)
	assert.Equal(t, domain.PulseFailed, p.Status)
	assert.Equal(t, "tests failed", p.FailureReason)

	_, err = repo.GetRunningPulse(ctx, "wf_1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestIncrementRejectionCount(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Pulses
	seedPulse(t, repo, "pulse_a", "p1", 0)

	for want := 1; want <= 3; want++ {
		count, err := repo.IncrementRejectionCount(ctx, "pulse_a")
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}
	_, err := repo.IncrementRejectionCount(ctx, "pulse_missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestPreflightSetupLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Pulses

	require.NoError(t, repo.CreatePreflightSetup(ctx, &domain.PreflightSetup{
		WorkflowID: "wf_1", SessionID: "ses_1", Status: domain.PreflightRunning,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, repo.UpdatePreflightStatus(ctx, "wf_1", domain.PreflightCompleted))

	setup, err := repo.GetPreflightSetup(ctx, "wf_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PreflightCompleted, setup.Status)

	assert.ErrorIs(t, repo.UpdatePreflightStatus(ctx, "wf_other", domain.PreflightFailed), ports.ErrNotFound)
}

func TestBaselines(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Pulses

	require.NoError(t, repo.RecordBaseline(ctx, &domain.Baseline{
		ID: "bl_1", WorkflowID: "wf_1", IssueType: domain.IssueWarning,
		Source: domain.SourceLint, Pattern: "unused variable x",
	}))

	matched, err := repo.MatchesBaseline(ctx, "wf_1", "pkg/a.go:10: unused variable x declared")
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = repo.MatchesBaseline(ctx, "wf_1", "pkg/a.go:10: undefined: y")
	require.NoError(t, err)
	assert.False(t, matched)

	count, err := repo.CountBaselines(ctx, "wf_1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPulseDeleteForWorkflow(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Pulses
	seedPulse(t, repo, "pulse_a", "p1", 0)
	require.NoError(t, repo.RecordBaseline(ctx, &domain.Baseline{ID: "bl_1", WorkflowID: "wf_1", Pattern: "x"}))

	require.NoError(t, repo.DeleteForWorkflow(ctx, "wf_1"))
	_, err := repo.GetByID(ctx, "pulse_a")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	count, err := repo.CountBaselines(ctx, "wf_1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
