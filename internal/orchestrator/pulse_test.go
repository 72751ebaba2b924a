package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/store/memstore"
)

func newPulseOrchestrator(t *testing.T) (*PulseOrchestrator, *memstore.Store, *fakeGit) {
	t.Helper()
	store := memstore.New()
	git := &fakeGit{branch: "main"}
	return NewPulseOrchestrator(store.Pulses, git, logging.Nop()), store, git
}

func TestInitializePulsingCreatesWorktree(t *testing.T) {
	p, _, git := newPulseOrchestrator(t)

	init, err := p.InitializePulsing(context.Background(), "wf_1", "main")
	require.NoError(t, err)
	assert.Equal(t, "autarch/wf_1", init.WorkflowBranch)
	assert.Equal(t, "/worktrees/wf_1", init.WorktreePath)
	assert.Equal(t, []string{"wf_1"}, git.worktrees)
}

func TestCreatePulsesFromPlanPreservesOrder(t *testing.T) {
	p, store, _ := newPulseOrchestrator(t)

	err := p.CreatePulsesFromPlan(context.Background(), "wf_1", []domain.PulseDescriptor{
		{ID: "p1", Title: "first", Description: "a"},
		{ID: "p2", Title: "second", Description: "b", DependsOn: []string{"p1"}},
	})
	require.NoError(t, err)

	pulses, err := store.Pulses.GetPulsesForWorkflow(context.Background(), "wf_1")
	require.NoError(t, err)
	require.Len(t, pulses, 2)
	assert.Equal(t, "p1", pulses[0].PlannedPulseID)
	assert.Equal(t, 0, pulses[0].PlannedIndex)
	assert.Equal(t, domain.PulseProposed, pulses[0].Status)
	assert.Equal(t, []string{"p1"}, pulses[1].DependsOn)
}

func TestStartNextPulseReturnsNilWhenNoneRemain(t *testing.T) {
	p, _, _ := newPulseOrchestrator(t)

	pulse, err := p.StartNextPulse(context.Background(), "wf_1", "/wt")
	require.NoError(t, err)
	assert.Nil(t, pulse)
}

func TestStartNextPulseMarksRunning(t *testing.T) {
	p, store, _ := newPulseOrchestrator(t)
	require.NoError(t, p.CreatePulsesFromPlan(context.Background(), "wf_1", []domain.PulseDescriptor{
		{ID: "p1", Description: "a"},
	}))

	pulse, err := p.StartNextPulse(context.Background(), "wf_1", "/wt")
	require.NoError(t, err)
	require.NotNil(t, pulse)
	assert.Equal(t, domain.PulseRunning, pulse.Status)
	assert.Equal(t, "/wt", pulse.WorktreePath)

	running, err := store.Pulses.GetRunningPulse(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.Equal(t, pulse.ID, running.ID)
}

func TestCompletePulseReportsRemainingWork(t *testing.T) {
	p, _, _ := newPulseOrchestrator(t)
	require.NoError(t, p.CreatePulsesFromPlan(context.Background(), "wf_1", []domain.PulseDescriptor{
		{ID: "p1", Description: "a"},
		{ID: "p2", Description: "b"},
	}))

	first, err := p.StartNextPulse(context.Background(), "wf_1", "/wt")
	require.NoError(t, err)

	completion, err := p.CompletePulse(context.Background(), first.ID, "feat: a", false)
	require.NoError(t, err)
	assert.True(t, completion.Success)
	assert.True(t, completion.HasMorePulses)

	second, err := p.StartNextPulse(context.Background(), "wf_1", "/wt")
	require.NoError(t, err)

	completion, err = p.CompletePulse(context.Background(), second.ID, "feat: b", true)
	require.NoError(t, err)
	assert.True(t, completion.Success)
	assert.False(t, completion.HasMorePulses)
}

func TestPreflightLifecycle(t *testing.T) {
	p, _, _ := newPulseOrchestrator(t)

	// Nothing recorded yet: neither complete nor failed.
	done, err := p.IsPreflightComplete(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.False(t, done)
	failed, err := p.IsPreflightFailed(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.False(t, failed)

	require.NoError(t, p.CreatePreflightSetup(context.Background(), "wf_1", "ses_1"))
	done, err = p.IsPreflightComplete(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, p.CompletePreflight(context.Background(), "wf_1"))
	done, err = p.IsPreflightComplete(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, p.FailPreflight(context.Background(), "wf_1"))
	failed, err = p.IsPreflightFailed(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestMatchesBaselineDelegates(t *testing.T) {
	p, store, _ := newPulseOrchestrator(t)
	require.NoError(t, store.Pulses.RecordBaseline(context.Background(), &domain.Baseline{
		ID: domain.NewID("bl"), WorkflowID: "wf_1", IssueType: domain.IssueWarning,
		Source: domain.SourceLint, Pattern: "unused variable", CreatedAt: time.Now(),
	}))

	match, err := p.MatchesBaseline(context.Background(), "wf_1", "pkg/a.go:10: unused variable x")
	require.NoError(t, err)
	assert.True(t, match)

	match, err = p.MatchesBaseline(context.Background(), "wf_1", "pkg/a.go:10: undefined symbol")
	require.NoError(t, err)
	assert.False(t, match)
}
