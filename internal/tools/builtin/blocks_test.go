package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/store/memstore"
)

func TestSubmitScopePersistsPendingCard(t *testing.T) {
	store := memstore.New()
	tc := testContext(t.TempDir())

	res, err := NewSubmitScope(store.Artifacts).Execute(context.Background(), map[string]any{
		"summary":          "Add rate limiting to the API",
		"in_scope":         []any{"middleware", "config"},
		"out_of_scope":     []any{"ui"},
		"recommended_path": "full",
	}, tc)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.ArtifactID)

	card, err := store.Artifacts.LatestScopeCard(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.Equal(t, res.ArtifactID, card.ID)
	assert.Equal(t, domain.ArtifactPending, card.Status)
	assert.Equal(t, domain.PathFull, card.RecommendedPath)
	assert.Equal(t, []string{"middleware", "config"}, card.InScope)
}

func TestSubmitScopeRequiresSummary(t *testing.T) {
	store := memstore.New()
	res, err := NewSubmitScope(store.Artifacts).Execute(context.Background(), map[string]any{
		"recommended_path": "quick",
	}, testContext(t.TempDir()))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestSubmitPlanValidatesDependencyGraph(t *testing.T) {
	store := memstore.New()
	tc := testContext(t.TempDir())
	tool := NewSubmitPlan(store.Artifacts)

	t.Run("rejects empty plan", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{"pulses": []any{}}, tc)
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("rejects missing id", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"pulses": []any{map[string]any{"description": "d"}},
		}, tc)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Output, "missing an id")
	})

	t.Run("rejects unknown dependency", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"pulses": []any{
				map[string]any{"id": "p1", "description": "d", "depends_on": []any{"ghost"}},
			},
		}, tc)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Output, `depends on unknown pulse "ghost"`)
	})

	t.Run("accepts a valid plan", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{
			"overview": "two steps",
			"pulses": []any{
				map[string]any{"id": "p1", "title": "first", "description": "do a"},
				map[string]any{"id": "p2", "description": "do b", "depends_on": []any{"p1"}},
			},
		}, tc)
		require.NoError(t, err)
		require.True(t, res.Success, res.Output)
		assert.Contains(t, res.Output, "2 pulse(s)")

		plan, err := store.Artifacts.LatestPlan(context.Background(), "wf_1")
		require.NoError(t, err)
		require.Len(t, plan.Pulses, 2)
		assert.Equal(t, []string{"p1"}, plan.Pulses[1].DependsOn)
	})
}

func TestCompletePulseStashesOutcome(t *testing.T) {
	tc := testContext(t.TempDir())

	res, err := NewCompletePulse().Execute(context.Background(), map[string]any{
		"commit_message":        "feat: add limiter",
		"has_unresolved_issues": true,
	}, tc)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "Pulse recorded: feat: add limiter")
	assert.Contains(t, res.Output, "Unresolved issues")

	assert.Equal(t, "feat: add limiter", tc.Shared[SharedPulseCommitMessage])
	assert.Equal(t, true, tc.Shared[SharedPulseUnresolved])
}

func TestCompletePulseRequiresCommitMessage(t *testing.T) {
	res, err := NewCompletePulse().Execute(context.Background(), map[string]any{}, testContext(t.TempDir()))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestAskQuestionsBroadcasts(t *testing.T) {
	bus := events.NewBus(logging.Nop())
	ch, cancel := bus.Subscribe()
	defer cancel()

	tc := testContext(t.TempDir())
	tc.SessionID = "ses_1"
	tc.TurnID = "turn_1"

	res, err := NewAskQuestions(bus).Execute(context.Background(), map[string]any{
		"questions": []any{"Which database?", "Which region?"},
	}, tc)
	require.NoError(t, err)
	require.True(t, res.Success)

	ev := <-ch
	assert.Equal(t, events.QuestionsAsked, ev.Type)
	assert.Equal(t, "wf_1", ev.Payload["workflow_id"])
	assert.Equal(t, []string{"Which database?", "Which region?"}, ev.Payload["questions"])
}

func TestRequestExtension(t *testing.T) {
	res, err := NewRequestExtension().Execute(context.Background(), map[string]any{
		"justification": "tests still failing",
	}, testContext(t.TempDir()))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Extension granted. Continue working.", res.Output)

	res, err = NewRequestExtension().Execute(context.Background(), map[string]any{}, testContext(t.TempDir()))
	require.NoError(t, err)
	assert.False(t, res.Success)
}
