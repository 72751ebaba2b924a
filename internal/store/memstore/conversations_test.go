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

func addTurn(t *testing.T, repo ports.ConversationRepository, id string, index int, role domain.TurnRole, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateTurn(ctx, &domain.Turn{
		ID: id, SessionID: "ses_1", TurnIndex: index, Role: role,
		Status: domain.TurnCompleted, CreatedAt: time.Now(),
	}))
	if content != "" {
		require.NoError(t, repo.SaveMessage(ctx, &domain.Message{
			ID: id + "_m0", TurnID: id, MessageIndex: 0, Content: content,
		}))
	}
}

func TestNextTurnIndex(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Conversations

	next, err := repo.NextTurnIndex(ctx, "ses_1")
	require.NoError(t, err)
	assert.Zero(t, next)

	addTurn(t, repo, "turn_0", 0, domain.TurnUser, "hello")
	addTurn(t, repo, "turn_1", 1, domain.TurnAssistant, "hi")

	next, err = repo.NextTurnIndex(ctx, "ses_1")
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

func TestLoadSessionContextOrdersAndJoinsSegments(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Conversations

	addTurn(t, repo, "turn_0", 0, domain.TurnUser, "do the thing")
	addTurn(t, repo, "turn_1", 1, domain.TurnAssistant, "working on it. ")
	require.NoError(t, repo.SaveMessage(ctx, &domain.Message{
		ID: "turn_1_m1", TurnID: "turn_1", MessageIndex: 1, Content: "done.",
	}))
	// Empty turns drop out of the transcript.
	addTurn(t, repo, "turn_2", 2, domain.TurnAssistant, "")

	entries, err := repo.LoadSessionContext(ctx, "ses_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.TurnUser, entries[0].Role)
	assert.Equal(t, "do the thing", entries[0].Content)
	assert.Equal(t, domain.TurnAssistant, entries[1].Role)
	assert.Equal(t, "working on it. done.", entries[1].Content)
}

func TestCompleteAndErrorTurn(t *testing.T) {
	ctx := context.Background()
	repo := New().Repositories().Conversations
	addTurn(t, repo, "turn_0", 0, domain.TurnAssistant, "x")

	require.NoError(t, repo.CompleteTurn(ctx, "turn_0", 120, 45))
	turns, err := repo.GetHistory(ctx, "ses_1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, domain.TurnCompleted, turns[0].Status)
	assert.Equal(t, 120, turns[0].InputTokens)
	assert.Equal(t, 45, turns[0].OutputTokens)
	require.NotNil(t, turns[0].CompletedAt)

	assert.ErrorIs(t, repo.CompleteTurn(ctx, "turn_missing", 0, 0), ports.ErrNotFound)
	assert.ErrorIs(t, repo.ErrorTurn(ctx, "turn_missing"), ports.ErrNotFound)
}

func TestToolCallRecording(t *testing.T) {
	ctx := context.Background()
	store := New()
	repo := store.Conversations

	require.NoError(t, repo.RecordToolStart(ctx, &domain.ToolCallRecord{
		ID: "tool_1", TurnID: "turn_0", ToolIndex: 0, ToolName: "read_file",
		Reason: "inspect config", Input: map[string]any{"path": "a.go"},
		Status: domain.ToolRunning, StartedAt: time.Now(),
	}))
	require.NoError(t, repo.RecordToolComplete(ctx, "tool_1", "contents", domain.ToolCompleted))

	calls := repo.ToolCallsForTurn("turn_0")
	require.Len(t, calls, 1)
	assert.Equal(t, domain.ToolCompleted, calls[0].Status)
	assert.Equal(t, "contents", calls[0].Output)
	require.NotNil(t, calls[0].EndedAt)

	assert.ErrorIs(t, repo.RecordToolComplete(ctx, "tool_missing", "", domain.ToolError), ports.ErrNotFound)
}
