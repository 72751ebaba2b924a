package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autarch-dev/autarch-sub002/internal/agent"
	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/gitx"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/session"
	"github.com/autarch-dev/autarch-sub002/internal/store/memstore"
)

// fakeGit fakes the worktree service with canned outcomes.
type fakeGit struct {
	mu          sync.Mutex
	branch      string
	diff        string
	mergeErr    error
	mergeResult *gitx.MergeResult
	merges      []gitx.MergeRequest
	checkouts   int
	cleanups    []string
	worktrees   []string
}

func (g *fakeGit) WorkflowBranch(workflowID string) string { return "autarch/" + workflowID }
func (g *fakeGit) WorktreePath(workflowID string) string   { return "/worktrees/" + workflowID }

func (g *fakeGit) CreateWorktree(_ context.Context, workflowID, _ string) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.worktrees = append(g.worktrees, workflowID)
	return g.WorktreePath(workflowID), g.WorkflowBranch(workflowID), nil
}

func (g *fakeGit) CheckoutInWorktree(context.Context, string, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts++
	return nil
}

func (g *fakeGit) CurrentBranch(context.Context, string) (string, error) {
	return g.branch, nil
}

func (g *fakeGit) Diff(context.Context, string, string) (string, error) {
	return g.diff, nil
}

func (g *fakeGit) MergeWorkflowBranch(_ context.Context, req gitx.MergeRequest) (*gitx.MergeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.merges = append(g.merges, req)
	if g.mergeErr != nil {
		return nil, g.mergeErr
	}
	if g.mergeResult != nil {
		return g.mergeResult, nil
	}
	return &gitx.MergeResult{Success: true, CommitSHA: "abc123"}, nil
}

func (g *fakeGit) CleanupWorkflow(_ context.Context, workflowID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleanups = append(g.cleanups, workflowID)
	return nil
}

// stubLLM answers every stream with an immediate stop and every generation
// with a fixed title.
type stubLLM struct{ title string }

func (l *stubLLM) Stream(_ context.Context, _ ports.ChatRequest, handler ports.StreamHandler) error {
	return handler(ports.StreamItem{Kind: ports.StreamStop})
}

func (l *stubLLM) Generate(context.Context, string, string) (string, error) {
	return "  " + l.title + "\n", nil
}

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(context.Context, string, string, *ports.ToolContext) (*ports.ToolResult, error) {
	return &ports.ToolResult{Success: true, Output: "ok"}, nil
}
func (stubDispatcher) Definitions([]string) []ports.ToolDefinition { return nil }
func (stubDispatcher) Has(string) bool                             { return true }

type fixture struct {
	orch     *Orchestrator
	store    *memstore.Store
	git      *fakeGit
	sessions *session.Manager
	events   <-chan events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	bus := events.NewBus(logging.Nop())
	git := &fakeGit{branch: "main"}
	sessions := session.NewManager(store.Sessions, bus, logging.Nop())
	pulses := NewPulseOrchestrator(store.Pulses, git, logging.Nop())
	llm := &stubLLM{title: "Generated title"}

	orch := New(store.Repositories(), sessions, pulses, git, nil, llm, bus,
		config.PulseConfig{MaxRejections: 2, RetryDelay: time.Millisecond},
		t.TempDir(), logging.Nop())
	runner := agent.NewRunner(store.Conversations, llm, stubDispatcher{}, orch,
		bus, agent.NewRoleRegistry(), logging.Nop())
	orch.AttachRunner(runner)

	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)
	return &fixture{orch: orch, store: store, git: git, sessions: sessions, events: ch}
}

func (f *fixture) waitForEvent(t *testing.T, eventType string) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s not observed", eventType)
		}
	}
}

func (f *fixture) seedWorkflow(t *testing.T, stage domain.Stage) *domain.Workflow {
	t.Helper()
	now := time.Now()
	wf := &domain.Workflow{
		ID:                  domain.NewWorkflowID(),
		Title:               "Add rate limiting",
		Priority:            domain.PriorityMedium,
		Status:              stage,
		PendingArtifactType: domain.ArtifactNone,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, f.store.Workflows.Create(context.Background(), wf))
	return wf
}

func (f *fixture) awaitApproval(t *testing.T, wf *domain.Workflow, artifactType domain.ArtifactType) {
	t.Helper()
	require.NoError(t, f.store.Workflows.SetAwaitingApproval(context.Background(), wf.ID, artifactType))
}

func (f *fixture) sessionRole(t *testing.T, workflowID string) domain.AgentRole {
	t.Helper()
	wf, err := f.store.Workflows.GetByID(context.Background(), workflowID)
	require.NoError(t, err)
	require.NotEmpty(t, wf.CurrentSessionID)
	sess, err := f.store.Sessions.GetByID(context.Background(), wf.CurrentSessionID)
	require.NoError(t, err)
	return sess.AgentRole
}

func TestCreateWorkflowStartsScoping(t *testing.T) {
	f := newFixture(t)

	wf, err := f.orch.CreateWorkflow(context.Background(), CreateWorkflowRequest{
		Title: "Add rate limiting", Priority: domain.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StageScoping, wf.Status)
	require.NotEmpty(t, wf.CurrentSessionID)
	assert.Equal(t, domain.RoleScoping, f.sessionRole(t, wf.ID))

	ev := f.waitForEvent(t, events.WorkflowCreated)
	assert.Equal(t, wf.ID, ev.Payload["workflow_id"])
}

func TestCreateWorkflowGeneratesTitleFromPrompt(t *testing.T) {
	f := newFixture(t)

	wf, err := f.orch.CreateWorkflow(context.Background(), CreateWorkflowRequest{
		Prompt: "Please add a rate limiter to the public API",
	})
	require.NoError(t, err)
	assert.Equal(t, "Generated title", wf.Title)
	assert.Equal(t, "Please add a rate limiter to the public API", wf.Description)
	assert.Equal(t, domain.PriorityMedium, wf.Priority)
}

func TestCreateWorkflowRequiresTitleOrPrompt(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.CreateWorkflow(context.Background(), CreateWorkflowRequest{})
	require.Error(t, err)
}

func TestHandleToolResultMarksApprovalGate(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)

	decision, err := f.orch.HandleToolResult(context.Background(), wf.ID, "submit_scope", "art_1")
	require.NoError(t, err)
	assert.True(t, decision.AwaitingApproval)
	assert.Equal(t, "art_1", decision.ArtifactID)

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.True(t, got.AwaitingApproval)
	assert.Equal(t, domain.ArtifactScopeCard, got.PendingArtifactType)

	ev := f.waitForEvent(t, events.WorkflowApprovalNeeded)
	assert.Equal(t, "scope_card", ev.Payload["artifact_type"])
}

func TestHandleToolResultIgnoresPlainTools(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)

	decision, err := f.orch.HandleToolResult(context.Background(), wf.ID, "take_note", "")
	require.NoError(t, err)
	assert.False(t, decision.AwaitingApproval)
	assert.False(t, decision.Transitioned)
}

func TestApproveScopeFullPath(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)
	require.NoError(t, f.store.Artifacts.SaveScopeCard(context.Background(), &domain.ScopeCard{
		ID: domain.NewArtifactID(), WorkflowID: wf.ID, Summary: "limit the API",
		RecommendedPath: domain.PathFull, Status: domain.ArtifactPending, CreatedAt: time.Now(),
	}))
	f.awaitApproval(t, wf, domain.ArtifactScopeCard)

	require.NoError(t, f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{}))

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageResearching, got.Status)
	assert.False(t, got.AwaitingApproval)
	assert.Equal(t, domain.RoleResearch, f.sessionRole(t, wf.ID))

	card, err := f.store.Artifacts.LatestScopeCard(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactApproved, card.Status)
}

func TestApproveScopeQuickPathSynthesizesPulse(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)
	require.NoError(t, f.store.Artifacts.SaveScopeCard(context.Background(), &domain.ScopeCard{
		ID: domain.NewArtifactID(), WorkflowID: wf.ID, Summary: "tiny fix",
		InScope:         []string{"one file"},
		RecommendedPath: domain.PathQuick, Status: domain.ArtifactPending, CreatedAt: time.Now(),
	}))
	f.awaitApproval(t, wf, domain.ArtifactScopeCard)

	require.NoError(t, f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{}))

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageInProgress, got.Status)
	assert.Equal(t, []domain.Stage{domain.StageResearching, domain.StagePlanning}, got.SkippedStages)
	assert.Equal(t, "main", got.BaseBranch)
	assert.Equal(t, domain.RolePreflight, f.sessionRole(t, wf.ID))

	pulses, err := f.store.Pulses.GetPulsesForWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Len(t, pulses, 1)
	assert.Equal(t, "quick-1", pulses[0].PlannedPulseID)
	assert.Equal(t, domain.PulseProposed, pulses[0].Status)
	assert.Contains(t, pulses[0].Description, "tiny fix")

	setup, err := f.store.Pulses.GetPreflightSetup(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PreflightRunning, setup.Status)
}

func TestApprovePathOverrideForcesFull(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)
	require.NoError(t, f.store.Artifacts.SaveScopeCard(context.Background(), &domain.ScopeCard{
		ID: domain.NewArtifactID(), WorkflowID: wf.ID, Summary: "s",
		RecommendedPath: domain.PathQuick, Status: domain.ArtifactPending, CreatedAt: time.Now(),
	}))
	f.awaitApproval(t, wf, domain.ArtifactScopeCard)

	require.NoError(t, f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{Path: domain.PathFull}))

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageResearching, got.Status)
}

func TestApprovePlanCreatesPulses(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StagePlanning)
	require.NoError(t, f.store.Artifacts.SavePlan(context.Background(), &domain.Plan{
		ID: domain.NewArtifactID(), WorkflowID: wf.ID,
		Pulses: []domain.PulseDescriptor{
			{ID: "p1", Title: "first", Description: "do a"},
			{ID: "p2", Title: "second", Description: "do b", DependsOn: []string{"p1"}},
		},
		Status: domain.ArtifactPending, CreatedAt: time.Now(),
	}))
	f.awaitApproval(t, wf, domain.ArtifactPlan)

	require.NoError(t, f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{}))

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageInProgress, got.Status)

	pulses, err := f.store.Pulses.GetPulsesForWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Len(t, pulses, 2)
	assert.Equal(t, []string{"p1"}, pulses[1].DependsOn)
}

func TestApproveWithoutPendingArtifact(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)

	err := f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting approval")
}

func TestRequestChangesReusesSession(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)
	require.NoError(t, f.store.Artifacts.SaveScopeCard(context.Background(), &domain.ScopeCard{
		ID: domain.NewArtifactID(), WorkflowID: wf.ID, Summary: "s",
		RecommendedPath: domain.PathFull, Status: domain.ArtifactPending, CreatedAt: time.Now(),
	}))
	active, err := f.sessions.StartSession(context.Background(), session.StartRequest{
		ContextType: domain.ContextWorkflow, ContextID: wf.ID, AgentRole: domain.RoleScoping,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Workflows.SetCurrentSession(context.Background(), wf.ID, active.Session.ID))
	f.awaitApproval(t, wf, domain.ArtifactScopeCard)

	require.NoError(t, f.orch.RequestChanges(context.Background(), wf.ID, "the scope misses the admin API"))

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.False(t, got.AwaitingApproval)
	assert.Equal(t, active.Session.ID, got.CurrentSessionID)

	card, err := f.store.Artifacts.LatestScopeCard(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactRejected, card.Status)

	// The feedback reaches the same session as a new user turn.
	require.Eventually(t, func() bool {
		turns, herr := f.store.Conversations.GetHistory(context.Background(), active.Session.ID)
		return herr == nil && len(turns) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func seedReviewWorkflow(t *testing.T, f *fixture) (*domain.Workflow, *domain.ReviewCard) {
	t.Helper()
	wf := f.seedWorkflow(t, domain.StageReview)
	require.NoError(t, f.store.Workflows.SetBaseBranch(context.Background(), wf.ID, "main"))
	wf.BaseBranch = "main"
	card := &domain.ReviewCard{
		ID: domain.NewArtifactID(), WorkflowID: wf.ID,
		Summary: "looks good", Recommendation: domain.ReviewApprove,
		SuggestedCommitMessage: "feat: rate limiting",
		Status:                 domain.ArtifactPending, CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.Artifacts.SaveReviewCard(context.Background(), card))
	f.awaitApproval(t, wf, domain.ArtifactReviewCard)
	return wf, card
}

func TestApproveReviewMergesAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.git.diff = "diff --git a/a.go b/a.go"
	wf, card := seedReviewWorkflow(t, f)

	require.NoError(t, f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{}))

	require.Len(t, f.git.merges, 1)
	assert.Equal(t, "autarch/"+wf.ID, f.git.merges[0].WorkflowBranch)
	assert.Equal(t, "main", f.git.merges[0].BaseBranch)
	assert.Equal(t, "squash", f.git.merges[0].Strategy)
	assert.Equal(t, "feat: rate limiting", f.git.merges[0].CommitMessage)
	assert.Equal(t, []string{wf.ID}, f.git.cleanups)

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, got.Status)
	assert.False(t, got.AwaitingApproval)

	updated, err := f.store.Artifacts.LatestReviewCard(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactApproved, updated.Status)
	assert.Equal(t, "diff --git a/a.go b/a.go", updated.DiffContent)
	assert.Equal(t, card.ID, updated.ID)

	f.waitForEvent(t, events.WorkflowCompleted)
}

func TestApproveReviewMergeOptionsOverride(t *testing.T) {
	f := newFixture(t)
	wf, _ := seedReviewWorkflow(t, f)

	require.NoError(t, f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{
		MergeStrategy: domain.MergeRebase, CommitMessage: "custom message",
	}))
	require.Len(t, f.git.merges, 1)
	assert.Equal(t, "rebase", f.git.merges[0].Strategy)
	assert.Equal(t, "custom message", f.git.merges[0].CommitMessage)
}

func TestApproveReviewMergeFailureRestoresWorktree(t *testing.T) {
	f := newFixture(t)
	f.git.mergeErr = errors.New("merge conflict in a.go")
	wf, _ := seedReviewWorkflow(t, f)

	err := f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to merge workflow branch into main")
	assert.Equal(t, 1, f.git.checkouts)
	assert.Empty(t, f.git.cleanups)

	// The gate stays open so the user can resolve and approve again.
	got, gerr := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, gerr)
	assert.Equal(t, domain.StageReview, got.Status)
	assert.True(t, got.AwaitingApproval)
}

func TestApproveReviewUnsuccessfulMergeStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.git.mergeResult = &gitx.MergeResult{Success: false}
	wf, _ := seedReviewWorkflow(t, f)

	require.NoError(t, f.orch.ApproveArtifact(context.Background(), wf.ID, ApprovalOptions{}))

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, got.Status)
}

func seedRunningPulse(t *testing.T, f *fixture, wf *domain.Workflow, plannedID string, index int) *domain.Pulse {
	t.Helper()
	now := time.Now()
	pulse := &domain.Pulse{
		ID: domain.NewPulseID(), WorkflowID: wf.ID, PlannedPulseID: plannedID,
		PlannedIndex: index, Status: domain.PulseProposed, Title: plannedID,
		Description: "work", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.Pulses.Create(context.Background(), pulse))
	return pulse
}

func TestQuestionFlowEvents(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)
	ctx := context.Background()

	active, err := f.sessions.StartSession(ctx, session.StartRequest{
		ContextType: domain.ContextWorkflow, ContextID: wf.ID, AgentRole: domain.RoleScoping,
	})
	require.NoError(t, err)

	// The asking turn ends: the question set is final and awaits the user.
	require.NoError(t, f.orch.HandleTurnCompletion(ctx, wf.ID, ports.TurnOutcome{
		SessionID: active.Session.ID,
		ToolNames: []string{"ask_questions"},
	}))
	ev := f.waitForEvent(t, events.QuestionsSubmitted)
	assert.Equal(t, active.Session.ID, ev.Payload["session_id"])
	assert.Equal(t, wf.ID, ev.Payload["workflow_id"])

	// The next user message carries the answers.
	require.NoError(t, f.orch.SendMessage(ctx, active.Session.ID, "yes, use redis"))
	ev = f.waitForEvent(t, events.QuestionsAnswered)
	assert.Equal(t, active.Session.ID, ev.Payload["session_id"])
	assert.Equal(t, wf.ID, ev.Payload["workflow_id"])

	// A follow-up message with no outstanding questions is just a message.
	require.NoError(t, f.orch.SendMessage(ctx, active.Session.ID, "thanks"))
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-f.events:
			require.NotEqual(t, events.QuestionsAnswered, ev.Type)
		case <-deadline:
			return
		}
	}
}

func TestHandleTurnCompletionFinishesLastPulse(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageInProgress)
	require.NoError(t, f.store.Workflows.SetBaseBranch(context.Background(), wf.ID, "main"))
	pulse := seedRunningPulse(t, f, wf, "p1", 0)
	require.NoError(t, f.store.Pulses.StartPulse(context.Background(), pulse.ID, "/worktrees/"+wf.ID))

	err := f.orch.HandleTurnCompletion(context.Background(), wf.ID, ports.TurnOutcome{
		ToolNames:          []string{"complete_pulse"},
		PulseCommitMessage: "feat: step one",
	})
	require.NoError(t, err)

	done, err := f.store.Pulses.GetByID(context.Background(), pulse.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PulseSucceeded, done.Status)
	assert.Equal(t, "feat: step one", done.CommitMessage)

	// Last pulse: the workflow moves to review with a fresh review card.
	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageReview, got.Status)
	assert.Equal(t, domain.RoleReview, f.sessionRole(t, wf.ID))

	card, err := f.store.Artifacts.LatestReviewCard(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactPending, card.Status)
}

func TestHandleTurnCompletionStartsNextPulse(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageInProgress)
	require.NoError(t, f.store.Workflows.SetBaseBranch(context.Background(), wf.ID, "main"))
	first := seedRunningPulse(t, f, wf, "p1", 0)
	second := seedRunningPulse(t, f, wf, "p2", 1)
	require.NoError(t, f.store.Pulses.StartPulse(context.Background(), first.ID, "/worktrees/"+wf.ID))

	err := f.orch.HandleTurnCompletion(context.Background(), wf.ID, ports.TurnOutcome{
		ToolNames:          []string{"complete_pulse"},
		PulseCommitMessage: "feat: step one",
	})
	require.NoError(t, err)

	running, err := f.store.Pulses.GetRunningPulse(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, running.ID)
	assert.Equal(t, domain.RoleExecution, f.sessionRole(t, wf.ID))

	got, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageInProgress, got.Status)
}

func TestHandleTurnCompletionPreflightAdvancesToFirstPulse(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageInProgress)
	require.NoError(t, f.store.Workflows.SetBaseBranch(context.Background(), wf.ID, "main"))
	now := time.Now()
	require.NoError(t, f.store.Pulses.CreatePreflightSetup(context.Background(), &domain.PreflightSetup{
		WorkflowID: wf.ID, SessionID: "ses_pf", Status: domain.PreflightRunning,
		CreatedAt: now, UpdatedAt: now,
	}))
	seedRunningPulse(t, f, wf, "p1", 0)

	err := f.orch.HandleTurnCompletion(context.Background(), wf.ID, ports.TurnOutcome{
		ToolNames: []string{"complete_preflight"},
	})
	require.NoError(t, err)

	setup, err := f.store.Pulses.GetPreflightSetup(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PreflightCompleted, setup.Status)

	running, err := f.store.Pulses.GetRunningPulse(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", running.PlannedPulseID)
	assert.Equal(t, domain.RoleExecution, f.sessionRole(t, wf.ID))
}

func TestRetryPulseFailsAfterTooManyRejections(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageInProgress)
	pulse := seedRunningPulse(t, f, wf, "p1", 0)
	require.NoError(t, f.store.Pulses.StartPulse(context.Background(), pulse.ID, "/worktrees/"+wf.ID))

	// MaxRejections is 2: the first two retries restart, the third fails.
	require.NoError(t, f.orch.RetryPulse(context.Background(), wf.ID))
	require.NoError(t, f.orch.RetryPulse(context.Background(), wf.ID))
	require.NoError(t, f.orch.RetryPulse(context.Background(), wf.ID))

	got, err := f.store.Pulses.GetByID(context.Background(), pulse.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PulseFailed, got.Status)
	assert.Equal(t, "rejected too many times", got.FailureReason)
}

func TestRetryPulseWithoutRunningPulse(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageInProgress)
	err := f.orch.RetryPulse(context.Background(), wf.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running pulse")
}

func TestHandlePulseFailureMarksPulse(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageInProgress)
	pulse := seedRunningPulse(t, f, wf, "p1", 0)
	require.NoError(t, f.store.Pulses.StartPulse(context.Background(), pulse.ID, ""))

	f.orch.HandlePulseFailure(context.Background(), wf.ID, "tests broke")

	got, err := f.store.Pulses.GetByID(context.Background(), pulse.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PulseFailed, got.Status)
	assert.Equal(t, "tests broke", got.FailureReason)

	// The workflow itself is untouched.
	wfGot, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageInProgress, wfGot.Status)
}

func TestErrorWorkflowBroadcasts(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageScoping)

	f.orch.ErrorWorkflow(context.Background(), wf.ID, errors.New("runner exploded"))

	ev := f.waitForEvent(t, events.WorkflowError)
	assert.Equal(t, wf.ID, ev.Payload["workflow_id"])
	assert.Equal(t, "runner exploded", ev.Payload["error"])
}

func TestDeleteWorkflowScrubsEverything(t *testing.T) {
	f := newFixture(t)
	wf := f.seedWorkflow(t, domain.StageDone)
	require.NoError(t, f.store.Artifacts.SaveScopeCard(context.Background(), &domain.ScopeCard{
		ID: domain.NewArtifactID(), WorkflowID: wf.ID, Summary: "s",
		RecommendedPath: domain.PathFull, Status: domain.ArtifactApproved, CreatedAt: time.Now(),
	}))
	seedRunningPulse(t, f, wf, "p1", 0)

	require.NoError(t, f.orch.DeleteWorkflow(context.Background(), wf.ID))

	_, err := f.store.Workflows.GetByID(context.Background(), wf.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	_, err = f.store.Artifacts.LatestScopeCard(context.Background(), wf.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	pulses, err := f.store.Pulses.GetPulsesForWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Empty(t, pulses)
	assert.Equal(t, []string{wf.ID}, f.git.cleanups)
}

func TestSendMessageToInactiveSession(t *testing.T) {
	f := newFixture(t)
	err := f.orch.SendMessage(context.Background(), "ses_missing", "hello")
	require.Error(t, err)
}

func TestStartChannelSession(t *testing.T) {
	f := newFixture(t)

	sess, err := f.orch.StartChannelSession(context.Background(), "ch_1", "how does auth work?")
	require.NoError(t, err)
	assert.Equal(t, domain.ContextChannel, sess.ContextType)
	assert.Equal(t, domain.RoleDiscussion, sess.AgentRole)

	require.Eventually(t, func() bool {
		turns, herr := f.store.Conversations.GetHistory(context.Background(), sess.ID)
		return herr == nil && len(turns) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
