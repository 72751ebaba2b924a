package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/agent"
	"github.com/autarch-dev/autarch-sub002/internal/approval"
	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/gitx"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/session"
)

// Orchestrator drives workflows through the stage pipeline: it reacts to
// stage-completion tools, applies human approval decisions, and launches the
// agent runner for each stage non-blocking.
type Orchestrator struct {
	repos       ports.Repositories
	sessions    *session.Manager
	pulses      *PulseOrchestrator
	git         GitService
	approvals   *approval.Service
	llm         ports.StreamingLLMClient
	bus         *events.Bus
	pulseCfg    config.PulseConfig
	projectRoot string
	logger      logging.Logger

	// runner is attached after construction to break the runner/notifier
	// dependency cycle.
	runner *agent.Runner

	// awaitingAnswers tracks sessions whose last turn asked the user
	// questions, so the next user message can be reported as the answers.
	answersMu       sync.Mutex
	awaitingAnswers map[string]bool

	// ExtractKnowledge, when set, runs after a successful merge with the
	// workflow that just completed. Disabled by default.
	ExtractKnowledge func(ctx context.Context, wf *domain.Workflow)
}

var _ ports.StageNotifier = (*Orchestrator)(nil)

// New constructs a workflow orchestrator. Call AttachRunner before use.
func New(repos ports.Repositories, sessions *session.Manager, pulses *PulseOrchestrator,
	git GitService, approvals *approval.Service, llm ports.StreamingLLMClient,
	bus *events.Bus, pulseCfg config.PulseConfig, projectRoot string, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		repos:           repos,
		sessions:        sessions,
		pulses:          pulses,
		git:             git,
		approvals:       approvals,
		llm:             llm,
		bus:             bus,
		pulseCfg:        pulseCfg,
		projectRoot:     projectRoot,
		logger:          logging.OrNop(logger),
		awaitingAnswers: make(map[string]bool),
	}
}

// AttachRunner wires the agent runner. The runner holds the orchestrator as
// its stage notifier, so it is built second and attached here.
func (o *Orchestrator) AttachRunner(r *agent.Runner) { o.runner = r }

// CreateWorkflowRequest describes a new workflow. When Title is empty and
// Prompt is set, a title is generated from the prompt.
type CreateWorkflowRequest struct {
	Title       string
	Description string
	Priority    domain.Priority
	Prompt      string
}

// CreateWorkflow persists a workflow at scoping, starts the scoping session,
// and launches the runner non-blocking.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*domain.Workflow, error) {
	title := req.Title
	description := req.Description
	if title == "" && req.Prompt != "" {
		generated, err := o.llm.Generate(ctx, "title", "Write a concise workflow title for this request:\n\n"+req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("Failed to generate workflow title: %w", err)
		}
		title = strings.TrimSpace(generated)
		if description == "" {
			description = req.Prompt
		}
	}
	if title == "" {
		return nil, errors.New("workflow title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}

	now := time.Now()
	wf := &domain.Workflow{
		ID:                  domain.NewWorkflowID(),
		Title:               title,
		Description:         description,
		Priority:            priority,
		Status:              domain.StageScoping,
		PendingArtifactType: domain.ArtifactNone,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := o.repos.Workflows.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	active, err := o.startStageSession(ctx, wf, domain.RoleScoping, "")
	if err != nil {
		return nil, err
	}
	wf.CurrentSessionID = active.Session.ID

	o.emit(events.WorkflowCreated, map[string]any{
		"workflow_id": wf.ID, "title": wf.Title, "priority": string(wf.Priority),
	})
	o.launchRunner(active, wf.ID, "", o.scopingPrompt(wf), false)
	return wf, nil
}

// HandleToolResult classifies a stage-completion tool reported by the runner.
func (o *Orchestrator) HandleToolResult(ctx context.Context, workflowID, toolName, artifactID string) (*ports.ToolResultDecision, error) {
	if _, ok := domain.ApprovalRequiredTools[toolName]; ok {
		artifactType := domain.ArtifactTypeForTool[toolName]
		if err := o.repos.Workflows.SetAwaitingApproval(ctx, workflowID, artifactType); err != nil {
			return nil, fmt.Errorf("set awaiting approval: %w", err)
		}
		o.emit(events.WorkflowApprovalNeeded, map[string]any{
			"workflow_id": workflowID, "artifact_type": string(artifactType), "artifact_id": artifactID,
		})
		return &ports.ToolResultDecision{AwaitingApproval: true, ArtifactID: artifactID}, nil
	}
	if target, ok := domain.AutoTransitionTools[toolName]; ok {
		if err := o.TransitionStage(ctx, workflowID, target); err != nil {
			return nil, err
		}
		return &ports.ToolResultDecision{Transitioned: true}, nil
	}
	return &ports.ToolResultDecision{}, nil
}

// HandleTurnCompletion processes deferred markers after a turn fully ends.
// When both markers appear in one turn, only the preflight branch runs.
func (o *Orchestrator) HandleTurnCompletion(ctx context.Context, workflowID string, outcome ports.TurnOutcome) error {
	seen := make(map[string]bool, len(outcome.ToolNames))
	for _, name := range outcome.ToolNames {
		seen[name] = true
	}

	// The question set is final once the asking turn ends; the next user
	// message on this session carries the answers.
	if seen["ask_questions"] && outcome.SessionID != "" {
		o.answersMu.Lock()
		o.awaitingAnswers[outcome.SessionID] = true
		o.answersMu.Unlock()
		o.emit(events.QuestionsSubmitted, map[string]any{
			"workflow_id": workflowID,
			"session_id":  outcome.SessionID,
		})
	}

	switch {
	case seen["complete_preflight"]:
		return o.advancePastPreflight(ctx, workflowID)
	case seen["complete_pulse"]:
		o.HandlePulseCompletion(ctx, workflowID, outcome.PulseCommitMessage, outcome.PulseHasUnresolvedIssues)
		return nil
	}
	return nil
}

func (o *Orchestrator) advancePastPreflight(ctx context.Context, workflowID string) error {
	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.CurrentSessionID != "" {
		if err := o.sessions.StopSession(ctx, wf.CurrentSessionID); err != nil {
			o.logger.Warn("stop preflight session: %v", err)
		}
	}
	if err := o.pulses.CompletePreflight(ctx, workflowID); err != nil {
		o.logger.Warn("mark preflight complete for %s: %v", workflowID, err)
	}

	worktreePath := o.git.WorktreePath(workflowID)
	pulse, err := o.pulses.StartNextPulse(ctx, workflowID, worktreePath)
	if err != nil {
		return err
	}
	if pulse == nil {
		return o.TransitionStage(ctx, workflowID, domain.StageReview)
	}
	return o.startPulseSession(ctx, wf, pulse, worktreePath)
}

// ApprovalOptions qualify an approval: a path override for scope cards, or
// merge settings for review cards.
type ApprovalOptions struct {
	Path          domain.RecommendedPath
	MergeStrategy domain.MergeStrategy
	CommitMessage string
}

// ApproveArtifact applies a human approval for the pending artifact.
func (o *Orchestrator) ApproveArtifact(ctx context.Context, workflowID string, opts ApprovalOptions) error {
	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if !wf.AwaitingApproval {
		return fmt.Errorf("workflow %s is not awaiting approval", workflowID)
	}

	switch wf.PendingArtifactType {
	case domain.ArtifactScopeCard:
		card, err := o.repos.Artifacts.LatestScopeCard(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("load scope card: %w", err)
		}
		if err := o.repos.Artifacts.UpdateScopeCardStatus(ctx, card.ID, domain.ArtifactApproved); err != nil {
			return fmt.Errorf("approve scope card: %w", err)
		}
		effective := card.RecommendedPath
		if opts.Path != "" {
			effective = opts.Path
		}
		if effective == domain.PathQuick {
			return o.runQuickPath(ctx, wf, card)
		}
		if err := o.repos.Workflows.ClearAwaitingApproval(ctx, workflowID); err != nil {
			return err
		}
		return o.TransitionStage(ctx, workflowID, domain.StageResearching)

	case domain.ArtifactResearch:
		card, err := o.repos.Artifacts.LatestResearchCard(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("load research card: %w", err)
		}
		if err := o.repos.Artifacts.UpdateResearchCardStatus(ctx, card.ID, domain.ArtifactApproved); err != nil {
			return err
		}
		if err := o.repos.Workflows.ClearAwaitingApproval(ctx, workflowID); err != nil {
			return err
		}
		return o.TransitionStage(ctx, workflowID, domain.StagePlanning)

	case domain.ArtifactPlan:
		plan, err := o.repos.Artifacts.LatestPlan(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("load plan: %w", err)
		}
		if err := o.repos.Artifacts.UpdatePlanStatus(ctx, plan.ID, domain.ArtifactApproved); err != nil {
			return err
		}
		if err := o.pulses.CreatePulsesFromPlan(ctx, workflowID, plan.Pulses); err != nil {
			return err
		}
		if err := o.repos.Workflows.ClearAwaitingApproval(ctx, workflowID); err != nil {
			return err
		}
		return o.TransitionStage(ctx, workflowID, domain.StageInProgress)

	case domain.ArtifactReviewCard:
		return o.finalizeMerge(ctx, wf, opts)

	default:
		return fmt.Errorf("workflow %s has no pending artifact", workflowID)
	}
}

// RequestChanges rejects the pending artifact and feeds the feedback back to
// the same session as a new user turn.
func (o *Orchestrator) RequestChanges(ctx context.Context, workflowID, feedback string) error {
	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if !wf.AwaitingApproval {
		return fmt.Errorf("workflow %s is not awaiting approval", workflowID)
	}
	o.rejectPendingArtifact(ctx, wf)
	if err := o.repos.Workflows.ClearAwaitingApproval(ctx, workflowID); err != nil {
		return err
	}

	active, err := o.sessions.GetOrRestoreSession(ctx, wf.CurrentSessionID)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if active == nil {
		o.logger.Warn("workflow %s: no active session to deliver feedback to", workflowID)
		return nil
	}

	message := fmt.Sprintf("The user requested changes to your submission:\n\n%s\n\n"+
		"Revise your work and submit again.", feedback)
	o.launchRunner(active, workflowID, o.worktreeFor(ctx, wf), message, false)
	return nil
}

func (o *Orchestrator) rejectPendingArtifact(ctx context.Context, wf *domain.Workflow) {
	var err error
	switch wf.PendingArtifactType {
	case domain.ArtifactScopeCard:
		var card *domain.ScopeCard
		if card, err = o.repos.Artifacts.LatestScopeCard(ctx, wf.ID); err == nil {
			err = o.repos.Artifacts.UpdateScopeCardStatus(ctx, card.ID, domain.ArtifactRejected)
		}
	case domain.ArtifactResearch:
		var card *domain.ResearchCard
		if card, err = o.repos.Artifacts.LatestResearchCard(ctx, wf.ID); err == nil {
			err = o.repos.Artifacts.UpdateResearchCardStatus(ctx, card.ID, domain.ArtifactRejected)
		}
	case domain.ArtifactPlan:
		var plan *domain.Plan
		if plan, err = o.repos.Artifacts.LatestPlan(ctx, wf.ID); err == nil {
			err = o.repos.Artifacts.UpdatePlanStatus(ctx, plan.ID, domain.ArtifactRejected)
		}
	case domain.ArtifactReviewCard:
		var card *domain.ReviewCard
		if card, err = o.repos.Artifacts.LatestReviewCard(ctx, wf.ID); err == nil {
			err = o.repos.Artifacts.UpdateReviewCardStatus(ctx, card.ID, domain.ArtifactRejected)
		}
	}
	if err != nil {
		o.logger.Warn("reject pending artifact for %s: %v", wf.ID, err)
	}
}

// TransitionStage stops the current session, persists the new stage, starts
// the owning agent's session and launches the runner. done has no session.
func (o *Orchestrator) TransitionStage(ctx context.Context, workflowID string, newStage domain.Stage) error {
	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.CurrentSessionID != "" {
		if err := o.sessions.StopSession(ctx, wf.CurrentSessionID); err != nil {
			o.logger.Warn("stop session on transition: %v", err)
		}
	}

	if newStage == domain.StageDone {
		if err := o.repos.Workflows.TransitionStage(ctx, workflowID, domain.StageDone, ""); err != nil {
			return fmt.Errorf("persist stage: %w", err)
		}
		o.emit(events.WorkflowCompleted, map[string]any{"workflow_id": workflowID})
		return nil
	}

	role, ok := domain.RoleForStage(newStage)
	if !ok {
		return fmt.Errorf("stage %s has no owning role", newStage)
	}

	worktreePath := ""
	if newStage == domain.StageInProgress {
		init, err := o.preparePulsing(ctx, wf)
		if err != nil {
			return err
		}
		worktreePath = init.WorktreePath
	}
	if newStage == domain.StageReview {
		card := &domain.ReviewCard{
			ID:         domain.NewArtifactID(),
			WorkflowID: workflowID,
			Status:     domain.ArtifactPending,
			CreatedAt:  time.Now(),
		}
		if err := o.repos.Artifacts.SaveReviewCard(ctx, card); err != nil {
			return fmt.Errorf("create review card: %w", err)
		}
		worktreePath = o.git.WorktreePath(workflowID)
	}

	active, err := o.sessions.StartSession(ctx, session.StartRequest{
		ContextType: domain.ContextWorkflow,
		ContextID:   workflowID,
		AgentRole:   role,
	})
	if err != nil {
		return fmt.Errorf("start %s session: %w", role, err)
	}
	if err := o.repos.Workflows.TransitionStage(ctx, workflowID, newStage, active.Session.ID); err != nil {
		return fmt.Errorf("persist stage: %w", err)
	}
	if newStage == domain.StageInProgress {
		if err := o.pulses.CreatePreflightSetup(ctx, workflowID, active.Session.ID); err != nil {
			return fmt.Errorf("create preflight setup: %w", err)
		}
	}

	o.emit(events.WorkflowStageChanged, map[string]any{
		"workflow_id": workflowID, "from": string(wf.Status), "to": string(newStage),
	})

	prompt, err := o.stagePrompt(ctx, wf, newStage)
	if err != nil {
		return err
	}
	o.launchRunner(active, workflowID, worktreePath, prompt, false)
	return nil
}

// HandlePulseCompletion finishes the running pulse and either starts the next
// one or moves the workflow to review. Broadcast-only: failures surface as
// workflow:error, never as a returned error.
func (o *Orchestrator) HandlePulseCompletion(ctx context.Context, workflowID, commitMessage string, hasUnresolvedIssues bool) {
	running, err := o.repos.Pulses.GetRunningPulse(ctx, workflowID)
	if err != nil {
		o.ErrorWorkflow(ctx, workflowID, fmt.Errorf("no running pulse: %w", err))
		return
	}
	completion, err := o.pulses.CompletePulse(ctx, running.ID, commitMessage, hasUnresolvedIssues)
	if err != nil || !completion.Success {
		if err == nil {
			err = errors.New("pulse completion unsuccessful")
		}
		o.ErrorWorkflow(ctx, workflowID, err)
		return
	}

	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		o.ErrorWorkflow(ctx, workflowID, err)
		return
	}

	if !completion.HasMorePulses {
		if err := o.TransitionStage(ctx, workflowID, domain.StageReview); err != nil {
			o.ErrorWorkflow(ctx, workflowID, err)
		}
		return
	}

	if wf.CurrentSessionID != "" {
		if err := o.sessions.StopSession(ctx, wf.CurrentSessionID); err != nil {
			o.logger.Warn("stop execution session: %v", err)
		}
	}
	worktreePath := o.git.WorktreePath(workflowID)
	next, err := o.pulses.StartNextPulse(ctx, workflowID, worktreePath)
	if err != nil {
		o.ErrorWorkflow(ctx, workflowID, err)
		return
	}
	if next == nil {
		// Remaining pulses are all blocked or finished.
		if err := o.TransitionStage(ctx, workflowID, domain.StageReview); err != nil {
			o.ErrorWorkflow(ctx, workflowID, err)
		}
		return
	}
	if err := o.startPulseSession(ctx, wf, next, worktreePath); err != nil {
		o.ErrorWorkflow(ctx, workflowID, err)
	}
}

// HandlePulseFailure marks the running pulse failed. No stage transition.
func (o *Orchestrator) HandlePulseFailure(ctx context.Context, workflowID, reason string) {
	running, err := o.repos.Pulses.GetRunningPulse(ctx, workflowID)
	if err != nil {
		o.logger.Warn("pulse failure for %s with no running pulse: %s", workflowID, reason)
		return
	}
	if err := o.pulses.FailPulse(ctx, running.ID, reason); err != nil {
		o.logger.Error("fail pulse %s: %v", running.ID, err)
	}
}

// RetryPulse restarts the running pulse in a fresh execution session. When
// the rejection count exceeds the cap, the pulse is failed instead.
func (o *Orchestrator) RetryPulse(ctx context.Context, workflowID string) error {
	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	running, err := o.repos.Pulses.GetRunningPulse(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("no running pulse to retry: %w", err)
	}

	count, err := o.pulses.IncrementRejectionCount(ctx, running.ID)
	if err != nil {
		return err
	}
	if count > o.pulseCfg.MaxRejections {
		if err := o.pulses.FailPulse(ctx, running.ID, "rejected too many times"); err != nil {
			return err
		}
		o.logger.Warn("pulse %s failed after %d rejections", running.ID, count)
		return nil
	}

	if wf.CurrentSessionID != "" {
		if err := o.sessions.StopSession(ctx, wf.CurrentSessionID); err != nil {
			o.logger.Warn("stop session before retry: %v", err)
		}
	}
	// Let cancellation propagate before the replacement session starts.
	select {
	case <-time.After(o.pulseCfg.RetryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.startPulseSession(ctx, wf, running, running.WorktreePath)
}

// ErrorWorkflow errors the current session and broadcasts workflow:error.
// Unknown workflows are ignored. Never returns an error.
func (o *Orchestrator) ErrorWorkflow(ctx context.Context, workflowID string, cause error) {
	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return
	}
	if wf.CurrentSessionID != "" {
		if err := o.sessions.ErrorSession(ctx, wf.CurrentSessionID, cause.Error()); err != nil {
			o.logger.Warn("error session %s: %v", wf.CurrentSessionID, err)
		}
	}
	o.emit(events.WorkflowError, map[string]any{"workflow_id": workflowID, "error": cause.Error()})
}

// finalizeMerge lands the workflow branch on the base branch and completes
// the workflow. On a merge error the worktree is restored to the workflow
// branch and the error is surfaced to the approver.
func (o *Orchestrator) finalizeMerge(ctx context.Context, wf *domain.Workflow, opts ApprovalOptions) error {
	card, err := o.repos.Artifacts.LatestReviewCard(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("load review card: %w", err)
	}
	worktreePath := o.git.WorktreePath(wf.ID)
	workflowBranch := o.git.WorkflowBranch(wf.ID)

	if diff, derr := o.git.Diff(ctx, worktreePath, wf.BaseBranch); derr == nil {
		if serr := o.repos.Artifacts.SetReviewCardDiff(ctx, card.ID, diff); serr != nil {
			o.logger.Warn("persist review diff: %v", serr)
		}
	} else {
		o.logger.Warn("compute review diff: %v", derr)
	}

	strategy := opts.MergeStrategy
	if strategy == "" {
		strategy = domain.MergeSquash
	}
	commitMessage := opts.CommitMessage
	if commitMessage == "" {
		commitMessage = card.SuggestedCommitMessage
	}
	if commitMessage == "" {
		commitMessage = wf.Title
	}

	result, err := o.git.MergeWorkflowBranch(ctx, gitx.MergeRequest{
		WorkflowBranch: workflowBranch,
		BaseBranch:     wf.BaseBranch,
		Strategy:       string(strategy),
		CommitMessage:  commitMessage,
	})
	if err != nil {
		if cerr := o.git.CheckoutInWorktree(ctx, worktreePath, workflowBranch); cerr != nil {
			o.logger.Warn("restore worktree after merge failure: %v", cerr)
		}
		return fmt.Errorf("Failed to merge workflow branch into %s: %w", wf.BaseBranch, err)
	}
	if !result.Success {
		// A non-throwing failed merge still proceeds to cleanup and done.
		o.logger.Warn("merge of %s reported failure without error", wf.ID)
	}

	if err := o.repos.Artifacts.UpdateReviewCardStatus(ctx, card.ID, domain.ArtifactApproved); err != nil {
		o.logger.Warn("approve review card: %v", err)
	}
	if err := o.repos.Workflows.ClearAwaitingApproval(ctx, wf.ID); err != nil {
		return err
	}
	if err := o.git.CleanupWorkflow(ctx, wf.ID); err != nil {
		o.logger.Warn("cleanup worktree for %s: %v", wf.ID, err)
	}
	if err := o.TransitionStage(ctx, wf.ID, domain.StageDone); err != nil {
		return err
	}
	if o.approvals != nil {
		o.approvals.CleanupWorkflow(wf.ID)
	}
	if o.ExtractKnowledge != nil {
		o.ExtractKnowledge(ctx, wf)
	}
	return nil
}

// runQuickPath skips researching and planning: a single pulse is synthesized
// from the scope card and the workflow jumps straight to preflight.
func (o *Orchestrator) runQuickPath(ctx context.Context, wf *domain.Workflow, card *domain.ScopeCard) error {
	skipped := []domain.Stage{domain.StageResearching, domain.StagePlanning}
	if err := o.repos.Workflows.SetSkippedStages(ctx, wf.ID, skipped); err != nil {
		return fmt.Errorf("set skipped stages: %w", err)
	}

	description := card.Summary
	if len(card.InScope) > 0 {
		description += "\n\nIn scope:\n- " + strings.Join(card.InScope, "\n- ")
	}
	planned := []domain.PulseDescriptor{{
		ID:          "quick-1",
		Title:       wf.Title,
		Description: description,
	}}
	if _, err := o.preparePulsing(ctx, wf); err != nil {
		return err
	}
	if err := o.pulses.CreatePulsesFromPlan(ctx, wf.ID, planned); err != nil {
		return err
	}
	if err := o.repos.Workflows.ClearAwaitingApproval(ctx, wf.ID); err != nil {
		return err
	}
	return o.TransitionStage(ctx, wf.ID, domain.StageInProgress)
}

// preparePulsing resolves the base branch and creates the worktree. Safe to
// call more than once for a workflow.
func (o *Orchestrator) preparePulsing(ctx context.Context, wf *domain.Workflow) (*PulsingInit, error) {
	if wf.BaseBranch == "" {
		branch, err := o.git.CurrentBranch(ctx, o.projectRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve base branch: %w", err)
		}
		if err := o.repos.Workflows.SetBaseBranch(ctx, wf.ID, branch); err != nil {
			return nil, err
		}
		wf.BaseBranch = branch
	}
	return o.pulses.InitializePulsing(ctx, wf.ID, wf.BaseBranch)
}

func (o *Orchestrator) startStageSession(ctx context.Context, wf *domain.Workflow, role domain.AgentRole, pulseID string) (*session.ActiveSession, error) {
	active, err := o.sessions.StartSession(ctx, session.StartRequest{
		ContextType: domain.ContextWorkflow,
		ContextID:   wf.ID,
		AgentRole:   role,
		PulseID:     pulseID,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s session: %w", role, err)
	}
	if err := o.repos.Workflows.SetCurrentSession(ctx, wf.ID, active.Session.ID); err != nil {
		return nil, err
	}
	return active, nil
}

func (o *Orchestrator) startPulseSession(ctx context.Context, wf *domain.Workflow, pulse *domain.Pulse, worktreePath string) error {
	active, err := o.startStageSession(ctx, wf, domain.RoleExecution, pulse.ID)
	if err != nil {
		return err
	}
	prompt := fmt.Sprintf("Implement this pulse in the worktree.\n\nTitle: %s\n\n%s\n\n"+
		"When the change is complete and verified, call complete_pulse with a commit message.",
		pulse.Title, pulse.Description)
	o.launchRunner(active, wf.ID, worktreePath, prompt, false)
	return nil
}

// launchRunner starts the agent runner in a detached goroutine. Runner
// failures surface only through session/workflow events.
func (o *Orchestrator) launchRunner(active *session.ActiveSession, workflowID, worktreePath, prompt string, hidden bool) {
	cfg := agent.Config{ProjectRoot: o.projectRoot, WorktreePath: worktreePath}
	go func() {
		err := o.runner.Run(active.Context(), active.Session, cfg, prompt, agent.RunOptions{Hidden: hidden})
		if err == nil {
			return
		}
		o.logger.Error("runner for session %s: %v", active.Session.ID, err)
		ctx := context.Background()
		if serr := o.sessions.ErrorSession(ctx, active.Session.ID, err.Error()); serr != nil {
			o.logger.Warn("error session after runner failure: %v", serr)
		}
		o.ErrorWorkflow(ctx, workflowID, err)
	}()
}

func (o *Orchestrator) worktreeFor(ctx context.Context, wf *domain.Workflow) string {
	if wf.Status == domain.StageInProgress || wf.Status == domain.StageReview {
		return o.git.WorktreePath(wf.ID)
	}
	return ""
}

func (o *Orchestrator) scopingPrompt(wf *domain.Workflow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A new workflow needs scoping.\n\nTitle: %s\n", wf.Title)
	if wf.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", wf.Description)
	}
	b.WriteString("\nExplore the codebase, then submit a scope card.")
	return b.String()
}

// stagePrompt builds the initial prompt for a stage's agent, folding in the
// approved artifacts of earlier stages.
func (o *Orchestrator) stagePrompt(ctx context.Context, wf *domain.Workflow, stage domain.Stage) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s\n", wf.Title)
	if wf.Description != "" {
		fmt.Fprintf(&b, "%s\n", wf.Description)
	}

	appendScope := func() {
		card, err := o.repos.Artifacts.LatestScopeCard(ctx, wf.ID)
		if err != nil {
			return
		}
		fmt.Fprintf(&b, "\nApproved scope: %s\n", card.Summary)
		for _, item := range card.InScope {
			fmt.Fprintf(&b, "- In scope: %s\n", item)
		}
		for _, item := range card.OutOfScope {
			fmt.Fprintf(&b, "- Out of scope: %s\n", item)
		}
	}

	switch stage {
	case domain.StageScoping:
		b.WriteString("\nExplore the codebase, then submit a scope card.")
	case domain.StageResearching:
		appendScope()
		b.WriteString("\nResearch how this scope touches the codebase, then submit your findings.")
	case domain.StagePlanning:
		appendScope()
		if card, err := o.repos.Artifacts.LatestResearchCard(ctx, wf.ID); err == nil {
			fmt.Fprintf(&b, "\nResearch findings:\n%s\n", card.Findings)
		}
		b.WriteString("\nPlan the implementation as ordered pulses, then submit the plan.")
	case domain.StageInProgress:
		appendScope()
		b.WriteString("\nYou are in a fresh worktree. Verify the project builds and its checks " +
			"run, record baselines for pre-existing diagnostics, then call complete_preflight.")
	case domain.StageReview:
		appendScope()
		b.WriteString("\nReview the diff against the base branch, leave comments, then call complete_review.")
	default:
		return "", fmt.Errorf("no prompt for stage %s", stage)
	}
	return b.String(), nil
}

func (o *Orchestrator) emit(eventType string, payload map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Broadcast(events.Event{Type: eventType, Payload: payload})
}
