package ports

import (
	"context"
	"errors"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
)

// ErrNotFound is returned by repositories when the identified row is absent.
var ErrNotFound = errors.New("not found")

// WorkflowRepository persists workflows. All operations are idempotent with
// respect to their identifying key.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, workflowID string) (*domain.Workflow, error)
	UpdateStatus(ctx context.Context, workflowID string, status domain.Stage) error
	SetCurrentSession(ctx context.Context, workflowID, sessionID string) error
	SetAwaitingApproval(ctx context.Context, workflowID string, artifactType domain.ArtifactType) error
	ClearAwaitingApproval(ctx context.Context, workflowID string) error
	// TransitionStage persists the new stage and session atomically. An empty
	// sessionID clears the current session.
	TransitionStage(ctx context.Context, workflowID string, newStage domain.Stage, sessionID string) error
	SetBaseBranch(ctx context.Context, workflowID, baseBranch string) error
	SetSkippedStages(ctx context.Context, workflowID string, stages []domain.Stage) error
	List(ctx context.Context) ([]*domain.Workflow, error)
	Delete(ctx context.Context, workflowID string) error
}

// ArtifactRepository persists stage artifacts and review comments.
type ArtifactRepository interface {
	SaveScopeCard(ctx context.Context, card *domain.ScopeCard) error
	LatestScopeCard(ctx context.Context, workflowID string) (*domain.ScopeCard, error)
	UpdateScopeCardStatus(ctx context.Context, cardID string, status domain.ArtifactStatus) error

	SaveResearchCard(ctx context.Context, card *domain.ResearchCard) error
	LatestResearchCard(ctx context.Context, workflowID string) (*domain.ResearchCard, error)
	UpdateResearchCardStatus(ctx context.Context, cardID string, status domain.ArtifactStatus) error

	SavePlan(ctx context.Context, plan *domain.Plan) error
	LatestPlan(ctx context.Context, workflowID string) (*domain.Plan, error)
	UpdatePlanStatus(ctx context.Context, planID string, status domain.ArtifactStatus) error

	SaveReviewCard(ctx context.Context, card *domain.ReviewCard) error
	LatestReviewCard(ctx context.Context, workflowID string) (*domain.ReviewCard, error)
	UpdateReviewCardStatus(ctx context.Context, cardID string, status domain.ArtifactStatus) error
	SetReviewCardDiff(ctx context.Context, cardID, diff string) error
	CompleteReviewCard(ctx context.Context, cardID string, recommendation domain.ReviewRecommendation, summary, suggestedCommitMessage string) error

	AddReviewComment(ctx context.Context, comment *domain.ReviewComment) error
	ListReviewComments(ctx context.Context, reviewCardID string) ([]*domain.ReviewComment, error)
	DeleteReviewComment(ctx context.Context, commentID string) error

	// DeleteForWorkflow cascades all artifacts and comments for a workflow.
	DeleteForWorkflow(ctx context.Context, workflowID string) error
}

// ConversationRepository persists turns and their children.
type ConversationRepository interface {
	CreateTurn(ctx context.Context, turn *domain.Turn) error
	CompleteTurn(ctx context.Context, turnID string, inputTokens, outputTokens int) error
	ErrorTurn(ctx context.Context, turnID string) error
	SaveMessage(ctx context.Context, msg *domain.Message) error
	SaveThought(ctx context.Context, thought *domain.Thought) error
	RecordToolStart(ctx context.Context, rec *domain.ToolCallRecord) error
	RecordToolComplete(ctx context.Context, toolCallID, output string, status domain.ToolCallStatus) error
	// GetHistory returns the turns of a session in turn-index order.
	GetHistory(ctx context.Context, sessionID string) ([]*domain.Turn, error)
	// NextTurnIndex returns the next monotonic turn index for a session.
	NextTurnIndex(ctx context.Context, sessionID string) (int, error)
	// LoadSessionContext reassembles the message transcript for re-prompting.
	LoadSessionContext(ctx context.Context, sessionID string) ([]TranscriptEntry, error)
}

// TranscriptEntry is one reassembled exchange item for re-prompting.
type TranscriptEntry struct {
	Role    domain.TurnRole
	Content string
}

// PulseRepository persists pulses, preflight setup and baselines.
type PulseRepository interface {
	Create(ctx context.Context, pulse *domain.Pulse) error
	GetByID(ctx context.Context, pulseID string) (*domain.Pulse, error)
	StartPulse(ctx context.Context, pulseID, worktreePath string) error
	CompletePulse(ctx context.Context, pulseID, commitMessage string, hasUnresolvedIssues bool) error
	FailPulse(ctx context.Context, pulseID, reason string) error
	StopPulse(ctx context.Context, pulseID string) error
	GetRunningPulse(ctx context.Context, workflowID string) (*domain.Pulse, error)
	GetPulsesForWorkflow(ctx context.Context, workflowID string) ([]*domain.Pulse, error)
	// GetNextProposedPulse returns the next proposed pulse whose dependencies
	// have all succeeded, ordered by planned index. ErrNotFound if none.
	GetNextProposedPulse(ctx context.Context, workflowID string) (*domain.Pulse, error)
	IncrementRejectionCount(ctx context.Context, pulseID string) (int, error)

	CreatePreflightSetup(ctx context.Context, setup *domain.PreflightSetup) error
	UpdatePreflightStatus(ctx context.Context, workflowID string, status domain.PreflightStatus) error
	GetPreflightSetup(ctx context.Context, workflowID string) (*domain.PreflightSetup, error)

	RecordBaseline(ctx context.Context, baseline *domain.Baseline) error
	// MatchesBaseline reports whether the diagnostic text matches a recorded
	// baseline pattern for the workflow.
	MatchesBaseline(ctx context.Context, workflowID, diagnostic string) (bool, error)
	CountBaselines(ctx context.Context, workflowID string) (int, error)

	DeleteForWorkflow(ctx context.Context, workflowID string) error
}

// SessionRepository persists sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error
	// GetActiveByContext returns the active session for a context, if any.
	GetActiveByContext(ctx context.Context, contextType domain.ContextType, contextID string) (*domain.Session, error)
}

// Repositories bundles the repository set for dependency injection.
type Repositories struct {
	Workflows     WorkflowRepository
	Artifacts     ArtifactRepository
	Conversations ConversationRepository
	Pulses        PulseRepository
	Sessions      SessionRepository
}
