package domain

import "time"

// Stage is a workflow pipeline stage.
type Stage string

const (
	StageBacklog     Stage = "backlog"
	StageScoping     Stage = "scoping"
	StageResearching Stage = "researching"
	StagePlanning    Stage = "planning"
	StageInProgress  Stage = "in_progress"
	StageReview      Stage = "review"
	StageDone        Stage = "done"
)

// Priority of a workflow.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ArtifactType identifies the artifact a workflow is waiting on.
type ArtifactType string

const (
	ArtifactNone       ArtifactType = "none"
	ArtifactScopeCard  ArtifactType = "scope_card"
	ArtifactResearch   ArtifactType = "research"
	ArtifactPlan       ArtifactType = "plan"
	ArtifactReviewCard ArtifactType = "review_card"
)

// ArtifactStatus is the review status of a submitted artifact.
type ArtifactStatus string

const (
	ArtifactPending  ArtifactStatus = "pending"
	ArtifactApproved ArtifactStatus = "approved"
	ArtifactRejected ArtifactStatus = "rejected"
)

// Workflow is a stateful job tracked through the stage pipeline.
type Workflow struct {
	ID                  string       `json:"id"`
	Title               string       `json:"title"`
	Description         string       `json:"description,omitempty"`
	Priority            Priority     `json:"priority"`
	Status              Stage        `json:"status"`
	CurrentSessionID    string       `json:"current_session_id,omitempty"`
	AwaitingApproval    bool         `json:"awaiting_approval"`
	PendingArtifactType ArtifactType `json:"pending_artifact_type"`
	SkippedStages       []Stage      `json:"skipped_stages,omitempty"`
	BaseBranch          string       `json:"base_branch,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// ContextType distinguishes what a session is bound to.
type ContextType string

const (
	ContextChannel  ContextType = "channel"
	ContextWorkflow ContextType = "workflow"
)

// AgentRole selects the persona prompt, tool subset and model scenario.
type AgentRole string

const (
	RoleScoping    AgentRole = "scoping"
	RoleResearch   AgentRole = "research"
	RolePlanning   AgentRole = "planning"
	RolePreflight  AgentRole = "preflight"
	RoleExecution  AgentRole = "execution"
	RoleReview     AgentRole = "review"
	RoleDiscussion AgentRole = "discussion"
)

// SessionStatus is the persisted lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Session is one agent execution bound to a context and role.
type Session struct {
	ID          string        `json:"id"`
	ContextType ContextType   `json:"context_type"`
	ContextID   string        `json:"context_id"`
	AgentRole   AgentRole     `json:"agent_role"`
	Status      SessionStatus `json:"status"`
	PulseID     string        `json:"pulse_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ContextKey returns the session manager index key for a context pair.
func ContextKey(ct ContextType, contextID string) string {
	return string(ct) + ":" + contextID
}

// TurnRole distinguishes the author of a turn.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
)

// TurnStatus is the lifecycle of a turn.
type TurnStatus string

const (
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnError     TurnStatus = "error"
)

// Turn is a single round in a session.
type Turn struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	TurnIndex    int        `json:"turn_index"`
	Role         TurnRole   `json:"role"`
	Status       TurnStatus `json:"status"`
	Hidden       bool       `json:"hidden,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Message is one text segment of a turn. Segments split on tool calls.
type Message struct {
	ID           string `json:"id"`
	TurnID       string `json:"turn_id"`
	MessageIndex int    `json:"message_index"`
	Content      string `json:"content"`
}

// Thought is one extended-thinking segment of a turn.
type Thought struct {
	ID           string `json:"id"`
	TurnID       string `json:"turn_id"`
	ThoughtIndex int    `json:"thought_index"`
	Content      string `json:"content"`
}

// ToolCallStatus is the lifecycle of a persisted tool call.
type ToolCallStatus string

const (
	ToolRunning   ToolCallStatus = "running"
	ToolCompleted ToolCallStatus = "completed"
	ToolError     ToolCallStatus = "error"
)

// ToolCallRecord is a persisted tool invocation within a turn.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	TurnID    string         `json:"turn_id"`
	ToolIndex int            `json:"tool_index"`
	ToolName  string         `json:"tool_name"`
	Reason    string         `json:"reason,omitempty"`
	Input     map[string]any `json:"input"`
	Output    string         `json:"output,omitempty"`
	Status    ToolCallStatus `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// RecommendedPath is the scoping agent's routing suggestion.
type RecommendedPath string

const (
	PathQuick RecommendedPath = "quick"
	PathFull  RecommendedPath = "full"
)

// ScopeCard is the scoping stage artifact.
type ScopeCard struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	Summary         string          `json:"summary"`
	InScope         []string        `json:"in_scope,omitempty"`
	OutOfScope      []string        `json:"out_of_scope,omitempty"`
	RecommendedPath RecommendedPath `json:"recommended_path"`
	Status          ArtifactStatus  `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ResearchCard is the researching stage artifact.
type ResearchCard struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Findings   string         `json:"findings"`
	References []string       `json:"references,omitempty"`
	Status     ArtifactStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PulseDescriptor is one planned code-change unit inside a Plan.
type PulseDescriptor struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	ExpectedChanges []string `json:"expected_changes,omitempty"`
	EstimatedSize   string   `json:"estimated_size,omitempty"`
	DependsOn       []string `json:"depends_on,omitempty"`
}

// Plan is the planning stage artifact.
type Plan struct {
	ID         string            `json:"id"`
	WorkflowID string            `json:"workflow_id"`
	Overview   string            `json:"overview,omitempty"`
	Pulses     []PulseDescriptor `json:"pulses"`
	Status     ArtifactStatus    `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ReviewRecommendation is the review agent's verdict.
type ReviewRecommendation string

const (
	ReviewApprove      ReviewRecommendation = "approve"
	ReviewDeny         ReviewRecommendation = "deny"
	ReviewManualReview ReviewRecommendation = "manual_review"
)

// CommentKind distinguishes where a review comment anchors.
type CommentKind string

const (
	CommentLine   CommentKind = "line"
	CommentFile   CommentKind = "file"
	CommentReview CommentKind = "review"
)

// CommentSeverity grades agent review comments. Empty for user comments.
type CommentSeverity string

const (
	SeverityHigh   CommentSeverity = "High"
	SeverityMedium CommentSeverity = "Medium"
	SeverityLow    CommentSeverity = "Low"
)

// ReviewComment is a typed comment attached to a review card.
type ReviewComment struct {
	ID           string          `json:"id"`
	ReviewCardID string          `json:"review_card_id"`
	Kind         CommentKind     `json:"kind"`
	FilePath     string          `json:"file_path,omitempty"`
	StartLine    int             `json:"start_line,omitempty"`
	EndLine      int             `json:"end_line,omitempty"`
	Body         string          `json:"body"`
	Severity     CommentSeverity `json:"severity,omitempty"`
	Author       string          `json:"author"` // "agent" or "user"
	CreatedAt    time.Time       `json:"created_at"`
}

// ReviewCard is the review stage artifact.
type ReviewCard struct {
	ID                     string               `json:"id"`
	WorkflowID             string               `json:"workflow_id"`
	Summary                string               `json:"summary,omitempty"`
	Recommendation         ReviewRecommendation `json:"recommendation,omitempty"`
	SuggestedCommitMessage string               `json:"suggested_commit_message,omitempty"`
	DiffContent            string               `json:"diff_content,omitempty"`
	Status                 ArtifactStatus       `json:"status"`
	CreatedAt              time.Time            `json:"created_at"`
}

// PulseStatus is the lifecycle of a pulse.
type PulseStatus string

const (
	PulseProposed  PulseStatus = "proposed"
	PulseRunning   PulseStatus = "running"
	PulseSucceeded PulseStatus = "succeeded"
	PulseFailed    PulseStatus = "failed"
	PulseStopped   PulseStatus = "stopped"
)

// Pulse is a single code-change unit inside the in_progress stage.
type Pulse struct {
	ID                   string      `json:"id"`
	WorkflowID           string      `json:"workflow_id"`
	PlannedPulseID       string      `json:"planned_pulse_id"`
	PlannedIndex         int         `json:"planned_index"`
	Status               PulseStatus `json:"status"`
	Title                string      `json:"title,omitempty"`
	Description          string      `json:"description"`
	DependsOn            []string    `json:"depends_on,omitempty"`
	CommitMessage        string      `json:"commit_message,omitempty"`
	FailureReason        string      `json:"failure_reason,omitempty"`
	HasUnresolvedIssues  bool        `json:"has_unresolved_issues"`
	IsRecoveryCheckpoint bool        `json:"is_recovery_checkpoint"`
	RejectionCount       int         `json:"rejection_count"`
	WorktreePath         string      `json:"worktree_path,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// IssueType grades a baseline diagnostic.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
)

// BaselineSource names the check that produced a baseline diagnostic.
type BaselineSource string

const (
	SourceBuild BaselineSource = "build"
	SourceLint  BaselineSource = "lint"
	SourceTest  BaselineSource = "test"
)

// Baseline is a pre-existing diagnostic recorded during preflight so later
// verifications ignore it.
type Baseline struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	IssueType   IssueType      `json:"issue_type"`
	Source      BaselineSource `json:"source"`
	Pattern     string         `json:"pattern"`
	FilePath    string         `json:"file_path,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PreflightStatus is the lifecycle of the preflight setup row.
type PreflightStatus string

const (
	PreflightRunning   PreflightStatus = "running"
	PreflightCompleted PreflightStatus = "completed"
	PreflightFailed    PreflightStatus = "failed"
)

// PreflightSetup records the preflight sub-stage for a workflow.
type PreflightSetup struct {
	WorkflowID string          `json:"workflow_id"`
	SessionID  string          `json:"session_id"`
	Status     PreflightStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MergeStrategy selects how a workflow branch lands on the base branch.
type MergeStrategy string

const (
	MergeFastForward MergeStrategy = "fast-forward"
	MergeSquash      MergeStrategy = "squash"
	MergeCommit      MergeStrategy = "merge-commit"
	MergeRebase      MergeStrategy = "rebase"
)
