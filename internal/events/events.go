package events

// Event is a typed lifecycle notification with a free-form payload. Delivery
// is best-effort; persisted state remains the source of truth.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Session lifecycle events.
const (
	SessionStarted   = "session:started"
	SessionCompleted = "session:completed"
	SessionError     = "session:error"
)

// Turn streaming events.
const (
	TurnStarted         = "turn:started"
	TurnMessageDelta    = "turn:message_delta"
	TurnSegmentComplete = "turn:segment_complete"
	TurnThoughtDelta    = "turn:thought_delta"
	TurnToolStarted     = "turn:tool_started"
	TurnToolCompleted   = "turn:tool_completed"
	TurnCompleted       = "turn:completed"
)

// Question flow events.
const (
	QuestionsAsked     = "questions:asked"
	QuestionsAnswered  = "questions:answered"
	QuestionsSubmitted = "questions:submitted"
)

// Workflow lifecycle events.
const (
	WorkflowCreated        = "workflow:created"
	WorkflowStageChanged   = "workflow:stage_changed"
	WorkflowApprovalNeeded = "workflow:approval_needed"
	WorkflowCompleted      = "workflow:completed"
	WorkflowError          = "workflow:error"
)

// Shell approval gate events.
const (
	ApprovalRequested = "approval:requested"
)

// Channel lifecycle events.
const (
	ChannelCreated = "channel:created"
	ChannelDeleted = "channel:deleted"
)
