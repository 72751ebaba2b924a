package ports

import "context"

// Tool is a named, schema-validated capability an agent can invoke.
type Tool interface {
	// Execute runs the tool. Soft failures are reported inside ToolResult
	// with a nil error; a non-nil error means the substrate itself broke.
	Execute(ctx context.Context, input map[string]any, tc *ToolContext) (*ToolResult, error)

	// Definition returns the tool's schema for the LLM.
	Definition() ToolDefinition
}

// ToolContext carries the execution scope of a single tool invocation.
type ToolContext struct {
	ProjectRoot  string
	WorktreePath string // pulsing isolation; mutations land here when set
	WorkflowID   string
	SessionID    string
	TurnID       string
	ChannelID    string
	// ToolCallID is unique per invocation and correlates shell approvals.
	ToolCallID string
	// Shared is a per-invocation map for cross-tool success signalling, e.g.
	// block tools record the artifact ID they persisted.
	Shared map[string]any
}

// Root returns the directory all relative paths resolve against.
func (tc *ToolContext) Root() string {
	if tc.WorktreePath != "" {
		return tc.WorktreePath
	}
	return tc.ProjectRoot
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Success bool
	// Output is plain text fed back to the model verbatim.
	Output string
	// ArtifactID is set by block tools that persisted an artifact.
	ArtifactID string
}

// ToolDefinition describes a tool for the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema defines tool parameters (JSON Schema subset).
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description"`
	Enum        []any               `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// ToolDispatcher validates and executes a named tool on behalf of the runner.
type ToolDispatcher interface {
	// Dispatch validates input against the tool schema and executes it.
	// Validation failures come back as unsuccessful ToolResults.
	Dispatch(ctx context.Context, name string, rawArgs string, tc *ToolContext) (*ToolResult, error)
	// Definitions returns the schemas of the named tools, in order.
	Definitions(names []string) []ToolDefinition
	// Has reports whether a tool is registered.
	Has(name string) bool
}

// StageNotifier is the narrow callback surface the runner uses to tell the
// workflow orchestrator about stage-completion tools.
type StageNotifier interface {
	// HandleToolResult classifies a stage-completion tool mid-stream.
	HandleToolResult(ctx context.Context, workflowID, toolName, artifactID string) (*ToolResultDecision, error)
	// HandleTurnCompletion processes deferred tools after the turn ends.
	HandleTurnCompletion(ctx context.Context, workflowID string, outcome TurnOutcome) error
}

// TurnOutcome summarizes a completed turn for deferred tool handling.
type TurnOutcome struct {
	SessionID string
	// ToolNames is the set of tools that succeeded during the turn.
	ToolNames []string
	// Pulse completion details, stashed by the complete_pulse marker.
	PulseCommitMessage       string
	PulseHasUnresolvedIssues bool
}

// ToolResultDecision is the outcome of HandleToolResult.
type ToolResultDecision struct {
	Transitioned     bool
	AwaitingApproval bool
	ArtifactID       string
}
