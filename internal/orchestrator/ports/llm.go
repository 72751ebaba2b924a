package ports

import "context"

// StreamItemKind discriminates items on an LLM response stream.
type StreamItemKind string

const (
	StreamTextDelta    StreamItemKind = "text_delta"
	StreamThoughtDelta StreamItemKind = "thought_delta"
	StreamToolCall     StreamItemKind = "tool_call"
	StreamStop         StreamItemKind = "stop"
)

// StreamItem is one unit of an LLM response stream. Exactly one of the
// payload fields is set depending on Kind.
type StreamItem struct {
	Kind     StreamItemKind
	Text     string
	ToolName string
	// ToolArgs is the raw argument JSON as emitted by the model. It may be
	// malformed; the executor repairs it before validation.
	ToolArgs string
}

// ChatRole is the role of a chat message sent to the model.
type ChatRole string

const (
	ChatSystem    ChatRole = "system"
	ChatUser      ChatRole = "user"
	ChatAssistant ChatRole = "assistant"
	ChatTool      ChatRole = "tool"
)

// ChatMessage is one entry of the prompt transcript.
type ChatMessage struct {
	Role    ChatRole
	Content string
	// ToolName is set on ChatTool messages feeding a tool result back.
	ToolName string
}

// ChatRequest is a single streaming completion request.
type ChatRequest struct {
	// Scenario selects the model configuration for the agent role, e.g.
	// "scoping" or "execution". The client maps scenarios to models.
	Scenario string
	Messages []ChatMessage
	Tools    []ToolDefinition
}

// StreamHandler receives stream items in order. Returning an error aborts the
// stream.
type StreamHandler func(item StreamItem) error

// StreamingLLMClient is the vendor-neutral LLM port. Implementations stream
// a single assistant response, invoking handler once per item and returning
// after the terminal StreamStop item.
type StreamingLLMClient interface {
	Stream(ctx context.Context, req ChatRequest, handler StreamHandler) error
	// Generate produces a single non-streamed completion, used for workflow
	// title generation and similar one-shot prompts.
	Generate(ctx context.Context, scenario, prompt string) (string, error)
}
