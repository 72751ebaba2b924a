package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/tools/builtin"
)

// maxToolIterations bounds the stream/tool loop of one turn.
const maxToolIterations = 32

// Config is the per-session runner configuration.
type Config struct {
	ProjectRoot  string
	WorktreePath string
	ChannelID    string
	// AllowedTools overrides the role's tool subset when non-empty.
	AllowedTools []string
}

// RunOptions are per-run flags.
type RunOptions struct {
	// Hidden marks the user turn as internal, e.g. synthesized prompts.
	Hidden bool
}

// Runner executes session turns against the streaming LLM port.
type Runner struct {
	convo    ports.ConversationRepository
	llm      ports.StreamingLLMClient
	tools    ports.ToolDispatcher
	notifier ports.StageNotifier
	bus      *events.Bus
	roles    *RoleRegistry
	logger   logging.Logger
}

// NewRunner constructs a runner. notifier may be nil for channel sessions.
func NewRunner(convo ports.ConversationRepository, llm ports.StreamingLLMClient,
	dispatcher ports.ToolDispatcher, notifier ports.StageNotifier,
	bus *events.Bus, roles *RoleRegistry, logger logging.Logger) *Runner {
	return &Runner{
		convo:    convo,
		llm:      llm,
		tools:    dispatcher,
		notifier: notifier,
		bus:      bus,
		roles:    roles,
		logger:   logging.OrNop(logger),
	}
}

type pendingCall struct {
	name string
	args string
}

// turnState accumulates the streaming assistant turn.
type turnState struct {
	turnID       string
	sessionID    string
	segmentIndex int
	thoughtIndex int
	segment      strings.Builder
	thought      strings.Builder
	streamedText strings.Builder
	toolIndex    int
}

// Run executes one full turn for a session: records the user turn, streams
// the assistant response, dispatches tool calls, and notifies the
// orchestrator after completion. An error return means the turn failed and
// the caller should error the session.
func (r *Runner) Run(ctx context.Context, sess *domain.Session, cfg Config, message string, opts RunOptions) error {
	if err := r.recordUserTurn(ctx, sess, message, opts.Hidden); err != nil {
		return err
	}

	roleCfg, err := r.roles.Resolve(sess.AgentRole)
	if err != nil {
		return err
	}
	allowed := roleCfg.AllowedTools
	if len(cfg.AllowedTools) > 0 {
		allowed = cfg.AllowedTools
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	transcript, err := r.convo.LoadSessionContext(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load session context: %w", err)
	}
	prompt := make([]ports.ChatMessage, 0, len(transcript)+1)
	prompt = append(prompt, ports.ChatMessage{Role: ports.ChatSystem, Content: roleCfg.Persona})
	for _, entry := range transcript {
		role := ports.ChatUser
		if entry.Role == domain.TurnAssistant {
			role = ports.ChatAssistant
		}
		prompt = append(prompt, ports.ChatMessage{Role: role, Content: entry.Content})
	}

	turnIdx, err := r.convo.NextTurnIndex(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("next turn index: %w", err)
	}
	turn := &domain.Turn{
		ID:        domain.NewTurnID(),
		SessionID: sess.ID,
		TurnIndex: turnIdx,
		Role:      domain.TurnAssistant,
		Status:    domain.TurnStreaming,
		Hidden:    opts.Hidden,
		CreatedAt: time.Now(),
	}
	if err := r.convo.CreateTurn(ctx, turn); err != nil {
		return fmt.Errorf("create assistant turn: %w", err)
	}
	r.emit(events.TurnStarted, map[string]any{
		"session_id": sess.ID, "turn_id": turn.ID, "role": string(domain.TurnAssistant),
	})

	workflowID := ""
	if sess.ContextType == domain.ContextWorkflow {
		workflowID = sess.ContextID
	}
	tc := &ports.ToolContext{
		ProjectRoot:  cfg.ProjectRoot,
		WorktreePath: cfg.WorktreePath,
		WorkflowID:   workflowID,
		SessionID:    sess.ID,
		TurnID:       turn.ID,
		ChannelID:    cfg.ChannelID,
		Shared:       make(map[string]any),
	}

	state := &turnState{turnID: turn.ID, sessionID: sess.ID}
	succeeded := make([]string, 0, 4)
	succeededSet := make(map[string]bool)
	artifactIDs := make(map[string]string)

	req := ports.ChatRequest{
		Scenario: roleCfg.Scenario,
		Messages: prompt,
		Tools:    r.tools.Definitions(allowed),
	}

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		var calls []pendingCall
		handler := func(item ports.StreamItem) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch item.Kind {
			case ports.StreamTextDelta:
				state.segment.WriteString(item.Text)
				state.streamedText.WriteString(item.Text)
				r.emit(events.TurnMessageDelta, map[string]any{
					"session_id": sess.ID, "turn_id": turn.ID,
					"segment_index": state.segmentIndex, "delta": item.Text,
				})
			case ports.StreamThoughtDelta:
				state.thought.WriteString(item.Text)
				state.streamedText.WriteString(item.Text)
				r.emit(events.TurnThoughtDelta, map[string]any{
					"session_id": sess.ID, "turn_id": turn.ID,
					"thought_index": state.thoughtIndex, "delta": item.Text,
				})
			case ports.StreamToolCall:
				if err := r.flushSegments(ctx, state); err != nil {
					return err
				}
				calls = append(calls, pendingCall{name: item.ToolName, args: item.ToolArgs})
			case ports.StreamStop:
			}
			return nil
		}

		if err := r.llm.Stream(ctx, req, handler); err != nil {
			r.failTurn(turn.ID)
			return fmt.Errorf("llm stream: %w", err)
		}
		if len(calls) == 0 {
			break
		}

		aborted := false
		for _, call := range calls {
			output, success, artifactID, err := r.invokeTool(ctx, state, tc, call, allowedSet)
			if err != nil {
				r.failTurn(turn.ID)
				return err
			}
			if success && !succeededSet[call.name] {
				succeededSet[call.name] = true
				succeeded = append(succeeded, call.name)
			}
			if success && artifactID != "" {
				artifactIDs[call.name] = artifactID
			}
			req.Messages = append(req.Messages,
				ports.ChatMessage{Role: ports.ChatAssistant, Content: fmt.Sprintf("[invoked %s]", call.name)},
				ports.ChatMessage{Role: ports.ChatTool, ToolName: call.name, Content: output},
			)
			if ctx.Err() != nil {
				aborted = true
				break
			}
		}
		if aborted || ctx.Err() != nil {
			break
		}
	}

	if err := r.flushSegments(ctx, state); err != nil {
		r.failTurn(turn.ID)
		return err
	}

	inputTokens := 0
	for _, msg := range req.Messages {
		inputTokens += countTokens(msg.Content)
	}
	outputTokens := countTokens(state.streamedText.String())
	if err := r.convo.CompleteTurn(ctx, turn.ID, inputTokens, outputTokens); err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	r.emit(events.TurnCompleted, map[string]any{
		"session_id": sess.ID, "turn_id": turn.ID,
		"input_tokens": inputTokens, "output_tokens": outputTokens,
	})

	return r.notifyOrchestrator(ctx, sess, tc, succeeded, artifactIDs)
}

func (r *Runner) recordUserTurn(ctx context.Context, sess *domain.Session, message string, hidden bool) error {
	idx, err := r.convo.NextTurnIndex(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("next turn index: %w", err)
	}
	now := time.Now()
	turn := &domain.Turn{
		ID:          domain.NewTurnID(),
		SessionID:   sess.ID,
		TurnIndex:   idx,
		Role:        domain.TurnUser,
		Status:      domain.TurnCompleted,
		Hidden:      hidden,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := r.convo.CreateTurn(ctx, turn); err != nil {
		return fmt.Errorf("create user turn: %w", err)
	}
	msg := &domain.Message{ID: domain.NewID("msg"), TurnID: turn.ID, MessageIndex: 0, Content: message}
	if err := r.convo.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	r.emit(events.TurnStarted, map[string]any{
		"session_id": sess.ID, "turn_id": turn.ID, "role": string(domain.TurnUser),
	})
	r.emit(events.TurnCompleted, map[string]any{"session_id": sess.ID, "turn_id": turn.ID})
	return nil
}

// flushSegments persists any accumulated thought and text segment. The text
// segment closes with a segment_complete event; segments are numbered in
// stream order.
func (r *Runner) flushSegments(ctx context.Context, state *turnState) error {
	if state.thought.Len() > 0 {
		thought := &domain.Thought{
			ID:           domain.NewID("tht"),
			TurnID:       state.turnID,
			ThoughtIndex: state.thoughtIndex,
			Content:      state.thought.String(),
		}
		if err := r.convo.SaveThought(ctx, thought); err != nil {
			return fmt.Errorf("save thought: %w", err)
		}
		state.thought.Reset()
		state.thoughtIndex++
	}
	if state.segment.Len() > 0 {
		msg := &domain.Message{
			ID:           domain.NewID("msg"),
			TurnID:       state.turnID,
			MessageIndex: state.segmentIndex,
			Content:      state.segment.String(),
		}
		if err := r.convo.SaveMessage(ctx, msg); err != nil {
			return fmt.Errorf("save message segment: %w", err)
		}
		r.emit(events.TurnSegmentComplete, map[string]any{
			"session_id": state.sessionID, "turn_id": state.turnID,
			"segment_index": state.segmentIndex, "content": msg.Content,
		})
		state.segment.Reset()
		state.segmentIndex++
	}
	return nil
}

// invokeTool persists and executes one tool call. A non-nil error means the
// substrate broke; tool-level failures come back as output text with
// success=false so the model can correct itself.
func (r *Runner) invokeTool(ctx context.Context, state *turnState, tc *ports.ToolContext,
	call pendingCall, allowed map[string]bool) (output string, success bool, artifactID string, err error) {

	var input map[string]any
	_ = json.Unmarshal([]byte(call.args), &input)
	reason, _ := input["reason"].(string)

	rec := &domain.ToolCallRecord{
		ID:        "tool_" + uuid.NewString(),
		TurnID:    state.turnID,
		ToolIndex: state.toolIndex,
		ToolName:  call.name,
		Reason:    reason,
		Input:     input,
		Status:    domain.ToolRunning,
		StartedAt: time.Now(),
	}
	state.toolIndex++
	if err := r.convo.RecordToolStart(ctx, rec); err != nil {
		return "", false, "", fmt.Errorf("record tool start: %w", err)
	}
	r.emit(events.TurnToolStarted, map[string]any{
		"session_id": state.sessionID, "turn_id": state.turnID,
		"tool_call_id": rec.ID, "tool_name": call.name, "reason": reason,
	})

	finish := func(out string, status domain.ToolCallStatus) {
		if perr := r.convo.RecordToolComplete(ctx, rec.ID, out, status); perr != nil {
			r.logger.Error("record tool completion for %s: %v", rec.ID, perr)
		}
		r.emit(events.TurnToolCompleted, map[string]any{
			"session_id": state.sessionID, "turn_id": state.turnID,
			"tool_call_id": rec.ID, "tool_name": call.name,
			"success": status == domain.ToolCompleted, "output": out,
		})
	}

	if ctx.Err() != nil {
		finish("Aborted", domain.ToolError)
		return "Aborted", false, "", nil
	}
	if !allowed[call.name] {
		out := fmt.Sprintf("Error: tool %q is not available to this agent", call.name)
		finish(out, domain.ToolError)
		return out, false, "", nil
	}

	tc.ToolCallID = rec.ID
	result, derr := r.tools.Dispatch(ctx, call.name, call.args, tc)
	if derr != nil {
		finish(derr.Error(), domain.ToolError)
		return "", false, "", derr
	}

	status := domain.ToolCompleted
	if !result.Success {
		status = domain.ToolError
	}
	finish(result.Output, status)
	return result.Output, result.Success, result.ArtifactID, nil
}

// notifyOrchestrator reports stage-completion tools after the turn has fully
// completed. Deferred markers travel only through HandleTurnCompletion.
func (r *Runner) notifyOrchestrator(ctx context.Context, sess *domain.Session,
	tc *ports.ToolContext, succeeded []string, artifactIDs map[string]string) error {

	if r.notifier == nil || sess.ContextType != domain.ContextWorkflow || len(succeeded) == 0 {
		return nil
	}
	workflowID := sess.ContextID

	for _, name := range succeeded {
		_, approvalTool := domain.ApprovalRequiredTools[name]
		if !approvalTool {
			continue
		}
		if _, err := r.notifier.HandleToolResult(ctx, workflowID, name, artifactIDs[name]); err != nil {
			return fmt.Errorf("handle tool result %s: %w", name, err)
		}
	}

	commitMessage, _ := tc.Shared[builtin.SharedPulseCommitMessage].(string)
	unresolved, _ := tc.Shared[builtin.SharedPulseUnresolved].(bool)
	outcome := ports.TurnOutcome{
		SessionID:                sess.ID,
		ToolNames:                succeeded,
		PulseCommitMessage:       commitMessage,
		PulseHasUnresolvedIssues: unresolved,
	}
	if err := r.notifier.HandleTurnCompletion(ctx, workflowID, outcome); err != nil {
		return fmt.Errorf("handle turn completion: %w", err)
	}
	return nil
}

func (r *Runner) failTurn(turnID string) {
	if err := r.convo.ErrorTurn(context.Background(), turnID); err != nil {
		r.logger.Error("mark turn %s errored: %v", turnID, err)
	}
}

func (r *Runner) emit(eventType string, payload map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Broadcast(events.Event{Type: eventType, Payload: payload})
}
