package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// ConversationRepo is the in-memory ConversationRepository.
type ConversationRepo struct {
	mu       sync.RWMutex
	turns    map[string]*domain.Turn
	messages map[string][]*domain.Message // turnID -> messages
	thoughts map[string][]*domain.Thought
	tools    map[string]*domain.ToolCallRecord // toolCallID -> record
	byTurn   map[string][]string               // turnID -> toolCallIDs in order
}

var _ ports.ConversationRepository = (*ConversationRepo)(nil)

func newConversationRepo() *ConversationRepo {
	return &ConversationRepo{
		turns:    make(map[string]*domain.Turn),
		messages: make(map[string][]*domain.Message),
		thoughts: make(map[string][]*domain.Thought),
		tools:    make(map[string]*domain.ToolCallRecord),
		byTurn:   make(map[string][]string),
	}
}

func (r *ConversationRepo) CreateTurn(_ context.Context, turn *domain.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *turn
	r.turns[turn.ID] = &cp
	return nil
}

func (r *ConversationRepo) CompleteTurn(_ context.Context, turnID string, inputTokens, outputTokens int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	turn, ok := r.turns[turnID]
	if !ok {
		return ports.ErrNotFound
	}
	now := time.Now()
	turn.Status = domain.TurnCompleted
	turn.InputTokens = inputTokens
	turn.OutputTokens = outputTokens
	turn.CompletedAt = &now
	return nil
}

func (r *ConversationRepo) ErrorTurn(_ context.Context, turnID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	turn, ok := r.turns[turnID]
	if !ok {
		return ports.ErrNotFound
	}
	now := time.Now()
	turn.Status = domain.TurnError
	turn.CompletedAt = &now
	return nil
}

func (r *ConversationRepo) SaveMessage(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *msg
	r.messages[msg.TurnID] = append(r.messages[msg.TurnID], &cp)
	return nil
}

func (r *ConversationRepo) SaveThought(_ context.Context, thought *domain.Thought) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *thought
	r.thoughts[thought.TurnID] = append(r.thoughts[thought.TurnID], &cp)
	return nil
}

func (r *ConversationRepo) RecordToolStart(_ context.Context, rec *domain.ToolCallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.tools[rec.ID] = &cp
	r.byTurn[rec.TurnID] = append(r.byTurn[rec.TurnID], rec.ID)
	return nil
}

func (r *ConversationRepo) RecordToolComplete(_ context.Context, toolCallID, output string, status domain.ToolCallStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tools[toolCallID]
	if !ok {
		return ports.ErrNotFound
	}
	now := time.Now()
	rec.Output = output
	rec.Status = status
	rec.EndedAt = &now
	return nil
}

func (r *ConversationRepo) GetHistory(_ context.Context, sessionID string) ([]*domain.Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Turn
	for _, turn := range r.turns {
		if turn.SessionID == sessionID {
			cp := *turn
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnIndex < out[j].TurnIndex })
	return out, nil
}

func (r *ConversationRepo) NextTurnIndex(_ context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	next := 0
	for _, turn := range r.turns {
		if turn.SessionID == sessionID && turn.TurnIndex >= next {
			next = turn.TurnIndex + 1
		}
	}
	return next, nil
}

func (r *ConversationRepo) LoadSessionContext(ctx context.Context, sessionID string) ([]ports.TranscriptEntry, error) {
	turns, err := r.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ports.TranscriptEntry
	for _, turn := range turns {
		msgs := append([]*domain.Message(nil), r.messages[turn.ID]...)
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].MessageIndex < msgs[j].MessageIndex })
		var content string
		for _, m := range msgs {
			content += m.Content
		}
		if content == "" {
			continue
		}
		out = append(out, ports.TranscriptEntry{Role: turn.Role, Content: content})
	}
	return out, nil
}

// MessagesForTurn exposes persisted segments for assertions in tests.
func (r *ConversationRepo) MessagesForTurn(turnID string) []*domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := append([]*domain.Message(nil), r.messages[turnID]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].MessageIndex < msgs[j].MessageIndex })
	return msgs
}

// ToolCallsForTurn exposes persisted tool calls in invocation order.
func (r *ConversationRepo) ToolCallsForTurn(turnID string) []*domain.ToolCallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ToolCallRecord
	for _, id := range r.byTurn[turnID] {
		if rec, ok := r.tools[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}
