// Package approval implements the per-workflow human approval gate for shell
// commands. Every pending request is eventually resolved by a user decision
// or rejected by workflow cleanup.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/autarch-dev/autarch-sub002/internal/logging"
)

// ErrCleanup rejects pending requests when their workflow is torn down.
var ErrCleanup = errors.New("workflow cleaned up before approval")

// Request identifies one shell command awaiting a decision.
type Request struct {
	WorkflowID string
	SessionID  string
	TurnID     string
	ToolID     string
	Command    string
	Reason     string
}

// Decision is the user's answer to a request.
type Decision struct {
	Approved   bool
	DenyReason string
	// Remember marks identical future commands as auto-approved for the
	// workflow.
	Remember bool
}

type pending struct {
	req  Request
	done chan Decision
	err  chan error
}

const rememberedCap = 512

// Service is the process-wide shell approval registry keyed by workflow.
type Service struct {
	mu         sync.Mutex
	pending    map[string][]*pending // workflowID -> requests, resolution by ToolID
	remembered *lru.Cache[string, struct{}]
	notify     func(Request)
	logger     logging.Logger
}

// NewService constructs the approval service. notify, when non-nil, is called
// for every new request so the delivery layer can surface it to a user.
func NewService(notify func(Request), logger logging.Logger) *Service {
	cache, _ := lru.New[string, struct{}](rememberedCap)
	return &Service{
		pending:    make(map[string][]*pending),
		remembered: cache,
		notify:     notify,
		logger:     logging.OrNop(logger),
	}
}

func rememberKey(workflowID, command string) string {
	return workflowID + "\x00" + command
}

// IsCommandRemembered reports whether the exact command was previously
// approved with remember for this workflow.
func (s *Service) IsCommandRemembered(workflowID, command string) bool {
	_, ok := s.remembered.Get(rememberKey(workflowID, command))
	return ok
}

// RequestApproval suspends the caller until a decision arrives for the
// request, the workflow is cleaned up, or ctx is done.
func (s *Service) RequestApproval(ctx context.Context, req Request) (Decision, error) {
	p := &pending{
		req:  req,
		done: make(chan Decision, 1),
		err:  make(chan error, 1),
	}

	s.mu.Lock()
	s.pending[req.WorkflowID] = append(s.pending[req.WorkflowID], p)
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(req)
	}
	s.logger.Info("shell approval pending: workflow=%s tool=%s command=%q", req.WorkflowID, req.ToolID, req.Command)

	select {
	case decision := <-p.done:
		if decision.Approved && decision.Remember {
			s.remembered.Add(rememberKey(req.WorkflowID, req.Command), struct{}{})
		}
		return decision, nil
	case err := <-p.err:
		return Decision{}, err
	case <-ctx.Done():
		s.remove(req.WorkflowID, req.ToolID)
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers a user decision for the request identified by toolID.
func (s *Service) Resolve(workflowID, toolID string, decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.pending[workflowID]
	for i, p := range queue {
		if p.req.ToolID == toolID {
			s.pending[workflowID] = append(queue[:i], queue[i+1:]...)
			p.done <- decision
			return nil
		}
	}
	return fmt.Errorf("no pending approval for workflow %s tool %s", workflowID, toolID)
}

// CleanupWorkflow rejects all pending requests for the workflow.
func (s *Service) CleanupWorkflow(workflowID string) {
	s.mu.Lock()
	queue := s.pending[workflowID]
	delete(s.pending, workflowID)
	s.mu.Unlock()
	for _, p := range queue {
		p.err <- ErrCleanup
	}
	if len(queue) > 0 {
		s.logger.Info("shell approval: rejected %d pending request(s) for workflow %s", len(queue), workflowID)
	}
}

// PendingCount reports outstanding requests for a workflow.
func (s *Service) PendingCount(workflowID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[workflowID])
}

func (s *Service) remove(workflowID, toolID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.pending[workflowID]
	for i, p := range queue {
		if p.req.ToolID == toolID {
			s.pending[workflowID] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}
