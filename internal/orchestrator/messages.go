package orchestrator

import (
	"context"
	"fmt"

	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/session"
)

// SendMessage delivers a user message to a session and relaunches the runner
// non-blocking. The session is restored from the store if necessary.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, content string) error {
	active, err := o.sessions.GetOrRestoreSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if active == nil {
		return fmt.Errorf("session %s is not active", sessionID)
	}

	workflowID := ""
	worktreePath := ""
	if active.Session.ContextType == domain.ContextWorkflow {
		workflowID = active.Session.ContextID
		if wf, err := o.repos.Workflows.GetByID(ctx, workflowID); err == nil {
			worktreePath = o.worktreeFor(ctx, wf)
		}
	}

	o.answersMu.Lock()
	answered := o.awaitingAnswers[sessionID]
	delete(o.awaitingAnswers, sessionID)
	o.answersMu.Unlock()
	if answered {
		o.emit(events.QuestionsAnswered, map[string]any{
			"workflow_id": workflowID,
			"session_id":  sessionID,
		})
	}

	o.launchRunner(active, workflowID, worktreePath, content, false)
	return nil
}

// StartChannelSession opens (or replaces) the discussion session for a
// channel and feeds it the first message.
func (o *Orchestrator) StartChannelSession(ctx context.Context, channelID, message string) (*domain.Session, error) {
	active, err := o.sessions.StartSession(ctx, session.StartRequest{
		ContextType: domain.ContextChannel,
		ContextID:   channelID,
		AgentRole:   domain.RoleDiscussion,
	})
	if err != nil {
		return nil, fmt.Errorf("start channel session: %w", err)
	}
	o.launchRunner(active, "", "", message, false)
	return active.Session, nil
}

// CreateChannel announces a new channel on the event bus.
func (o *Orchestrator) CreateChannel(channelID, name string) {
	o.emit(events.ChannelCreated, map[string]any{"channel_id": channelID, "name": name})
}

// DeleteChannel stops the channel's session, if any, and announces removal.
func (o *Orchestrator) DeleteChannel(ctx context.Context, channelID string) {
	if active := o.sessions.GetSessionByContext(domain.ContextChannel, channelID); active != nil {
		if err := o.sessions.StopSession(ctx, active.Session.ID); err != nil {
			o.logger.Warn("stop channel session: %v", err)
		}
	}
	o.emit(events.ChannelDeleted, map[string]any{"channel_id": channelID})
}

// DeleteWorkflow removes a done or abandoned workflow and all of its rows.
func (o *Orchestrator) DeleteWorkflow(ctx context.Context, workflowID string) error {
	wf, err := o.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.CurrentSessionID != "" {
		if err := o.sessions.StopSession(ctx, wf.CurrentSessionID); err != nil {
			o.logger.Warn("stop session on delete: %v", err)
		}
	}
	if o.approvals != nil {
		o.approvals.CleanupWorkflow(workflowID)
	}
	if err := o.git.CleanupWorkflow(ctx, workflowID); err != nil {
		o.logger.Warn("cleanup worktree on delete: %v", err)
	}
	if err := o.repos.Artifacts.DeleteForWorkflow(ctx, workflowID); err != nil {
		return err
	}
	if err := o.repos.Pulses.DeleteForWorkflow(ctx, workflowID); err != nil {
		return err
	}
	return o.repos.Workflows.Delete(ctx, workflowID)
}
