package builtin

import (
	"context"
	"errors"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/gitx"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

type getDiff struct {
	workflows ports.WorkflowRepository
	git       *gitx.Service
}

// NewGetDiff returns the get_diff review tool.
func NewGetDiff(workflows ports.WorkflowRepository, git *gitx.Service) ports.Tool {
	return &getDiff{workflows: workflows, git: git}
}

func (t *getDiff) Execute(ctx context.Context, _ map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	wf, err := t.workflows.GetByID(ctx, tc.WorkflowID)
	if err != nil {
		return fail("Error: workflow not found: %v", err), nil
	}
	worktreePath := t.git.WorktreePath(tc.WorkflowID)
	diff, err := t.git.Diff(ctx, worktreePath, wf.BaseBranch)
	if err != nil {
		return fail("Error: failed to compute diff: %v", err), nil
	}
	if diff == "" {
		return ok("No changes against %s", wf.BaseBranch), nil
	}
	return ok("%s", diff), nil
}

func (t *getDiff) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get_diff",
		Description: "Return the unified diff of the workflow branch against its base branch.",
		Parameters: ports.ParameterSchema{
			Type:       "object",
			Properties: withReason(map[string]ports.Property{}),
			Required:   []string{"reason"},
		},
	}
}

type getScopeCard struct {
	artifacts ports.ArtifactRepository
}

// NewGetScopeCard returns the get_scope_card review tool.
func NewGetScopeCard(artifacts ports.ArtifactRepository) ports.Tool {
	return &getScopeCard{artifacts: artifacts}
}

func (t *getScopeCard) Execute(ctx context.Context, _ map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	card, err := t.artifacts.LatestScopeCard(ctx, tc.WorkflowID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return fail("Error: no scope card for this workflow"), nil
		}
		return fail("Error: %v", err), nil
	}
	out := "Summary: " + card.Summary + "\nRecommended path: " + string(card.RecommendedPath)
	for _, item := range card.InScope {
		out += "\nIn scope: " + item
	}
	for _, item := range card.OutOfScope {
		out += "\nOut of scope: " + item
	}
	return ok("%s", out), nil
}

func (t *getScopeCard) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get_scope_card",
		Description: "Fetch the approved scope card for the workflow under review.",
		Parameters: ports.ParameterSchema{
			Type:       "object",
			Properties: withReason(map[string]ports.Property{}),
			Required:   []string{"reason"},
		},
	}
}

// addComment is shared by the three comment tools.
type addComment struct {
	artifacts ports.ArtifactRepository
	kind      domain.CommentKind
}

func (t *addComment) save(ctx context.Context, tc *ports.ToolContext, comment *domain.ReviewComment) (*ports.ToolResult, error) {
	card, err := t.artifacts.LatestReviewCard(ctx, tc.WorkflowID)
	if err != nil {
		return fail("Error: no review card for this workflow: %v", err), nil
	}
	comment.ID = domain.NewID("rc")
	comment.ReviewCardID = card.ID
	comment.Kind = t.kind
	comment.Author = "agent"
	comment.CreatedAt = time.Now()
	if err := t.artifacts.AddReviewComment(ctx, comment); err != nil {
		return fail("Error: failed to save comment: %v", err), nil
	}
	return ok("Comment recorded"), nil
}

type addLineComment struct{ addComment }

// NewAddLineComment returns the add_line_comment review tool.
func NewAddLineComment(artifacts ports.ArtifactRepository) ports.Tool {
	return &addLineComment{addComment{artifacts: artifacts, kind: domain.CommentLine}}
}

func (t *addLineComment) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	return t.save(ctx, tc, &domain.ReviewComment{
		FilePath:  stringArg(input, "file_path"),
		StartLine: intArg(input, "start_line", 0),
		EndLine:   intArg(input, "end_line", intArg(input, "start_line", 0)),
		Body:      stringArg(input, "comment"),
		Severity:  domain.CommentSeverity(stringArg(input, "severity")),
	})
}

func (t *addLineComment) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "add_line_comment",
		Description: "Attach a review comment to a line range of a changed file.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"file_path":  {Type: "string", Description: "File the comment refers to"},
				"start_line": {Type: "integer", Description: "First line of the range"},
				"end_line":   {Type: "integer", Description: "Last line of the range, defaults to start_line"},
				"comment":    {Type: "string", Description: "Comment body"},
				"severity":   {Type: "string", Description: "Finding severity", Enum: []any{"High", "Medium", "Low"}},
			}),
			Required: []string{"file_path", "start_line", "comment", "severity", "reason"},
		},
	}
}

type addFileComment struct{ addComment }

// NewAddFileComment returns the add_file_comment review tool.
func NewAddFileComment(artifacts ports.ArtifactRepository) ports.Tool {
	return &addFileComment{addComment{artifacts: artifacts, kind: domain.CommentFile}}
}

func (t *addFileComment) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	return t.save(ctx, tc, &domain.ReviewComment{
		FilePath: stringArg(input, "file_path"),
		Body:     stringArg(input, "comment"),
		Severity: domain.CommentSeverity(stringArg(input, "severity")),
	})
}

func (t *addFileComment) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "add_file_comment",
		Description: "Attach a review comment to a whole file.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"file_path": {Type: "string", Description: "File the comment refers to"},
				"comment":   {Type: "string", Description: "Comment body"},
				"severity":  {Type: "string", Description: "Finding severity", Enum: []any{"High", "Medium", "Low"}},
			}),
			Required: []string{"file_path", "comment", "severity", "reason"},
		},
	}
}

type addReviewComment struct{ addComment }

// NewAddReviewComment returns the add_review_comment review tool.
func NewAddReviewComment(artifacts ports.ArtifactRepository) ports.Tool {
	return &addReviewComment{addComment{artifacts: artifacts, kind: domain.CommentReview}}
}

func (t *addReviewComment) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	return t.save(ctx, tc, &domain.ReviewComment{
		Body:     stringArg(input, "comment"),
		Severity: domain.CommentSeverity(stringArg(input, "severity")),
	})
}

func (t *addReviewComment) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "add_review_comment",
		Description: "Attach an overall review comment not tied to a file.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"comment":  {Type: "string", Description: "Comment body"},
				"severity": {Type: "string", Description: "Finding severity", Enum: []any{"High", "Medium", "Low"}},
			}),
			Required: []string{"comment", "severity", "reason"},
		},
	}
}

type completeReview struct {
	artifacts ports.ArtifactRepository
}

// NewCompleteReview returns the complete_review stage-completion tool.
func NewCompleteReview(artifacts ports.ArtifactRepository) ports.Tool {
	return &completeReview{artifacts: artifacts}
}

func (t *completeReview) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	card, err := t.artifacts.LatestReviewCard(ctx, tc.WorkflowID)
	if err != nil {
		return fail("Error: no review card for this workflow: %v", err), nil
	}
	recommendation := domain.ReviewRecommendation(stringArg(input, "recommendation"))
	if err := t.artifacts.CompleteReviewCard(ctx, card.ID, recommendation,
		stringArg(input, "summary"), stringArg(input, "suggested_commit_message")); err != nil {
		return fail("Error: failed to complete review: %v", err), nil
	}
	result := ok("Review card submitted (%s)", recommendation)
	result.ArtifactID = card.ID
	return result, nil
}

func (t *completeReview) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "complete_review",
		Description: "Finalize the review card with a recommendation and suggested commit message.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"recommendation":           {Type: "string", Description: "Review verdict", Enum: []any{"approve", "deny", "manual_review"}},
				"summary":                  {Type: "string", Description: "Summary of findings"},
				"suggested_commit_message": {Type: "string", Description: "Commit message for the merge"},
			}),
			Required: []string{"recommendation", "summary", "suggested_commit_message", "reason"},
		},
	}
}
