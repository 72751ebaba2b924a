package builtin

import (
	"context"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

type recordBaseline struct {
	pulses ports.PulseRepository
}

// NewRecordBaseline returns the record_baseline preflight tool.
func NewRecordBaseline(pulses ports.PulseRepository) ports.Tool {
	return &recordBaseline{pulses: pulses}
}

func (t *recordBaseline) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	if tc.WorkflowID == "" {
		return fail("Error: record_baseline requires a workflow context"), nil
	}
	baseline := &domain.Baseline{
		ID:          domain.NewID("base"),
		WorkflowID:  tc.WorkflowID,
		IssueType:   domain.IssueType(stringArg(input, "issue_type")),
		Source:      domain.BaselineSource(stringArg(input, "source")),
		Pattern:     stringArg(input, "pattern"),
		FilePath:    stringArg(input, "file_path"),
		Description: stringArg(input, "description"),
		CreatedAt:   time.Now(),
	}
	if err := t.pulses.RecordBaseline(ctx, baseline); err != nil {
		return fail("Error: failed to record baseline: %v", err), nil
	}
	count, _ := t.pulses.CountBaselines(ctx, tc.WorkflowID)
	return ok("Baseline recorded (%d total for this workflow)", count), nil
}

func (t *recordBaseline) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "record_baseline",
		Description: "Record a pre-existing build/lint/test diagnostic so later verifications " +
			"ignore it.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"issue_type":  {Type: "string", Description: "Severity of the diagnostic", Enum: []any{"error", "warning"}},
				"source":      {Type: "string", Description: "Check that produced it", Enum: []any{"build", "lint", "test"}},
				"pattern":     {Type: "string", Description: "Stable substring identifying the diagnostic"},
				"file_path":   {Type: "string", Description: "File the diagnostic points at"},
				"description": {Type: "string", Description: "Free-form description"},
			}),
			Required: []string{"issue_type", "source", "pattern", "reason"},
		},
	}
}
