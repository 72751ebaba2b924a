package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Shared keys the deferred pulse-completion marker stashes for the turn
// completion handler.
const (
	SharedPulseCommitMessage = "pulse_commit_message"
	SharedPulseUnresolved    = "pulse_has_unresolved_issues"
)

type submitScope struct {
	artifacts ports.ArtifactRepository
}

// NewSubmitScope returns the submit_scope stage-completion tool.
func NewSubmitScope(artifacts ports.ArtifactRepository) ports.Tool {
	return &submitScope{artifacts: artifacts}
}

func (t *submitScope) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	card := &domain.ScopeCard{
		ID:              domain.NewArtifactID(),
		WorkflowID:      tc.WorkflowID,
		Summary:         stringArg(input, "summary"),
		InScope:         stringSliceArg(input, "in_scope"),
		OutOfScope:      stringSliceArg(input, "out_of_scope"),
		RecommendedPath: domain.RecommendedPath(stringArg(input, "recommended_path")),
		Status:          domain.ArtifactPending,
		CreatedAt:       time.Now(),
	}
	if card.Summary == "" {
		return fail("Error: summary must not be empty"), nil
	}
	if err := t.artifacts.SaveScopeCard(ctx, card); err != nil {
		return fail("Error: failed to save scope card: %v", err), nil
	}
	result := ok("Scope card submitted for approval")
	result.ArtifactID = card.ID
	return result, nil
}

func (t *submitScope) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "submit_scope",
		Description: "Submit the scope card for human approval. Ends the scoping stage.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"summary":          {Type: "string", Description: "What the workflow will accomplish"},
				"in_scope":         {Type: "array", Description: "Items explicitly in scope", Items: &ports.Property{Type: "string"}},
				"out_of_scope":     {Type: "array", Description: "Items explicitly out of scope", Items: &ports.Property{Type: "string"}},
				"recommended_path": {Type: "string", Description: "Routing suggestion", Enum: []any{"quick", "full"}},
			}),
			Required: []string{"summary", "recommended_path", "reason"},
		},
	}
}

type submitResearch struct {
	artifacts ports.ArtifactRepository
}

// NewSubmitResearch returns the submit_research stage-completion tool.
func NewSubmitResearch(artifacts ports.ArtifactRepository) ports.Tool {
	return &submitResearch{artifacts: artifacts}
}

func (t *submitResearch) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	card := &domain.ResearchCard{
		ID:         domain.NewArtifactID(),
		WorkflowID: tc.WorkflowID,
		Findings:   stringArg(input, "findings"),
		References: stringSliceArg(input, "references"),
		Status:     domain.ArtifactPending,
		CreatedAt:  time.Now(),
	}
	if card.Findings == "" {
		return fail("Error: findings must not be empty"), nil
	}
	if err := t.artifacts.SaveResearchCard(ctx, card); err != nil {
		return fail("Error: failed to save research card: %v", err), nil
	}
	result := ok("Research card submitted for approval")
	result.ArtifactID = card.ID
	return result, nil
}

func (t *submitResearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "submit_research",
		Description: "Submit research findings for human approval. Ends the researching stage.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"findings":   {Type: "string", Description: "What was learned about the codebase"},
				"references": {Type: "array", Description: "Files and symbols the findings rest on", Items: &ports.Property{Type: "string"}},
			}),
			Required: []string{"findings", "reason"},
		},
	}
}

type submitPlan struct {
	artifacts ports.ArtifactRepository
}

// NewSubmitPlan returns the submit_plan stage-completion tool.
func NewSubmitPlan(artifacts ports.ArtifactRepository) ports.Tool {
	return &submitPlan{artifacts: artifacts}
}

func (t *submitPlan) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	raw, err := json.Marshal(input["pulses"])
	if err != nil {
		return fail("Error: invalid pulses: %v", err), nil
	}
	var pulses []domain.PulseDescriptor
	if err := json.Unmarshal(raw, &pulses); err != nil {
		return fail("Error: invalid pulses: %v", err), nil
	}
	if len(pulses) == 0 {
		return fail("Error: a plan needs at least one pulse"), nil
	}
	known := make(map[string]bool, len(pulses))
	for i, pulse := range pulses {
		if pulse.ID == "" {
			return fail("Error: pulse %d is missing an id", i+1), nil
		}
		if pulse.Description == "" {
			return fail("Error: pulse %q is missing a description", pulse.ID), nil
		}
		known[pulse.ID] = true
	}
	for _, pulse := range pulses {
		for _, dep := range pulse.DependsOn {
			if !known[dep] {
				return fail("Error: pulse %q depends on unknown pulse %q", pulse.ID, dep), nil
			}
		}
	}

	plan := &domain.Plan{
		ID:         domain.NewArtifactID(),
		WorkflowID: tc.WorkflowID,
		Overview:   stringArg(input, "overview"),
		Pulses:     pulses,
		Status:     domain.ArtifactPending,
		CreatedAt:  time.Now(),
	}
	if err := t.artifacts.SavePlan(ctx, plan); err != nil {
		return fail("Error: failed to save plan: %v", err), nil
	}
	result := ok("Plan with %d pulse(s) submitted for approval", len(pulses))
	result.ArtifactID = plan.ID
	return result, nil
}

func (t *submitPlan) Definition() ports.ToolDefinition {
	pulseSchema := &ports.Property{
		Type:        "object",
		Description: "One planned code-change unit",
		Properties: map[string]ports.Property{
			"id":               {Type: "string", Description: "Stable identifier unique within the plan"},
			"title":            {Type: "string", Description: "Short pulse title"},
			"description":      {Type: "string", Description: "What the pulse changes and why"},
			"expected_changes": {Type: "array", Description: "Files expected to change", Items: &ports.Property{Type: "string"}},
			"estimated_size":   {Type: "string", Description: "Rough size estimate"},
			"depends_on":       {Type: "array", Description: "IDs of pulses that must land first", Items: &ports.Property{Type: "string"}},
		},
		Required: []string{"id", "description"},
	}
	return ports.ToolDefinition{
		Name:        "submit_plan",
		Description: "Submit the implementation plan for human approval. Ends the planning stage.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"overview": {Type: "string", Description: "Plan overview"},
				"pulses":   {Type: "array", Description: "Ordered pulses", Items: pulseSchema},
			}),
			Required: []string{"pulses", "reason"},
		},
	}
}

type requestExtension struct{}

// NewRequestExtension returns the request_extension control tool.
func NewRequestExtension() ports.Tool { return &requestExtension{} }

func (t *requestExtension) Execute(_ context.Context, input map[string]any, _ *ports.ToolContext) (*ports.ToolResult, error) {
	justification := stringArg(input, "justification")
	if justification == "" {
		return fail("Error: justification must not be empty"), nil
	}
	return ok("Extension granted. Continue working."), nil
}

func (t *requestExtension) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "request_extension",
		Description: "Request more turns when the current stage needs additional work.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"justification": {Type: "string", Description: "Why more work is needed"},
			}),
			Required: []string{"justification", "reason"},
		},
	}
}

type askQuestions struct {
	bus *events.Bus
}

// NewAskQuestions returns the ask_questions control tool.
func NewAskQuestions(bus *events.Bus) ports.Tool {
	return &askQuestions{bus: bus}
}

func (t *askQuestions) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	questions := stringSliceArg(input, "questions")
	if len(questions) == 0 {
		return fail("Error: at least one question is required"), nil
	}
	if t.bus != nil {
		t.bus.Broadcast(events.Event{
			Type: events.QuestionsAsked,
			Payload: map[string]any{
				"workflow_id": tc.WorkflowID,
				"session_id":  tc.SessionID,
				"turn_id":     tc.TurnID,
				"questions":   questions,
			},
		})
	}
	return ok("%d question(s) sent to the user. Their answers will arrive as a new message.", len(questions)), nil
}

func (t *askQuestions) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "ask_questions",
		Description: "Ask the user clarifying questions. Answers arrive as a later user turn.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"questions": {Type: "array", Description: "Questions for the user", Items: &ports.Property{Type: "string"}},
			}),
			Required: []string{"questions", "reason"},
		},
	}
}

// completePreflight is a deferred turn-completion marker. It performs no work
// itself; the orchestrator reacts when it sees the tool name in the turn's
// succeeded set.
type completePreflight struct{}

// NewCompletePreflight returns the complete_preflight marker tool.
func NewCompletePreflight() ports.Tool { return &completePreflight{} }

func (t *completePreflight) Execute(_ context.Context, input map[string]any, _ *ports.ToolContext) (*ports.ToolResult, error) {
	summary := stringArg(input, "summary")
	return ok("Preflight recorded: %s\nExecution begins when this turn completes.", summary), nil
}

func (t *completePreflight) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "complete_preflight",
		Description: "Mark environment preflight as done. Execution starts after the turn ends.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"summary": {Type: "string", Description: "What was verified and what baselines were recorded"},
			}),
			Required: []string{"summary", "reason"},
		},
	}
}

// completePulse is a deferred turn-completion marker. The commit message and
// unresolved-issues flag are stashed in the shared map so the turn completion
// handler can persist them on the pulse.
type completePulse struct{}

// NewCompletePulse returns the complete_pulse marker tool.
func NewCompletePulse() ports.Tool { return &completePulse{} }

func (t *completePulse) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	commitMessage := stringArg(input, "commit_message")
	if commitMessage == "" {
		return fail("Error: commit_message must not be empty"), nil
	}
	if tc.Shared == nil {
		tc.Shared = make(map[string]any)
	}
	tc.Shared[SharedPulseCommitMessage] = commitMessage
	tc.Shared[SharedPulseUnresolved] = boolArg(input, "has_unresolved_issues")
	out := fmt.Sprintf("Pulse recorded: %s", commitMessage)
	if boolArg(input, "has_unresolved_issues") {
		out += "\nUnresolved issues were flagged for review."
	}
	return ok("%s", out), nil
}

func (t *completePulse) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "complete_pulse",
		Description: "Mark the current pulse as done. The next pulse or review starts after the turn ends.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"commit_message":        {Type: "string", Description: "Commit message describing the pulse's changes"},
				"has_unresolved_issues": {Type: "boolean", Description: "Whether known issues remain for review"},
			}),
			Required: []string{"commit_message", "reason"},
		},
	}
}
