package domain

// StageTransitions maps each stage to its successor. Done has no successor.
var StageTransitions = map[Stage]Stage{
	StageBacklog:     StageScoping,
	StageScoping:     StageResearching,
	StageResearching: StagePlanning,
	StagePlanning:    StageInProgress,
	StageInProgress:  StageReview,
	StageReview:      StageDone,
}

// NextStage returns the successor of stage, or false for done/unknown stages.
func NextStage(stage Stage) (Stage, bool) {
	next, ok := StageTransitions[stage]
	return next, ok
}

// ApprovalRequiredTools maps a stage-completion tool to the stage the workflow
// enters once a human approves its artifact.
var ApprovalRequiredTools = map[string]Stage{
	"submit_scope":    StageResearching,
	"submit_research": StagePlanning,
	"submit_plan":     StageInProgress,
	"complete_review": StageDone,
}

// ArtifactTypeForTool maps a stage-completion tool to the artifact it carries.
var ArtifactTypeForTool = map[string]ArtifactType{
	"submit_scope":    ArtifactScopeCard,
	"submit_research": ArtifactResearch,
	"submit_plan":     ArtifactPlan,
	"complete_review": ArtifactReviewCard,
}

// AutoTransitionTools maps tools that transition without approval. In normal
// operation complete_pulse is handled deferred at turn completion; this table
// remains as the fallback for legacy call sites.
var AutoTransitionTools = map[string]Stage{
	"complete_pulse": StageReview,
}

// StageRoles maps a stage to the agent role that owns it. Done has no role.
var StageRoles = map[Stage]AgentRole{
	StageScoping:     RoleScoping,
	StageResearching: RoleResearch,
	StagePlanning:    RolePlanning,
	StageInProgress:  RolePreflight,
	StageReview:      RoleReview,
}

// RoleForStage returns the agent role owning a stage.
func RoleForStage(stage Stage) (AgentRole, bool) {
	role, ok := StageRoles[stage]
	return role, ok
}
