package builtin

import (
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/autarch-dev/autarch-sub002/internal/approval"
	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/gitx"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/tools"
)

// Deps carries everything the built-in tool set needs.
type Deps struct {
	Repos     ports.Repositories
	Approvals *approval.Service
	Git       *gitx.Service
	Bus       *events.Bus
	Shell     config.ShellConfig
	Notepad   *Notepad
	// Semantic is the optional chromem collection backing semantic_search.
	Semantic *chromem.Collection
}

// RegisterAll wires every built-in tool into the registry with its category.
func RegisterAll(registry *tools.Registry, deps Deps) error {
	if deps.Notepad == nil {
		deps.Notepad = NewNotepad()
	}

	type registration struct {
		tool     ports.Tool
		category tools.Category
	}
	all := []registration{
		// Base: read-only exploration.
		{NewReadFile(), tools.CategoryBase},
		{NewListDirectory(), tools.CategoryBase},
		{NewGrep(), tools.CategoryBase},
		{NewSemanticSearch(deps.Semantic), tools.CategoryBase},
		{NewWebCodeSearch(), tools.CategoryBase},
		{NewTakeNote(deps.Notepad), tools.CategoryBase},

		// Pulsing: mutations inside the worktree.
		{NewWriteFile(), tools.CategoryPulsing},
		{NewEditFile(), tools.CategoryPulsing},
		{NewMultiEdit(), tools.CategoryPulsing},
		{NewShell(deps.Approvals, deps.Shell), tools.CategoryPulsing},

		// Preflight.
		{NewRecordBaseline(deps.Repos.Pulses), tools.CategoryPreflight},

		// Review.
		{NewGetDiff(deps.Repos.Workflows, deps.Git), tools.CategoryReview},
		{NewGetScopeCard(deps.Repos.Artifacts), tools.CategoryReview},
		{NewAddLineComment(deps.Repos.Artifacts), tools.CategoryReview},
		{NewAddFileComment(deps.Repos.Artifacts), tools.CategoryReview},
		{NewAddReviewComment(deps.Repos.Artifacts), tools.CategoryReview},
		{NewCompleteReview(deps.Repos.Artifacts), tools.CategoryReview},

		// Blocks: stage completion and control flow.
		{NewSubmitScope(deps.Repos.Artifacts), tools.CategoryBlock},
		{NewSubmitResearch(deps.Repos.Artifacts), tools.CategoryBlock},
		{NewSubmitPlan(deps.Repos.Artifacts), tools.CategoryBlock},
		{NewRequestExtension(), tools.CategoryBlock},
		{NewAskQuestions(deps.Bus), tools.CategoryBlock},
		{NewCompletePreflight(), tools.CategoryBlock},
		{NewCompletePulse(), tools.CategoryBlock},
	}

	for _, reg := range all {
		if err := registry.Register(reg.tool, reg.category); err != nil {
			return fmt.Errorf("register builtin tools: %w", err)
		}
	}
	return nil
}
