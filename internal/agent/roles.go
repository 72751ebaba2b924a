// Package agent runs one LLM-driven session turn: streaming, segmenting,
// tool dispatch and turn persistence.
package agent

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
)

// RoleConfig is the (persona prompt, tool subset, model scenario) triple an
// agent role resolves to.
type RoleConfig struct {
	Persona      string
	AllowedTools []string
	Scenario     string
}

var baseTools = []string{
	"semantic_search", "read_file", "list_directory", "grep", "take_note", "web_code_search",
}

func withBase(extra ...string) []string {
	return append(append([]string(nil), baseTools...), extra...)
}

// RoleRegistry maps agent roles to their configuration.
type RoleRegistry struct {
	mu    sync.RWMutex
	roles map[domain.AgentRole]RoleConfig
}

// NewRoleRegistry returns a registry populated with the built-in roles.
func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{roles: map[domain.AgentRole]RoleConfig{
		domain.RoleScoping: {
			Persona: "You are a scoping agent. Read the codebase, clarify the request, and " +
				"produce a scope card: a summary, explicit in/out-of-scope items, and a " +
				"recommended path (quick for small well-understood changes, full otherwise). " +
				"Use ask_questions when the request is ambiguous. Finish with submit_scope.",
			AllowedTools: withBase("submit_scope", "ask_questions", "request_extension"),
			Scenario:     "scoping",
		},
		domain.RoleResearch: {
			Persona: "You are a research agent. Investigate how the approved scope touches the " +
				"codebase: relevant files, conventions, existing patterns, risks. Finish with " +
				"submit_research carrying your findings and references.",
			AllowedTools: withBase("submit_research", "ask_questions", "request_extension"),
			Scenario:     "research",
		},
		domain.RolePlanning: {
			Persona: "You are a planning agent. Turn the scope and research into an ordered " +
				"plan of pulses: small, independently committable code changes with explicit " +
				"dependencies. Finish with submit_plan.",
			AllowedTools: withBase("submit_plan", "ask_questions", "request_extension"),
			Scenario:     "planning",
		},
		domain.RolePreflight: {
			Persona: "You are a preflight agent working in a fresh git worktree. Verify the " +
				"project builds and its checks run. Record every pre-existing diagnostic with " +
				"record_baseline so later verification ignores it. Finish with complete_preflight.",
			AllowedTools: withBase("shell", "record_baseline", "complete_preflight", "request_extension"),
			Scenario:     "execution",
		},
		domain.RoleExecution: {
			Persona: "You are an execution agent implementing one pulse in a git worktree. " +
				"Make the planned change, verify it, and commit your work. Finish with " +
				"complete_pulse carrying a commit message; flag unresolved issues honestly.",
			AllowedTools: withBase("write_file", "edit_file", "multi_edit", "shell",
				"complete_pulse", "request_extension"),
			Scenario: "execution",
		},
		domain.RoleReview: {
			Persona: "You are a review agent. Read the diff against the base branch and the " +
				"approved scope card. Leave typed comments with severities, then finish with " +
				"complete_review: a recommendation, summary, and suggested commit message.",
			AllowedTools: withBase("get_diff", "get_scope_card", "add_line_comment",
				"add_file_comment", "add_review_comment", "complete_review", "request_extension"),
			Scenario: "review",
		},
		domain.RoleDiscussion: {
			Persona: "You are a discussion agent in a channel. Answer questions about the " +
				"codebase; explore with the read-only tools before answering.",
			AllowedTools: withBase("ask_questions"),
			Scenario:     "discussion",
		},
	}}
}

// Resolve returns the configuration for a role.
func (r *RoleRegistry) Resolve(role domain.AgentRole) (RoleConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.roles[role]
	if !ok {
		return RoleConfig{}, fmt.Errorf("unknown agent role: %s", role)
	}
	return cfg, nil
}

// Override replaces a role's configuration, for tests and embedders.
func (r *RoleRegistry) Override(role domain.AgentRole, cfg RoleConfig) {
	r.mu.Lock()
	r.roles[role] = cfg
	r.mu.Unlock()
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens estimates token usage for accounting. Falls back to a byte
// heuristic when the encoding is unavailable offline.
func countTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
