// Package tools provides the validated, context-scoped tool invocation
// substrate: a registry of named tools and the executor that validates
// input, confines paths, runs post-write hooks and gates shell approval.
package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Category groups tools by capability. Mutating categories trigger the
// post-write hook pass.
type Category string

const (
	CategoryBase      Category = "base"
	CategoryPulsing   Category = "pulsing"
	CategoryPreflight Category = "preflight"
	CategoryReview    Category = "review"
	CategoryBlock     Category = "block"
)

type entry struct {
	tool     ports.Tool
	category Category
}

// Registry holds the available tools by snake_case name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool under its definition name.
func (r *Registry) Register(tool ports.Tool, category Category) error {
	name := tool.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.entries[name] = entry{tool: tool, category: category}
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (ports.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return e.tool, nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Category returns the registered category of a tool.
func (r *Registry) Category(name string) (Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.category, ok
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the schemas of the named tools, skipping unknown names.
func (r *Registry) Definitions(names []string) []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(names))
	for _, name := range names {
		if e, ok := r.entries[name]; ok {
			defs = append(defs, e.tool.Definition())
		}
	}
	return defs
}
