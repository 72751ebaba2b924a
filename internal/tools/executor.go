package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"

	"github.com/autarch-dev/autarch-sub002/internal/hooks"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Shared-map keys mutating tools use to hand the executor rollback state.
const (
	SharedWrittenPath = "written_path" // relative path of the mutated file
	SharedPreContent  = "pre_content"  // file content before the mutation
	SharedPreExisted  = "pre_existed"  // bool: file existed before
)

// ProjectCache is the process-global source-project cache seam. It is
// invalidated after every successful mutating tool call.
type ProjectCache struct {
	mu  sync.Mutex
	gen int
}

// Invalidate bumps the cache generation.
func (c *ProjectCache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// Generation reports the current cache generation.
func (c *ProjectCache) Generation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Executor validates and runs tool invocations.
type Executor struct {
	registry *Registry
	hooks    *hooks.Runner
	cache    *ProjectCache
	logger   logging.Logger
}

var _ ports.ToolDispatcher = (*Executor)(nil)

// NewExecutor constructs the executor. hookRunner may be nil when no hooks
// are configured.
func NewExecutor(registry *Registry, hookRunner *hooks.Runner, cache *ProjectCache, logger logging.Logger) *Executor {
	if cache == nil {
		cache = &ProjectCache{}
	}
	return &Executor{
		registry: registry,
		hooks:    hookRunner,
		cache:    cache,
		logger:   logging.OrNop(logger),
	}
}

// Has reports whether a tool is registered.
func (e *Executor) Has(name string) bool { return e.registry.Has(name) }

// Definitions returns the schemas of the named tools.
func (e *Executor) Definitions(names []string) []ports.ToolDefinition {
	return e.registry.Definitions(names)
}

// Dispatch parses, validates and executes a tool call. Validation problems
// come back as unsuccessful results so the model can correct itself; a
// non-nil error means the substrate failed.
func (e *Executor) Dispatch(ctx context.Context, name, rawArgs string, tc *ports.ToolContext) (*ports.ToolResult, error) {
	tool, err := e.registry.Get(name)
	if err != nil {
		return failf("Error: %v", err), nil
	}

	input, perr := parseArguments(rawArgs)
	if perr != nil {
		return failf("Error: invalid tool input JSON: %v", perr), nil
	}

	if reason, ok := input["reason"].(string); !ok || strings.TrimSpace(reason) == "" {
		return failf("Error: missing required field %q", "reason"), nil
	}

	if err := ValidateInput(tool.Definition().Parameters, input); err != nil {
		return failf("Error: %v", err), nil
	}

	if tc.Shared == nil {
		tc.Shared = make(map[string]any)
	}

	result, err := tool.Execute(ctx, input, tc)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	category, _ := e.registry.Category(name)
	if result.Success && mutatingCategory(category) {
		result = e.afterMutation(ctx, tc, result)
	}
	return result, nil
}

func mutatingCategory(c Category) bool {
	return c == CategoryPulsing || c == CategoryPreflight
}

// afterMutation runs post-write hooks for the file a mutating tool reported
// via the shared map and rolls the file back when a blocking hook fails.
func (e *Executor) afterMutation(ctx context.Context, tc *ports.ToolContext, result *ports.ToolResult) *ports.ToolResult {
	relPath, _ := tc.Shared[SharedWrittenPath].(string)
	defer func() {
		delete(tc.Shared, SharedWrittenPath)
		delete(tc.Shared, SharedPreContent)
		delete(tc.Shared, SharedPreExisted)
	}()
	if relPath == "" {
		return result
	}

	e.cache.Invalidate()
	if e.hooks == nil {
		return result
	}

	outcome := e.hooks.Run(ctx, tc.Root(), relPath)
	if outcome.Blocked {
		if err := e.rollback(tc, relPath); err != nil {
			e.logger.Error("rollback of %s failed: %v", relPath, err)
		}
		detail := outcome.BlockedBy.Output
		if detail == "" {
			detail = outcome.BlockedBy.Hook.Command
		}
		return failf("Hook failed (blocking), file reverted: %s", detail)
	}
	for _, warning := range outcome.Warnings {
		result.Output += fmt.Sprintf("\nWarning: hook %q failed: %s", warning.Hook.Name, warning.Output)
	}
	return result
}

func (e *Executor) rollback(tc *ports.ToolContext, relPath string) error {
	abs, err := ResolvePath(tc, relPath)
	if err != nil {
		return err
	}
	preExisted, _ := tc.Shared[SharedPreExisted].(bool)
	if !preExisted {
		return os.Remove(abs)
	}
	preContent, _ := tc.Shared[SharedPreContent].(string)
	return os.WriteFile(abs, []byte(preContent), 0o644)
}

// parseArguments decodes the argument JSON, applying a single jsonrepair
// pass when the model emitted malformed JSON.
func parseArguments(rawArgs string) (map[string]any, error) {
	trimmed := strings.TrimSpace(rawArgs)
	if trimmed == "" {
		trimmed = "{}"
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(trimmed), &input); err == nil {
		return input, nil
	}
	repaired, rerr := jsonrepair.JSONRepair(trimmed)
	if rerr != nil {
		return nil, fmt.Errorf("unparseable arguments: %w", rerr)
	}
	if err := json.Unmarshal([]byte(repaired), &input); err != nil {
		return nil, fmt.Errorf("arguments not an object: %w", err)
	}
	return input, nil
}

func failf(format string, args ...any) *ports.ToolResult {
	return &ports.ToolResult{Success: false, Output: fmt.Sprintf(format, args...)}
}
