// Package builtin contains the orchestrator's built-in tools. Each tool is a
// small struct implementing ports.Tool; registration and categorization
// happen in RegisterAll.
package builtin

import (
	"fmt"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// reasonProp is present on every tool schema; the executor requires it.
func reasonProp() ports.Property {
	return ports.Property{Type: "string", Description: "Why this tool call is needed"}
}

func withReason(props map[string]ports.Property) map[string]ports.Property {
	props["reason"] = reasonProp()
	return props
}

func ok(format string, args ...any) *ports.ToolResult {
	return &ports.ToolResult{Success: true, Output: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) *ports.ToolResult {
	return &ports.ToolResult{Success: false, Output: fmt.Sprintf(format, args...)}
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func boolArg(input map[string]any, key string) bool {
	b, _ := input[key].(bool)
	return b
}

func intArg(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func stringSliceArg(input map[string]any, key string) []string {
	raw, _ := input[key].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
