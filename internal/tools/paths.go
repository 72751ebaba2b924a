package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// ResolvePath validates a tool-supplied path and resolves it against the
// context root (worktree when set, project root otherwise). Absolute paths
// and `..` traversal are rejected.
func ResolvePath(tc *ports.ToolContext, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the project root: %s", path)
	}
	return filepath.Join(tc.Root(), clean), nil
}
