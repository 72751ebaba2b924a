package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/tools"
)

const maxReadBytes = 256 * 1024

type readFile struct{}

// NewReadFile returns the read_file tool.
func NewReadFile() ports.Tool { return &readFile{} }

func (t *readFile) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	path := stringArg(input, "path")
	resolved, err := tools.ResolvePath(tc, path)
	if err != nil {
		return fail("Error: %v", err), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fail("Error: failed to read %s: %v", path, err), nil
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}

	lines := strings.Split(string(data), "\n")
	offset := intArg(input, "offset", 1)
	limit := intArg(input, "limit", len(lines))
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return fail("Error: offset %d beyond end of file (%d lines)", offset, len(lines)), nil
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return ok("%s", b.String()), nil
}

func (t *readFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file with line numbers. Supports offset/limit for large files.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"path":   {Type: "string", Description: "Relative path of the file to read"},
				"offset": {Type: "integer", Description: "1-based first line to read"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to return"},
			}),
			Required: []string{"path", "reason"},
		},
	}
}

type listDirectory struct{}

// NewListDirectory returns the list_directory tool.
func NewListDirectory() ports.Tool { return &listDirectory{} }

func (t *listDirectory) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	path := stringArg(input, "path")
	if path == "" {
		path = "."
	}
	resolved, err := tools.ResolvePath(tc, path)
	if err != nil {
		return fail("Error: %v", err), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return fail("Error: failed to list %s: %v", path, err), nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		b.WriteString(name + "\n")
	}
	if b.Len() == 0 {
		return ok("(empty directory)"), nil
	}
	return ok("%s", b.String()), nil
}

func (t *listDirectory) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_directory",
		Description: "List the entries of a directory. Directories are suffixed with '/'.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"path": {Type: "string", Description: "Relative directory path, defaults to the root"},
			}),
			Required: []string{"reason"},
		},
	}
}

// relWithin returns path relative to root for display purposes.
func relWithin(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
