package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/autarch-dev/autarch-sub002/internal/diffview"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/tools"
)

// recordPreImage stashes rollback state for the executor's hook pass.
func recordPreImage(tc *ports.ToolContext, relPath, preContent string, preExisted bool) {
	tc.Shared[tools.SharedWrittenPath] = relPath
	tc.Shared[tools.SharedPreContent] = preContent
	tc.Shared[tools.SharedPreExisted] = preExisted
}

type writeFile struct{}

// NewWriteFile returns the write_file tool.
func NewWriteFile() ports.Tool { return &writeFile{} }

func (t *writeFile) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	path := stringArg(input, "path")
	content := stringArg(input, "content")
	resolved, err := tools.ResolvePath(tc, path)
	if err != nil {
		return fail("Error: %v", err), nil
	}

	var preContent string
	preExisted := false
	if data, rerr := os.ReadFile(resolved); rerr == nil {
		preContent = string(data)
		preExisted = true
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fail("Error: failed to create directories: %v", err), nil
	}
	// Atomic from the caller's perspective: write a sibling temp file, then
	// rename over the target.
	tmp := resolved + ".tmp~"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fail("Error: failed to write %s: %v", path, err), nil
	}
	if err := os.Rename(tmp, resolved); err != nil {
		_ = os.Remove(tmp)
		return fail("Error: failed to write %s: %v", path, err), nil
	}

	recordPreImage(tc, path, preContent, preExisted)

	verb := "Created"
	if preExisted {
		verb = "Overwrote"
	}
	lineCount := strings.Count(content, "\n") + 1
	return ok("%s %s (%d lines)", verb, path, lineCount), nil
}

func (t *writeFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "write_file",
		Description: "Write a file, creating parent directories. Overwrites atomically when the file exists.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"path":    {Type: "string", Description: "Relative path of the file to write"},
				"content": {Type: "string", Description: "Full file content"},
			}),
			Required: []string{"path", "content", "reason"},
		},
	}
}

type editFile struct{}

// NewEditFile returns the edit_file tool: exact-match string replacement.
func NewEditFile() ports.Tool { return &editFile{} }

func (t *editFile) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	path := stringArg(input, "path")
	oldString := stringArg(input, "old_string")
	newString := stringArg(input, "new_string")
	replaceAll := boolArg(input, "replace_all")

	if oldString == "" {
		return fail("Error: old_string must not be empty"), nil
	}
	if oldString == newString {
		return fail("Error: old_string and new_string are identical"), nil
	}

	resolved, err := tools.ResolvePath(tc, path)
	if err != nil {
		return fail("Error: %v", err), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fail("Error: failed to read %s: %v", path, err), nil
	}
	content := string(data)

	occurrences := strings.Count(content, oldString)
	if occurrences == 0 {
		return fail("Error: old_string not found in %s", path), nil
	}
	if occurrences > 1 && !replaceAll {
		return fail("Error: old_string appears %d times in %s; add more context or set replace_all", occurrences, path), nil
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
	}

	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return fail("Error: failed to write %s: %v", path, err), nil
	}
	recordPreImage(tc, path, content, true)

	diff := diffview.Generate(content, updated, filepath.ToSlash(path))
	replaced := 1
	if replaceAll {
		replaced = occurrences
	}
	return ok("Replaced %d occurrence(s) in %s\n%s", replaced, path, diff), nil
}

func (t *editFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "edit_file",
		Description: "Replace an exact string in a file. Fails when old_string is absent, " +
			"or ambiguous without replace_all. No fuzzy matching.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"path":        {Type: "string", Description: "Relative path of the file to edit"},
				"old_string":  {Type: "string", Description: "Exact text to replace"},
				"new_string":  {Type: "string", Description: "Replacement text"},
				"replace_all": {Type: "boolean", Description: "Replace every occurrence"},
			}),
			Required: []string{"path", "old_string", "new_string", "reason"},
		},
	}
}
