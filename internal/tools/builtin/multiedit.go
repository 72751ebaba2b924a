package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/tools"
)

const (
	snippetContext  = 5
	snippetMergeGap = 10
)

type multiEdit struct{}

// NewMultiEdit returns the multi_edit tool: an ordered list of exact-match
// edits validated all-or-nothing on a simulated buffer before any disk write.
func NewMultiEdit() ports.Tool { return &multiEdit{} }

type editSpec struct {
	oldString  string
	newString  string
	replaceAll bool
}

func (t *multiEdit) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	path := stringArg(input, "path")
	rawEdits, _ := input["edits"].([]any)
	if len(rawEdits) == 0 {
		return fail("Error: edits must not be empty"), nil
	}

	edits := make([]editSpec, 0, len(rawEdits))
	for i, raw := range rawEdits {
		obj, okCast := raw.(map[string]any)
		if !okCast {
			return fail("Error: edit %d is not an object", i), nil
		}
		spec := editSpec{
			oldString:  stringArg(obj, "old_string"),
			newString:  stringArg(obj, "new_string"),
			replaceAll: boolArg(obj, "replace_all"),
		}
		if spec.oldString == "" {
			return fail("Error: edit %d: old_string must not be empty", i), nil
		}
		edits = append(edits, spec)
	}

	resolved, err := tools.ResolvePath(tc, path)
	if err != nil {
		return fail("Error: %v", err), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fail("Error: failed to read %s: %v", path, err), nil
	}
	original := string(data)

	// Simulate every edit before touching disk.
	buffer := original
	for i, spec := range edits {
		occurrences := strings.Count(buffer, spec.oldString)
		if occurrences == 0 {
			return fail("Error: edit %d: old_string not found (after %d prior edit(s))", i, i), nil
		}
		if occurrences > 1 && !spec.replaceAll {
			return fail("Error: edit %d: old_string appears %d times; add context or set replace_all", i, occurrences), nil
		}
		if spec.replaceAll {
			buffer = strings.ReplaceAll(buffer, spec.oldString, spec.newString)
		} else {
			buffer = strings.Replace(buffer, spec.oldString, spec.newString, 1)
		}
	}

	if err := os.WriteFile(resolved, []byte(buffer), 0o644); err != nil {
		return fail("Error: failed to write %s: %v", path, err), nil
	}
	recordPreImage(tc, path, original, true)

	snippets := contextSnippets(original, buffer)
	return ok("Applied %d edit(s) to %s\n%s", len(edits), filepath.ToSlash(path), snippets), nil
}

// contextSnippets renders the modified regions of newContent with five lines
// of context, merging regions whose gap is ten lines or fewer.
func contextSnippets(oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	a, b, lineIndex := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineIndex)

	newLines := strings.Split(newContent, "\n")

	// Collect the 0-based line ranges in newContent that changed.
	type span struct{ first, last int }
	var spans []span
	line := 0
	for _, d := range diffs {
		count := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			line += count
		case diffmatchpatch.DiffInsert:
			if count > 0 {
				spans = append(spans, span{first: line, last: line + count - 1})
			}
			line += count
		case diffmatchpatch.DiffDelete:
			// Deletion anchors at the current line of the new content.
			spans = append(spans, span{first: line, last: line})
		}
	}
	if len(spans) == 0 {
		return ""
	}

	// Expand by context and merge.
	var merged []span
	for _, sp := range spans {
		first := max(0, sp.first-snippetContext)
		last := min(len(newLines)-1, sp.last+snippetContext)
		if n := len(merged); n > 0 && first-merged[n-1].last <= snippetMergeGap {
			if last > merged[n-1].last {
				merged[n-1].last = last
			}
			continue
		}
		merged = append(merged, span{first: first, last: last})
	}

	var out strings.Builder
	for i, sp := range merged {
		if i > 0 {
			out.WriteString("...\n")
		}
		for l := sp.first; l <= sp.last && l < len(newLines); l++ {
			fmt.Fprintf(&out, "%6d\t%s\n", l+1, newLines[l])
		}
	}
	return out.String()
}

func (t *multiEdit) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "multi_edit",
		Description: "Apply an ordered list of exact-match edits to one file. All edits are " +
			"validated on a buffer before any disk write; either all apply or none do.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"path": {Type: "string", Description: "Relative path of the file to edit"},
				"edits": {
					Type:        "array",
					Description: "Edits applied in order on the running buffer",
					Items: &ports.Property{
						Type: "object",
						Properties: map[string]ports.Property{
							"old_string":  {Type: "string", Description: "Exact text to replace"},
							"new_string":  {Type: "string", Description: "Replacement text"},
							"replace_all": {Type: "boolean", Description: "Replace every occurrence"},
						},
						Required: []string{"old_string", "new_string"},
					},
				},
			}),
			Required: []string{"path", "edits", "reason"},
		},
	}
}
