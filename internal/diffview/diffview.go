// Package diffview generates and parses unified diffs for the review surface.
package diffview

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Generate renders a git-style unified diff between two file contents. An
// empty oldContent renders a new-file diff; an empty newContent a deletion.
func Generate(oldContent, newContent, path string) string {
	if oldContent == newContent {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	switch {
	case oldContent == "":
		b.WriteString("new file mode 100644\n")
		fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n", path)
	case newContent == "":
		b.WriteString("deleted file mode 100644\n")
		fmt.Fprintf(&b, "--- a/%s\n+++ /dev/null\n", path)
	default:
		fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	}

	for _, hunk := range lineHunks(oldContent, newContent) {
		b.WriteString(hunk)
	}
	return b.String()
}

type lineOp struct {
	kind diffmatchpatch.Operation
	text string
}

// lineHunks computes line-level diff operations and groups them into hunks
// with three lines of context.
func lineHunks(oldContent, newContent string) []string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		for _, line := range splitKeepNonEmpty(d.Text) {
			ops = append(ops, lineOp{kind: d.Type, text: line})
		}
	}

	const context = 3

	// Group changed lines into hunks; changes separated by more than
	// 2*context equal lines start a new hunk.
	type span struct{ first, last int }
	var spans []span
	for i, op := range ops {
		if op.kind == diffmatchpatch.DiffEqual {
			continue
		}
		if n := len(spans); n > 0 && i-spans[n-1].last <= context*2 {
			spans[n-1].last = i
		} else {
			spans = append(spans, span{first: i, last: i})
		}
	}

	var hunks []string
	for _, sp := range spans {
		start := max(0, sp.first-context)
		end := min(len(ops), sp.last+1+context)
		hunks = append(hunks, renderHunk(ops, start, end, oldLineAt(ops, start), newLineAt(ops, start)))
	}
	return hunks
}

func oldLineAt(ops []lineOp, idx int) int {
	line := 1
	for i := 0; i < idx; i++ {
		if ops[i].kind != diffmatchpatch.DiffInsert {
			line++
		}
	}
	return line
}

func newLineAt(ops []lineOp, idx int) int {
	line := 1
	for i := 0; i < idx; i++ {
		if ops[i].kind != diffmatchpatch.DiffDelete {
			line++
		}
	}
	return line
}

func renderHunk(ops []lineOp, start, end, oldStart, newStart int) string {
	oldCount, newCount := 0, 0
	var body strings.Builder
	for _, op := range ops[start:end] {
		switch op.kind {
		case diffmatchpatch.DiffEqual:
			body.WriteString(" " + op.text + "\n")
			oldCount++
			newCount++
		case diffmatchpatch.DiffDelete:
			body.WriteString("-" + op.text + "\n")
			oldCount++
		case diffmatchpatch.DiffInsert:
			body.WriteString("+" + op.text + "\n")
			newCount++
		}
	}
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@\n%s", oldStart, oldCount, newStart, newCount, body.String())
}

func splitKeepNonEmpty(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// FileDiff is one file section of a parsed unified diff.
type FileDiff struct {
	OldPath string
	NewPath string
	IsNew   bool
	Deleted bool
	Hunks   []Hunk
}

// Hunk is one @@ section.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []string
}

// Parse splits a git unified diff into per-file sections. It recognizes
// `diff --git`, `new file mode`, `deleted file mode` and `@@` headers.
func Parse(diff string) ([]FileDiff, error) {
	var files []FileDiff
	var current *FileDiff
	var hunk *Hunk

	flushHunk := func() {
		if current != nil && hunk != nil {
			current.Hunks = append(current.Hunks, *hunk)
			hunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if current != nil {
			files = append(files, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			oldPath, newPath := parseGitHeader(line)
			current = &FileDiff{OldPath: oldPath, NewPath: newPath}
		case current == nil:
			continue
		case strings.HasPrefix(line, "new file mode"):
			current.IsNew = true
		case strings.HasPrefix(line, "deleted file mode"):
			current.Deleted = true
		case strings.HasPrefix(line, "@@"):
			flushHunk()
			parsed, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			hunk = &parsed
		case hunk != nil && (line == "" || strings.ContainsAny(line[:1], " +-\\")):
			if line == "" {
				continue
			}
			hunk.Lines = append(hunk.Lines, line)
		}
	}
	flushFile()
	return files, nil
}

func parseGitHeader(line string) (oldPath, newPath string) {
	rest := strings.TrimPrefix(line, "diff --git ")
	parts := strings.SplitN(rest, " b/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.TrimPrefix(parts[0], "a/"), parts[1]
}

func parseHunkHeader(line string) (Hunk, error) {
	// @@ -l,c +l,c @@ optional section
	inner := strings.TrimPrefix(line, "@@")
	idx := strings.Index(inner, "@@")
	if idx < 0 {
		return Hunk{}, fmt.Errorf("malformed hunk header: %q", line)
	}
	fields := strings.Fields(strings.TrimSpace(inner[:idx]))
	if len(fields) != 2 {
		return Hunk{}, fmt.Errorf("malformed hunk header: %q", line)
	}
	oldStart, oldCount, err := parseRange(strings.TrimPrefix(fields[0], "-"))
	if err != nil {
		return Hunk{}, fmt.Errorf("malformed hunk header %q: %w", line, err)
	}
	newStart, newCount, err := parseRange(strings.TrimPrefix(fields[1], "+"))
	if err != nil {
		return Hunk{}, fmt.Errorf("malformed hunk header %q: %w", line, err)
	}
	return Hunk{OldStart: oldStart, OldCount: oldCount, NewStart: newStart, NewCount: newCount}, nil
}

func parseRange(s string) (start, count int, err error) {
	count = 1
	if comma := strings.Index(s, ","); comma >= 0 {
		count, err = strconv.Atoi(s[comma+1:])
		if err != nil {
			return 0, 0, err
		}
		s = s[:comma]
	}
	start, err = strconv.Atoi(s)
	return start, count, err
}
