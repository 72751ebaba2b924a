package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/tools"
)

func testContext(root string) *ports.ToolContext {
	return &ports.ToolContext{ProjectRoot: root, WorkflowID: "wf_1", Shared: map[string]any{}}
}

func TestWriteFileCreatesWithParents(t *testing.T) {
	root := t.TempDir()
	tc := testContext(root)

	res, err := NewWriteFile().Execute(context.Background(), map[string]any{
		"path": "deep/nested/a.txt", "content": "line1\nline2",
	}, tc)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Created deep/nested/a.txt (2 lines)", res.Output)

	data, err := os.ReadFile(filepath.Join(root, "deep/nested/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", string(data))

	assert.Equal(t, "deep/nested/a.txt", tc.Shared[tools.SharedWrittenPath])
	assert.Equal(t, false, tc.Shared[tools.SharedPreExisted])
}

func TestWriteFileOverwriteRecordsPreImage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("before"), 0o644))
	tc := testContext(root)

	res, err := NewWriteFile().Execute(context.Background(), map[string]any{
		"path": "a.txt", "content": "after",
	}, tc)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Overwrote a.txt (1 lines)", res.Output)
	assert.Equal(t, "before", tc.Shared[tools.SharedPreContent])
	assert.Equal(t, true, tc.Shared[tools.SharedPreExisted])
}

func TestWriteFileRejectsEscapingPath(t *testing.T) {
	res, err := NewWriteFile().Execute(context.Background(), map[string]any{
		"path": "../outside.txt", "content": "x",
	}, testContext(t.TempDir()))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "escapes the project root")
}

func TestEditFileSingleOccurrence(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("alpha beta gamma"), 0o644))
	tc := testContext(root)

	res, err := NewEditFile().Execute(context.Background(), map[string]any{
		"path": "a.go", "old_string": "beta", "new_string": "BETA",
	}, tc)
	require.NoError(t, err)
	require.True(t, res.Success, res.Output)
	assert.Contains(t, res.Output, "Replaced 1 occurrence(s) in a.go")

	data, err := os.ReadFile(filepath.Join(root, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "alpha BETA gamma", string(data))
}

func TestEditFileAmbiguousWithoutReplaceAll(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("x y x"), 0o644))

	res, err := NewEditFile().Execute(context.Background(), map[string]any{
		"path": "a.go", "old_string": "x", "new_string": "z",
	}, testContext(root))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "appears 2 times")

	// File untouched.
	data, err := os.ReadFile(filepath.Join(root, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "x y x", string(data))
}

func TestEditFileReplaceAll(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("x y x"), 0o644))

	res, err := NewEditFile().Execute(context.Background(), map[string]any{
		"path": "a.go", "old_string": "x", "new_string": "z", "replace_all": true,
	}, testContext(root))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "Replaced 2 occurrence(s)")

	data, err := os.ReadFile(filepath.Join(root, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "z y z", string(data))
}

func TestEditFileNotFoundAndIdentical(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("content"), 0o644))
	tc := testContext(root)

	res, err := NewEditFile().Execute(context.Background(), map[string]any{
		"path": "a.go", "old_string": "missing", "new_string": "x",
	}, tc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "old_string not found")

	res, err = NewEditFile().Execute(context.Background(), map[string]any{
		"path": "a.go", "old_string": "same", "new_string": "same",
	}, tc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "identical")
}

func TestMultiEditAllOrNothing(t *testing.T) {
	root := t.TempDir()
	original := "one\ntwo\nthree\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte(original), 0o644))

	// Second edit cannot match, so the first must not land either.
	res, err := NewMultiEdit().Execute(context.Background(), map[string]any{
		"path": "a.txt",
		"edits": []any{
			map[string]any{"old_string": "one", "new_string": "ONE"},
			map[string]any{"old_string": "missing", "new_string": "x"},
		},
	}, testContext(root))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "edit 1: old_string not found")

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestMultiEditSequentialApplication(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644))
	tc := testContext(root)

	res, err := NewMultiEdit().Execute(context.Background(), map[string]any{
		"path": "a.txt",
		"edits": []any{
			map[string]any{"old_string": "one", "new_string": "uno"},
			// Matches text produced by the first edit.
			map[string]any{"old_string": "uno\ntwo", "new_string": "uno\ndos"},
		},
	}, tc)
	require.NoError(t, err)
	require.True(t, res.Success, res.Output)
	assert.Contains(t, res.Output, "Applied 2 edit(s) to a.txt")

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "uno\ndos\nthree\n", string(data))
	assert.Equal(t, "one\ntwo\nthree\n", tc.Shared[tools.SharedPreContent])
}

func TestMultiEditEmptyEdits(t *testing.T) {
	res, err := NewMultiEdit().Execute(context.Background(), map[string]any{
		"path": "a.txt", "edits": []any{},
	}, testContext(t.TempDir()))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "edits must not be empty")
}
