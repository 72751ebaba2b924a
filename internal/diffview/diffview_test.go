package diffview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIdenticalContent(t *testing.T) {
	assert.Empty(t, Generate("same\n", "same\n", "a.go"))
}

func TestGenerateNewFile(t *testing.T) {
	diff := Generate("", "package main\n", "main.go")
	assert.Contains(t, diff, "diff --git a/main.go b/main.go")
	assert.Contains(t, diff, "new file mode 100644")
	assert.Contains(t, diff, "--- /dev/null")
	assert.Contains(t, diff, "+++ b/main.go")
	assert.Contains(t, diff, "+package main")
}

func TestGenerateDeletedFile(t *testing.T) {
	diff := Generate("package main\n", "", "main.go")
	assert.Contains(t, diff, "deleted file mode 100644")
	assert.Contains(t, diff, "+++ /dev/null")
	assert.Contains(t, diff, "-package main")
}

func TestGenerateModification(t *testing.T) {
	oldContent := "one\ntwo\nthree\nfour\nfive\n"
	newContent := "one\ntwo\nTHREE\nfour\nfive\n"

	diff := Generate(oldContent, newContent, "a.txt")
	assert.Contains(t, diff, "--- a/a.txt")
	assert.Contains(t, diff, "+++ b/a.txt")
	assert.Contains(t, diff, "-three")
	assert.Contains(t, diff, "+THREE")
	// Context rides along.
	assert.Contains(t, diff, " two")
	assert.Contains(t, diff, " four")
}

func TestGenerateSeparatesDistantChangesIntoHunks(t *testing.T) {
	var oldLines, newLines []string
	for i := 0; i < 30; i++ {
		oldLines = append(oldLines, "line")
		newLines = append(newLines, "line")
	}
	oldLines[0], newLines[0] = "first-old", "first-new"
	oldLines[29], newLines[29] = "last-old", "last-new"

	diff := Generate(strings.Join(oldLines, "\n")+"\n", strings.Join(newLines, "\n")+"\n", "a.txt")
	assert.Equal(t, 2, strings.Count(diff, "@@ -"))
}

func TestParseRoundTrip(t *testing.T) {
	diff := Generate("one\ntwo\nthree\n", "one\nTWO\nthree\n", "pkg/a.go")

	files, err := Parse(diff)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "pkg/a.go", files[0].OldPath)
	assert.Equal(t, "pkg/a.go", files[0].NewPath)
	assert.False(t, files[0].IsNew)
	require.Len(t, files[0].Hunks, 1)

	hunk := files[0].Hunks[0]
	assert.Equal(t, 1, hunk.OldStart)
	assert.Contains(t, hunk.Lines, "-two")
	assert.Contains(t, hunk.Lines, "+TWO")
}

func TestParseMultipleFiles(t *testing.T) {
	diff := "diff --git a/a.go b/a.go\n" +
		"--- a/a.go\n+++ b/a.go\n" +
		"@@ -1,1 +1,1 @@\n-old\n+new\n" +
		"diff --git a/b.go b/b.go\n" +
		"new file mode 100644\n" +
		"--- /dev/null\n+++ b/b.go\n" +
		"@@ -0,0 +1,1 @@\n+added\n"

	files, err := Parse(diff)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].NewPath)
	assert.True(t, files[1].IsNew)
	require.Len(t, files[1].Hunks, 1)
	assert.Equal(t, []string{"+added"}, files[1].Hunks[0].Lines)
}

func TestParseHunkHeaderWithoutCount(t *testing.T) {
	files, err := Parse("diff --git a/a.go b/a.go\n@@ -5 +5 @@\n-x\n+y\n")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Len(t, files[0].Hunks, 1)
	assert.Equal(t, 5, files[0].Hunks[0].OldStart)
	assert.Equal(t, 1, files[0].Hunks[0].OldCount)
}

func TestParseMalformedHunkHeader(t *testing.T) {
	_, err := Parse("diff --git a/a.go b/a.go\n@@ nonsense\n")
	require.Error(t, err)
}

func TestParseIgnoresLeadingNoise(t *testing.T) {
	files, err := Parse("commit message noise\nmore noise\n")
	require.NoError(t, err)
	assert.Empty(t, files)
}
