package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autarch-dev/autarch-sub002/internal/logging"
)

// initRepo creates a repo with one commit on main and returns its root.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")
	return root
}

func newService(root string) *Service {
	return NewService(root, "autarch/", ".autarch/worktrees", logging.Nop())
}

func TestNaming(t *testing.T) {
	svc := newService("/repo")
	assert.Equal(t, "autarch/wf_1", svc.WorkflowBranch("wf_1"))
	assert.Equal(t, "/repo/.autarch/worktrees/wf_1", svc.WorktreePath("wf_1"))
}

func TestFindRepoRoot(t *testing.T) {
	root := initRepo(t)
	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	found, err := FindRepoRoot(context.Background(), sub)
	require.NoError(t, err)
	// TempDir may sit behind a symlink on darwin; compare resolved paths.
	wantResolved, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, wantResolved, found)

	_, err = FindRepoRoot(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestCreateWorktreeIsIdempotent(t *testing.T) {
	root := initRepo(t)
	svc := newService(root)
	ctx := context.Background()

	path, branch, err := svc.CreateWorktree(ctx, "wf_1", "main")
	require.NoError(t, err)
	assert.Equal(t, "autarch/wf_1", branch)
	assert.DirExists(t, path)

	got, err := svc.CurrentBranch(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "autarch/wf_1", got)

	again, _, err := svc.CreateWorktree(ctx, "wf_1", "main")
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestDiffAgainstBase(t *testing.T) {
	root := initRepo(t)
	svc := newService(root)
	ctx := context.Background()

	path, _, err := svc.CreateWorktree(ctx, "wf_1", "main")
	require.NoError(t, err)

	diff, err := svc.Diff(ctx, path, "main")
	require.NoError(t, err)
	assert.Empty(t, diff)

	require.NoError(t, os.WriteFile(filepath.Join(path, "new.go"), []byte("package new\n"), 0o644))
	_, err = svc.git(ctx, path, "add", ".")
	require.NoError(t, err)
	_, err = svc.git(ctx, path, "commit", "-m", "add new")
	require.NoError(t, err)

	diff, err = svc.Diff(ctx, path, "main")
	require.NoError(t, err)
	assert.Contains(t, diff, "new.go")
	assert.Contains(t, diff, "+package new")
}

func TestMergeSquashAndCleanup(t *testing.T) {
	root := initRepo(t)
	svc := newService(root)
	ctx := context.Background()

	path, branch, err := svc.CreateWorktree(ctx, "wf_1", "main")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "feature.go"), []byte("package feature\n"), 0o644))
	_, err = svc.git(ctx, path, "add", ".")
	require.NoError(t, err)
	_, err = svc.git(ctx, path, "commit", "-m", "wip")
	require.NoError(t, err)

	res, err := svc.MergeWorkflowBranch(ctx, MergeRequest{
		WorkflowBranch: branch, BaseBranch: "main",
		Strategy: "squash", CommitMessage: "feat: add feature",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.CommitSHA)

	msg, err := svc.git(ctx, root, "log", "-1", "--format=%s")
	require.NoError(t, err)
	assert.Equal(t, "feat: add feature", msg)
	assert.FileExists(t, filepath.Join(root, "feature.go"))

	require.NoError(t, svc.CleanupWorkflow(ctx, "wf_1"))
	assert.NoDirExists(t, path)
	_, err = svc.git(ctx, root, "rev-parse", "--verify", branch)
	assert.Error(t, err)
}

func TestMergeRequiresCommitMessage(t *testing.T) {
	svc := newService(t.TempDir())
	_, err := svc.MergeWorkflowBranch(context.Background(), MergeRequest{
		WorkflowBranch: "autarch/wf_1", BaseBranch: "main", Strategy: "squash",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a commit message")
}

func TestMergeUnknownStrategy(t *testing.T) {
	root := initRepo(t)
	svc := newService(root)
	_, err := svc.MergeWorkflowBranch(context.Background(), MergeRequest{
		WorkflowBranch: "autarch/wf_1", BaseBranch: "main",
		Strategy: "octopus", CommitMessage: "m",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown merge strategy")
}
