// Package gitx manages per-workflow git worktrees and branches by shelling
// out to the git CLI.
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/autarch-dev/autarch-sub002/internal/logging"
)

// Service performs worktree and branch operations for workflows. Branch and
// worktree names are deterministic functions of the workflow ID.
type Service struct {
	repoRoot     string
	branchPrefix string
	worktreeRoot string // relative to repoRoot
	logger       logging.Logger
}

// MergeRequest describes a workflow-branch merge.
type MergeRequest struct {
	WorkflowBranch string
	BaseBranch     string
	Strategy       string // fast-forward | squash | merge-commit | rebase
	CommitMessage  string
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	Success   bool
	CommitSHA string
}

// NewService constructs a worktree service rooted at repoRoot.
func NewService(repoRoot, branchPrefix, worktreeRoot string, logger logging.Logger) *Service {
	return &Service{
		repoRoot:     repoRoot,
		branchPrefix: branchPrefix,
		worktreeRoot: worktreeRoot,
		logger:       logging.OrNop(logger),
	}
}

func (s *Service) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// FindRepoRoot resolves the repository top level from cwd.
func FindRepoRoot(ctx context.Context, cwd string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("not a git repository at %s: %w: %s", cwd, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// WorkflowBranch returns the branch name for a workflow.
func (s *Service) WorkflowBranch(workflowID string) string {
	return s.branchPrefix + workflowID
}

// WorktreePath returns the stable worktree path for a workflow.
func (s *Service) WorktreePath(workflowID string) string {
	return filepath.Join(s.repoRoot, s.worktreeRoot, workflowID)
}

// CreateWorktree creates the workflow branch off baseBranch and checks it out
// in a fresh worktree. Idempotent: an existing worktree for the workflow is
// reused.
func (s *Service) CreateWorktree(ctx context.Context, workflowID, baseBranch string) (worktreePath, branch string, err error) {
	branch = s.WorkflowBranch(workflowID)
	worktreePath = s.WorktreePath(workflowID)

	if out, err := s.git(ctx, s.repoRoot, "worktree", "list", "--porcelain"); err == nil &&
		strings.Contains(out, "worktree "+worktreePath) {
		return worktreePath, branch, nil
	}

	if _, err := s.git(ctx, s.repoRoot, "worktree", "add", "-b", branch, worktreePath, baseBranch); err != nil {
		return "", "", fmt.Errorf("create worktree for %s: %w", workflowID, err)
	}
	s.logger.Info("created worktree %s on branch %s", worktreePath, branch)
	return worktreePath, branch, nil
}

// CheckoutInWorktree checks out branch inside the worktree.
func (s *Service) CheckoutInWorktree(ctx context.Context, worktreePath, branch string) error {
	_, err := s.git(ctx, worktreePath, "checkout", branch)
	return err
}

// CurrentBranch reports the branch checked out at path.
func (s *Service) CurrentBranch(ctx context.Context, path string) (string, error) {
	return s.git(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
}

// Diff returns the unified diff of path's HEAD against baseBranch.
func (s *Service) Diff(ctx context.Context, path, baseBranch string) (string, error) {
	return s.git(ctx, path, "diff", baseBranch+"...HEAD")
}

// MergeWorkflowBranch lands the workflow branch on the base branch using the
// requested strategy. fast-forward ignores the commit message; every other
// strategy requires one.
func (s *Service) MergeWorkflowBranch(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if req.Strategy != "fast-forward" && req.CommitMessage == "" {
		return nil, fmt.Errorf("strategy %q requires a commit message", req.Strategy)
	}

	if _, err := s.git(ctx, s.repoRoot, "checkout", req.BaseBranch); err != nil {
		return nil, err
	}

	switch req.Strategy {
	case "fast-forward":
		if _, err := s.git(ctx, s.repoRoot, "merge", "--ff-only", req.WorkflowBranch); err != nil {
			return nil, err
		}
	case "squash":
		if _, err := s.git(ctx, s.repoRoot, "merge", "--squash", req.WorkflowBranch); err != nil {
			return nil, err
		}
		if _, err := s.git(ctx, s.repoRoot, "commit", "-m", req.CommitMessage); err != nil {
			return nil, err
		}
	case "merge-commit":
		if _, err := s.git(ctx, s.repoRoot, "merge", "--no-ff", "-m", req.CommitMessage, req.WorkflowBranch); err != nil {
			return nil, err
		}
	case "rebase":
		if _, err := s.git(ctx, s.repoRoot, "rebase", req.WorkflowBranch); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", req.Strategy)
	}

	sha, err := s.git(ctx, s.repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return &MergeResult{Success: false}, nil
	}
	return &MergeResult{Success: true, CommitSHA: sha}, nil
}

// CleanupWorkflow removes the worktree and the workflow branch.
func (s *Service) CleanupWorkflow(ctx context.Context, workflowID string) error {
	worktreePath := s.WorktreePath(workflowID)
	branch := s.WorkflowBranch(workflowID)
	if _, err := s.git(ctx, s.repoRoot, "worktree", "remove", "--force", worktreePath); err != nil {
		s.logger.Warn("worktree remove failed for %s: %v", workflowID, err)
	}
	if _, err := s.git(ctx, s.repoRoot, "branch", "-D", branch); err != nil {
		s.logger.Warn("branch delete failed for %s: %v", workflowID, err)
	}
	return nil
}
