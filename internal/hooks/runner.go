// Package hooks runs configured commands after file mutations.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
)

const hookTimeout = 30 * time.Second

// Result is the outcome of one hook execution.
type Result struct {
	Hook    config.Hook
	Success bool
	Output  string
}

// Outcome aggregates a hook pass over a single written file.
type Outcome struct {
	// Blocked is true when a block-policy hook failed; the caller must roll
	// the file back.
	Blocked bool
	// BlockedBy is the failing hook when Blocked.
	BlockedBy *Result
	// Warnings collects failures of warn-policy hooks.
	Warnings []Result
}

// Runner matches hooks against written paths and executes them sequentially.
type Runner struct {
	hooks   []compiledHook
	logger  logging.Logger
	timeout time.Duration
}

type compiledHook struct {
	cfg     config.Hook
	matcher glob.Glob
}

// NewRunner compiles the hook globs. Invalid globs are dropped with a warning.
func NewRunner(hooks []config.Hook, logger logging.Logger) *Runner {
	r := &Runner{logger: logging.OrNop(logger), timeout: hookTimeout}
	for _, h := range hooks {
		matcher, err := glob.Compile(h.Glob, '/')
		if err != nil {
			r.logger.Warn("hook %q: invalid glob %q: %v", h.Name, h.Glob, err)
			continue
		}
		r.hooks = append(r.hooks, compiledHook{cfg: h, matcher: matcher})
	}
	return r
}

// Run executes every hook whose glob matches relPath, in configuration order.
// It stops at the first failing block-policy hook.
func (r *Runner) Run(ctx context.Context, root, relPath string) Outcome {
	var outcome Outcome
	absPath := filepath.Join(root, relPath)
	for _, h := range r.hooks {
		if !h.matcher.Match(filepath.ToSlash(relPath)) {
			continue
		}
		res := r.execute(ctx, root, h.cfg, relPath, absPath)
		if res.Success {
			continue
		}
		if h.cfg.OnFailure == config.HookBlock {
			outcome.Blocked = true
			outcome.BlockedBy = &res
			return outcome
		}
		outcome.Warnings = append(outcome.Warnings, res)
	}
	return outcome
}

// substitutePlaceholders replaces all occurrences of the hook placeholders.
func substitutePlaceholders(command, relPath, absPath string) string {
	replacer := strings.NewReplacer(
		"%PATH%", relPath,
		"%ABSOLUTE_PATH%", absPath,
		"%DIRNAME%", filepath.Dir(absPath),
		"%FILENAME%", filepath.Base(relPath),
	)
	return replacer.Replace(command)
}

func (r *Runner) execute(ctx context.Context, root string, hook config.Hook, relPath, absPath string) Result {
	command := substitutePlaceholders(hook.Command, relPath, absPath)

	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(hctx, "cmd", "/c", command)
	} else {
		cmd = exec.CommandContext(hctx, "sh", "-c", command)
	}
	cmd.Dir = root

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := strings.TrimSpace(buf.String())
	if err != nil {
		if hctx.Err() == context.DeadlineExceeded {
			output = fmt.Sprintf("hook timed out after %s: %s", r.timeout, output)
		}
		r.logger.Warn("hook %q failed on %s: %v", hook.Name, relPath, err)
		return Result{Hook: hook, Success: false, Output: output}
	}
	return Result{Hook: hook, Success: true, Output: output}
}
