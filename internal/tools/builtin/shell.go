package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/autarch-dev/autarch-sub002/internal/approval"
	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

type shell struct {
	approvals *approval.Service
	cfg       config.ShellConfig
}

// NewShell returns the shell tool. Commands run under the platform shell and
// block on human approval when a workflow context is present.
func NewShell(approvals *approval.Service, cfg config.ShellConfig) ports.Tool {
	return &shell{approvals: approvals, cfg: cfg}
}

func (t *shell) Execute(ctx context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	command := stringArg(input, "command")
	if strings.TrimSpace(command) == "" {
		return fail("Error: command must not be empty"), nil
	}

	if tc.WorkflowID != "" && t.approvals != nil && !t.approvals.IsCommandRemembered(tc.WorkflowID, command) {
		decision, err := t.approvals.RequestApproval(ctx, approval.Request{
			WorkflowID: tc.WorkflowID,
			SessionID:  tc.SessionID,
			TurnID:     tc.TurnID,
			ToolID:     tc.ToolCallID,
			Command:    command,
			Reason:     stringArg(input, "reason"),
		})
		if err != nil {
			return fail("Error: shell approval failed: %v", err), nil
		}
		if !decision.Approved {
			reason := decision.DenyReason
			if reason == "" {
				reason = "denied by user"
			}
			return fail("Error: command denied: %s", reason), nil
		}
	}

	timeout := t.cfg.DefaultTimeout
	if secs := intArg(input, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > t.cfg.MaxTimeout {
			timeout = t.cfg.MaxTimeout
		}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cctx, "cmd", "/c", command)
	} else {
		cmd = exec.CommandContext(cctx, "sh", "-c", command)
	}
	cmd.Dir = tc.Root()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, okCast := runErr.(*exec.ExitError); okCast {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	limit := t.cfg.OutputLimit
	if boolArg(input, "full_output") {
		limit = t.cfg.FullOutputLimit
	}

	var b strings.Builder
	if cctx.Err() == context.DeadlineExceeded {
		fmt.Fprintf(&b, "Command timed out after %s\n", timeout)
	}
	fmt.Fprintf(&b, "Exit code: %d\n", exitCode)
	fmt.Fprintf(&b, "--- stdout ---\n%s\n", truncateOutput(stdout.String(), limit))
	fmt.Fprintf(&b, "--- stderr ---\n%s", truncateOutput(stderr.String(), limit))

	if runErr != nil {
		return fail("%s", b.String()), nil
	}
	return ok("%s", b.String()), nil
}

// truncateOutput keeps the head and tail halves of oversized output with an
// elision marker in between.
func truncateOutput(output string, limit int) string {
	if limit <= 0 || len(output) <= limit {
		return output
	}
	half := limit / 2
	elided := len(output) - 2*half
	return output[:half] + fmt.Sprintf("\n... [%d bytes elided] ...\n", elided) + output[len(output)-half:]
}

func (t *shell) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "shell",
		Description: "Run a shell command in the workflow worktree. Commands require human " +
			"approval unless previously remembered for the workflow.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"command":     {Type: "string", Description: "Command to execute under the platform shell"},
				"timeout":     {Type: "integer", Description: "Timeout in seconds (max 300, default 60)"},
				"full_output": {Type: "boolean", Description: "Raise the output cap from 4 KiB to 64 KiB"},
			}),
			Required: []string{"command", "reason"},
		},
	}
}
