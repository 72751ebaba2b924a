// Command orchestratord runs the workflow orchestration daemon: an HTTP and
// websocket API in front of the stage machine, agent runner, and tool system.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autarch-dev/autarch-sub002/internal/agent"
	"github.com/autarch-dev/autarch-sub002/internal/approval"
	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/delivery/server"
	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/gitx"
	"github.com/autarch-dev/autarch-sub002/internal/hooks"
	"github.com/autarch-dev/autarch-sub002/internal/llm"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
	"github.com/autarch-dev/autarch-sub002/internal/session"
	"github.com/autarch-dev/autarch-sub002/internal/store/memstore"
	"github.com/autarch-dev/autarch-sub002/internal/store/pgstore"
	"github.com/autarch-dev/autarch-sub002/internal/tools"
	"github.com/autarch-dev/autarch-sub002/internal/tools/builtin"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Agent workflow orchestration daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "autarch.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	root.AddCommand(initCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logging.SetDefaultLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("orchestratord")

	projectRoot := cfg.ProjectRoot
	if projectRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		projectRoot = cwd
	}
	if repoRoot, err := gitx.FindRepoRoot(ctx, projectRoot); err == nil {
		projectRoot = repoRoot
	} else {
		logger.Warn("project root %s is not inside a git repository: %v", projectRoot, err)
	}

	repos, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	bus := events.NewBus(logging.NewComponentLogger("events"))
	approvals := approval.NewService(func(req approval.Request) {
		bus.Broadcast(events.Event{Type: events.ApprovalRequested, Payload: map[string]any{
			"workflow_id": req.WorkflowID,
			"session_id":  req.SessionID,
			"turn_id":     req.TurnID,
			"tool_id":     req.ToolID,
			"command":     req.Command,
			"reason":      req.Reason,
		}})
	}, logging.NewComponentLogger("approval"))

	git := gitx.NewService(projectRoot, cfg.Git.BranchPrefix, cfg.Git.WorktreeRoot,
		logging.NewComponentLogger("gitx"))

	registry := tools.NewRegistry()
	if err := builtin.RegisterAll(registry, builtin.Deps{
		Repos:     repos,
		Approvals: approvals,
		Git:       git,
		Bus:       bus,
		Shell:     cfg.Shell,
		Notepad:   builtin.NewNotepad(),
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	hookRunner := hooks.NewRunner(cfg.Hooks, logging.NewComponentLogger("hooks"))
	executor := tools.NewExecutor(registry, hookRunner, nil, logging.NewComponentLogger("tools"))

	sessions := session.NewManager(repos.Sessions, bus, logging.NewComponentLogger("session"))
	pulses := orchestrator.NewPulseOrchestrator(repos.Pulses, git, logging.NewComponentLogger("pulse"))
	llmClient := llm.NewClient(cfg.LLM, logging.NewComponentLogger("llm"))

	orch := orchestrator.New(repos, sessions, pulses, git, approvals, llmClient, bus,
		cfg.Pulse, projectRoot, logging.NewComponentLogger("orchestrator"))
	runner := agent.NewRunner(repos.Conversations, llmClient, executor, orch, bus,
		agent.NewRoleRegistry(), logging.NewComponentLogger("agent"))
	orch.AttachRunner(runner)

	srv := server.New(cfg.Server, orch, repos, approvals, bus, logging.NewComponentLogger("server"))
	logger.Info("starting with project root %s, store driver %s", projectRoot, cfg.Store.Driver)
	return srv.Run(ctx)
}

func openStore(ctx context.Context, cfg config.Config) (ports.Repositories, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		store, err := pgstore.New(ctx, cfg.Store.PostgresDSN, logging.NewComponentLogger("pgstore"))
		if err != nil {
			return ports.Repositories{}, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return ports.Repositories{}, nil, err
		}
		return store.Repositories(), store.Close, nil
	default:
		return memstore.New().Repositories(), func() {}, nil
	}
}
