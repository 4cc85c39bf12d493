package cmd

import (
	"fmt"

	"github.com/applab-nl/flux-capacitor/internal/config"
	"github.com/applab-nl/flux-capacitor/internal/executor"
	"github.com/applab-nl/flux-capacitor/internal/logging"
	"github.com/applab-nl/flux-capacitor/internal/orchestrator"
	"github.com/applab-nl/flux-capacitor/internal/session"
	"github.com/applab-nl/flux-capacitor/internal/state"
	"github.com/applab-nl/flux-capacitor/internal/tmux"
	"github.com/applab-nl/flux-capacitor/internal/worktree"
)

// app is the component graph one command invocation runs against. Every
// component shares the same store, git pool and logger.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *state.Store
	orch   *orchestrator.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return buildApp(cfg, executor.NewCLIExecutor())
}

func buildApp(cfg *config.Config, exec executor.CommandExecutor) (*app, error) {
	logger, err := logging.NewLoggerWithRotation(cfg.Log.Dir, cfg.Log.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	store := state.NewStore(cfg.State.Dir, state.WithLogger(logger))
	if err := store.Init(); err != nil {
		_ = logger.Close()
		return nil, err
	}

	runner := worktree.NewRunner(exec, worktree.NewPool(cfg.Git.MaxConcurrent))
	adapters := func(repo string) worktree.Adapter {
		return worktree.New(repo,
			worktree.WithRunner(runner),
			worktree.WithLogger(logger),
			worktree.WithInitDir(cfg.Worktree.InitDir),
			worktree.WithDefaultBranch(cfg.Worktree.DefaultBranch),
			worktree.WithMaxWorktrees(cfg.Worktree.MaxWorktrees),
		)
	}

	mux := tmux.NewClient(
		tmux.WithBinary(cfg.Tmux.Binary),
		tmux.WithSocket(cfg.Tmux.Socket),
		tmux.WithExecutor(exec),
	)
	launcher := session.NewLauncher(store, runner, mux, session.LauncherConfigFrom(cfg.Session),
		session.WithLauncherExecutor(exec),
		session.WithLauncherLogger(logger),
	)
	monitor := session.NewMonitor(store, mux,
		session.WithMonitorLogger(logger),
		session.WithOutputLines(cfg.Session.OutputLines),
	)

	orch := orchestrator.New(orchestrator.Services{
		Store:     store,
		Adapters:  adapters,
		Inspector: runner,
		Launcher:  launcher,
		Monitor:   monitor,
	},
		orchestrator.WithLogger(logger),
		orchestrator.WithListConcurrency(cfg.Git.MaxConcurrent),
		orchestrator.WithRetentionDays(cfg.Session.RetentionDays),
	)

	return &app{cfg: cfg, logger: logger, store: store, orch: orch}, nil
}

// Close flushes the log.
func (a *app) Close() error {
	return a.logger.Close()
}
