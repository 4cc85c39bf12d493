package cmd

import (
	"github.com/spf13/cobra"

	"github.com/applab-nl/flux-capacitor/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the worktree and session tools over stdio",
	Long: `Serve create_worktree, list_worktrees, cleanup_worktree, launch_session,
get_session_status and stats as tools over stdin/stdout.

Stdout carries protocol frames only. Logs go to the configured log
directory, or stderr when none is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if n, err := a.orch.ReconcileAll(ctx); err == nil && n.Reconciled > 0 {
		a.logger.Info("reconciled sessions on startup", "count", n.Reconciled)
	}

	srv := mcpserver.New(mcpserver.Config{
		Name:    a.cfg.Server.Name,
		Version: a.cfg.Server.Version,
	}, a.orch, mcpserver.WithLogger(a.logger))
	return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
