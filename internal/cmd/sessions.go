package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/applab-nl/flux-capacitor/internal/orchestrator"
	"github.com/applab-nl/flux-capacitor/internal/session"
	"github.com/applab-nl/flux-capacitor/internal/state"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Launch and track agent sessions",
}

var sessionLaunchCmd = &cobra.Command{
	Use:   "launch <worktree-path>",
	Short: "Launch an agent session in a worktree",
	Long: `Write the prompt into the worktree and run the launch script, which opens
a tmux pane running the agent and prints the pane id.

The prompt comes from --prompt, --prompt-file, or stdin when neither is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionLaunch,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's status and recent output",
	Long: `Show a session's status. An active session whose tmux pane is gone is
recorded as terminated first, unless --no-reconcile is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionStatus,
}

var sessionTerminateCmd = &cobra.Command{
	Use:   "terminate <session-id>",
	Short: "Kill an active session's tmux pane",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionTerminate,
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete <session-id>",
	Short: "Record that a session's agent finished",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionComplete,
}

var sessionTouchCmd = &cobra.Command{
	Use:   "touch <session-id>",
	Short: "Record activity on an active session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionTouch,
}

var sessionOutputCmd = &cobra.Command{
	Use:   "output <session-id>",
	Short: "Print a session's recent pane output",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionOutput,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished sessions older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runSessionPrune,
}

var sessionReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mark active sessions whose tmux pane is gone as terminated",
	Args:  cobra.NoArgs,
	RunE:  runSessionReconcile,
}

var (
	launchPrompt       string
	launchPromptFile   string
	launchContextFiles []string
	launchAgent        string
	statusNoReconcile  bool
	completeFailed     bool
	listWorktree       string
	pruneDays          int
)

func init() {
	sessionLaunchCmd.Flags().StringVarP(&launchPrompt, "prompt", "p", "", "task for the agent")
	sessionLaunchCmd.Flags().StringVar(&launchPromptFile, "prompt-file", "", "read the task from a file")
	sessionLaunchCmd.Flags().StringSliceVar(&launchContextFiles, "context-file", nil, "file the agent should read first (repeatable)")
	sessionLaunchCmd.Flags().StringVar(&launchAgent, "agent", "", "agent to run")
	sessionLaunchCmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")

	sessionStatusCmd.Flags().BoolVar(&statusNoReconcile, "no-reconcile", false, "report the stored record without querying tmux")
	sessionCompleteCmd.Flags().BoolVar(&completeFailed, "failed", false, "record the session as failed")
	sessionListCmd.Flags().StringVar(&listWorktree, "worktree", "", "only sessions bound to this worktree")
	sessionPruneCmd.Flags().IntVar(&pruneDays, "days", 0, "age in days (default session.retention_days)")

	sessionCmd.AddCommand(
		sessionLaunchCmd,
		sessionStatusCmd,
		sessionTerminateCmd,
		sessionCompleteCmd,
		sessionTouchCmd,
		sessionOutputCmd,
		sessionListCmd,
		sessionPruneCmd,
		sessionReconcileCmd,
	)
	rootCmd.AddCommand(sessionCmd)
}

func readPrompt(cmd *cobra.Command) (string, error) {
	switch {
	case launchPrompt != "":
		return launchPrompt, nil
	case launchPromptFile != "":
		data, err := os.ReadFile(launchPromptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		return string(data), nil
	}
}

func runSessionLaunch(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	res, err := a.orch.LaunchSession(cmd.Context(), orchestrator.LaunchSessionParams{
		WorktreePath: args[0],
		Prompt:       strings.TrimSpace(prompt),
		ContextFiles: launchContextFiles,
		AgentName:    launchAgent,
	})
	if err != nil {
		return p.Fail(err)
	}
	if err := p.Result(res, func() {
		p.Field("Session", res.SessionID)
		p.Field("Status", string(res.Status))
		p.Field("Tmux", res.TmuxSession)
		p.Field("Error", res.Error)
	}); err != nil {
		return err
	}
	if res.Status != session.LaunchStatusFailed {
		return nil
	}
	if p.json || res.Err == nil {
		return fmt.Errorf("%w: launch failed", errReported)
	}
	return p.Fail(res.Err)
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	status := a.orch.GetSessionStatus
	if statusNoReconcile {
		status = a.orch.PeekSession
	}
	res, err := status(cmd.Context(), args[0])
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() { printSessionStatus(p, res) })
}

func printSessionStatus(p *printer, res *orchestrator.SessionStatusResult) {
	p.Field("Session", res.SessionID)
	p.Field("Status", p.Status(res.Status))
	if res.Status == state.StatusUnknown {
		return
	}
	p.Field("Worktree", res.WorktreePath)
	p.Field("Branch", res.Branch)
	p.Field("Agent", res.AgentName)
	p.Field("Tmux", res.TmuxSession)
	p.Field("Alive", strconv.FormatBool(res.SessionAlive))
	p.Field("Started", res.StartedAt)
	p.Field("Last activity", res.LastActivity)
	p.Field("Completed", res.CompletedAt)
	if res.RecentOutput != "" {
		p.Printf("\n%s\n%s\n", p.Muted("Recent output:"), res.RecentOutput)
	}
}

func runSessionTerminate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	res, err := a.orch.TerminateSession(cmd.Context(), args[0])
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() {
		if res.Terminated {
			p.Printf("Terminated %s\n", res.SessionID)
			return
		}
		p.Printf("%s\n", p.Muted(res.SessionID+" was not active"))
	})
}

func runSessionComplete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	status := state.StatusCompleted
	if completeFailed {
		status = state.StatusFailed
	}
	res, err := a.orch.CompleteSession(cmd.Context(), args[0], status)
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() { printSessionStatus(p, res) })
}

func runSessionTouch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	if err := a.orch.TouchSession(cmd.Context(), args[0]); err != nil {
		return p.Fail(err)
	}
	if p.json {
		return p.JSON(map[string]string{"sessionId": args[0]})
	}
	return nil
}

func runSessionOutput(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	out, err := a.orch.SessionOutput(cmd.Context(), args[0])
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(map[string]string{"sessionId": args[0], "output": out}, func() {
		p.Printf("%s\n", out)
	})
}

func runSessionList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	res, err := a.orch.ListSessions(cmd.Context(), listWorktree)
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() {
		if len(res.Sessions) == 0 {
			p.Printf("%s\n", p.Muted("No sessions recorded"))
			return
		}
		now := time.Now()
		rows := make([][]string, 0, len(res.Sessions))
		for _, s := range res.Sessions {
			startedAt, _ := time.Parse(time.RFC3339Nano, s.StartedAt)
			age := session.Age(&state.SessionRecord{StartedAt: startedAt}, now)
			rows = append(rows, []string{
				s.SessionID,
				p.Status(s.Status),
				age.String(),
				truncate(s.WorktreePath, 50),
				s.TmuxSession,
			})
		}
		p.Table([]string{"SESSION", "STATUS", "AGE", "WORKTREE", "TMUX"}, rows)
	})
}

func runSessionPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	res, err := a.orch.Prune(cmd.Context(), pruneDays)
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() {
		p.Printf("Removed %d session(s) finished more than %d day(s) ago\n", res.Removed, res.Days)
	})
}

func runSessionReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	res, err := a.orch.ReconcileAll(cmd.Context())
	if err != nil && res == nil {
		return p.Fail(err)
	}
	return p.Result(res, func() {
		p.Printf("Reconciled %d session(s)\n", res.Reconciled)
	})
}
