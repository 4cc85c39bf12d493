package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/applab-nl/flux-capacitor/internal/orchestrator"
)

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	Aliases: []string{"wt"},
	Short:   "Create, list and remove git worktrees",
}

var worktreeCreateCmd = &cobra.Command{
	Use:   "create <repository> <branch>",
	Short: "Create a worktree for a branch, or report the existing one",
	Long: `Create a worktree for <branch> next to <repository>. The branch is created
from --base (default HEAD) when it does not exist. Init scripts in the
worktree's init directory run after creation.`,
	Args: cobra.ExactArgs(2),
	RunE: runWorktreeCreate,
}

var worktreeListCmd = &cobra.Command{
	Use:   "list [repository]",
	Short: "List worktrees",
	Long: `List the worktrees of [repository]. Without an argument, repositories are
discovered in the working directory, its parent and the parent's children.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorktreeList,
}

var worktreeCleanupCmd = &cobra.Command{
	Use:   "cleanup <worktree-path>",
	Short: "Terminate a worktree's sessions and remove it",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreeCleanup,
}

var (
	createName   string
	createBase   string
	cleanupForce bool
	cleanupRmBr  bool
)

func init() {
	worktreeCreateCmd.Flags().StringVar(&createName, "name", "", "worktree directory name (default <repo>-<branch>)")
	worktreeCreateCmd.Flags().StringVar(&createBase, "base", "", "start point for a new branch")
	worktreeCleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "remove even with modified or untracked files")
	worktreeCleanupCmd.Flags().BoolVar(&cleanupRmBr, "remove-branch", false, "also delete the worktree's branch")

	worktreeCmd.AddCommand(worktreeCreateCmd, worktreeListCmd, worktreeCleanupCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func runWorktreeCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	res, err := a.orch.CreateWorktree(cmd.Context(), orchestrator.CreateWorktreeParams{
		Repository: args[0],
		Branch:     args[1],
		Name:       createName,
		BaseBranch: createBase,
	})
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() {
		p.Field("Worktree", res.WorktreePath)
		p.Field("Branch", res.Branch)
		p.Field("Status", res.Status)
		for _, oc := range res.InitScripts {
			status := "ok"
			if !oc.Success {
				status = p.Muted("failed: " + oc.Error)
			}
			p.Field("Init script", oc.Script+" "+status)
		}
	})
}

func runWorktreeList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	var params orchestrator.ListWorktreesParams
	if len(args) == 1 {
		params.Repository = args[0]
	}
	res, err := a.orch.ListWorktrees(cmd.Context(), params)
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() {
		if len(res.Worktrees) == 0 {
			p.Printf("%s\n", p.Muted("No worktrees found"))
			return
		}
		rows := make([][]string, 0, len(res.Worktrees))
		for _, wt := range res.Worktrees {
			commit := wt.Commit
			if len(commit) > 8 {
				commit = commit[:8]
			}
			flags := ""
			if wt.Locked {
				flags += "locked "
			}
			if wt.Prunable {
				flags += "prunable"
			}
			rows = append(rows, []string{truncate(wt.Path, 60), wt.Branch, commit, wt.SessionID, flags})
		}
		p.Table([]string{"PATH", "BRANCH", "COMMIT", "SESSION", "FLAGS"}, rows)
	})
}

func runWorktreeCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	res, err := a.orch.CleanupWorktree(cmd.Context(), orchestrator.CleanupWorktreeParams{
		WorktreePath: args[0],
		Force:        cleanupForce,
		RemoveBranch: cleanupRmBr,
	})
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(res, func() {
		p.Field("Removed", res.WorktreePath)
		p.Field("Branch removed", strconv.FormatBool(res.BranchRemoved))
		p.Field("Sessions ended", strconv.Itoa(res.SessionsTerminated))
	})
}
