package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count recorded worktrees and sessions",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	stats, err := a.orch.Stats(cmd.Context())
	if err != nil {
		return p.Fail(err)
	}
	return p.Result(stats, func() {
		p.Field("Worktrees", strconv.Itoa(stats.Worktrees))
		p.Field("Sessions", strconv.Itoa(stats.Sessions))
		p.Field("Active", strconv.Itoa(stats.ActiveSessions))
		p.Field("State dir", p.Muted(a.store.Dir()))
	})
}
