package cmd

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/applab-nl/flux-capacitor/internal/state"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream changes to recorded worktrees and sessions",
	Long: `Print a line for every worktree or session record that is written or
removed, including changes made by other flux-capacitor processes. With
--json each change is printed as one JSON object per line.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", state.DefaultWatchDebounce, "coalesce changes within this window")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPrinter(cmd)

	if !p.json {
		p.Printf("%s\n", p.Muted("Watching "+a.store.Dir()))
	}
	return a.store.Watch(cmd.Context(), watchDebounce, func(c state.Change) {
		if p.json {
			line, err := json.Marshal(c)
			if err == nil {
				p.Printf("%s\n", line)
			}
			return
		}
		p.Printf("%s %-8s %s\n", p.Muted(time.Now().Format(time.TimeOnly)), c.Op, describeChange(p, c))
	})
}

// describeChange names the record and, for sessions, its status.
func describeChange(p *printer, c state.Change) string {
	switch {
	case strings.HasPrefix(c.Key, state.SessionPrefix):
		desc := "session " + strings.TrimPrefix(c.Key, state.SessionPrefix)
		var rec state.SessionRecord
		if c.Op == state.ChangeUpdated && json.Unmarshal(c.Value, &rec) == nil {
			desc += " " + p.Status(rec.Status)
		}
		return desc
	case strings.HasPrefix(c.Key, state.WorktreePrefix):
		return "worktree " + strings.TrimPrefix(c.Key, state.WorktreePrefix)
	default:
		return c.Key
	}
}
