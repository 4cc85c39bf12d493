package worktree

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
)

// ScriptOutcome is the result of one init script. A failed script carries
// the failure reason in Error; it never aborts the scripts that follow.
type ScriptOutcome struct {
	Script     string        `json:"script"`
	Success    bool          `json:"success"`
	DurationMS int64         `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Output     string        `json:"-"`
	Duration   time.Duration `json:"-"`
}

// Succeeded returns the names of the scripts that exited zero, in run order.
func Succeeded(outcomes []ScriptOutcome) []string {
	names := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Success {
			names = append(names, o.Script)
		}
	}
	return names
}

// discoverInitScripts lists *.sh files in dir, sorted lexicographically.
// A missing directory yields no scripts.
func discoverInitScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewWorktreeError("failed to read init script directory", errors.ErrInitScriptFailed).
			WithPath(dir).
			WithDetails(err)
	}

	var scripts []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".sh") {
			scripts = append(scripts, entry.Name())
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}

// ExecuteInitScripts runs the worktree's init scripts one at a time, in
// lexicographic order, with the worktree as working directory and sourceRepo
// as the only argument. Output is captured, never forwarded.
// The error is non-nil only when the script directory exists but cannot be read.
func (m *Manager) ExecuteInitScripts(ctx context.Context, worktreePath, sourceRepo string) ([]ScriptOutcome, error) {
	dir := filepath.Join(worktreePath, m.initDir)
	scripts, err := discoverInitScripts(dir)
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 {
		m.logger.Debug("no init scripts found", "dir", dir)
		return nil, nil
	}

	log := m.logger.WithWorktree(worktreePath)
	log.Info("running init scripts", "count", len(scripts))

	outcomes := make([]ScriptOutcome, 0, len(scripts))
	for _, script := range scripts {
		outcomes = append(outcomes, m.runInitScript(ctx, filepath.Join(dir, script), worktreePath, sourceRepo))
	}
	return outcomes, nil
}

func (m *Manager) runInitScript(ctx context.Context, scriptPath, worktreePath, sourceRepo string) ScriptOutcome {
	name := filepath.Base(scriptPath)
	start := time.Now()
	outcome := ScriptOutcome{Script: name}

	finish := func(err error) ScriptOutcome {
		outcome.Duration = time.Since(start)
		outcome.DurationMS = outcome.Duration.Milliseconds()
		if err != nil {
			outcome.Error = err.Error()
			m.logger.Error("init script failed", "script", name, "error", outcome.Error, "output", outcome.Output)
		} else {
			outcome.Success = true
			m.logger.Info("init script completed", "script", name, "duration_ms", outcome.DurationMS)
		}
		return outcome
	}

	if err := os.Chmod(scriptPath, 0755); err != nil {
		return finish(err)
	}
	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	out, err := m.runner.Exec().CombinedOutput(ctx, worktreePath, scriptPath, sourceRepo)
	outcome.Output = string(out)
	return finish(err)
}
