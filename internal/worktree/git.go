// Package worktree drives the git CLI to manage repositories, branches and
// linked worktrees. Every git invocation goes through a Runner, which caps
// concurrency with a shared Pool and converts process failures into coded
// errors carrying git's own output.
package worktree

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/executor"
	"github.com/applab-nl/flux-capacitor/internal/state"
)

// Runner executes git commands.
type Runner struct {
	exec executor.CommandExecutor
	pool *Pool
}

// NewRunner creates a Runner. A nil executor uses the real git binary; a nil
// pool runs commands without a concurrency cap.
func NewRunner(exec executor.CommandExecutor, pool *Pool) *Runner {
	if exec == nil {
		exec = executor.NewCLIExecutor()
	}
	return &Runner{exec: exec, pool: pool}
}

// Exec returns the underlying command executor.
func (r *Runner) Exec() executor.CommandExecutor {
	return r.exec
}

// Run executes `git args...` in dir and returns trimmed stdout. On failure
// the returned error wraps ErrGit and carries stderr as the git output.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr []byte
	err := r.pool.Run(ctx, func() error {
		var runErr error
		stdout, stderr, runErr = r.exec.Run(ctx, dir, "git", args...)
		return runErr
	})
	if err != nil {
		return "", gitFailure("git "+args[0]+" failed", err, stdout, stderr).WithRepository(dir)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// gitFailure builds the error for a failed git invocation.
func gitFailure(msg string, err error, stdout, stderr []byte) *errors.WorktreeError {
	output := strings.TrimSpace(string(stderr))
	if output == "" {
		output = strings.TrimSpace(string(stdout))
	}
	return errors.NewWorktreeError(msg, errors.ErrGit).
		WithGitOutput(output).
		WithDetails(err)
}

// gitOutput returns the git output carried by err, if any.
func gitOutput(err error) string {
	var wtErr *errors.WorktreeError
	if errors.As(err, &wtErr) {
		return wtErr.GitOutput
	}
	return ""
}

// ParentRepository returns the main working directory of the repository that
// owns worktreePath. For the main working directory it returns itself.
func (r *Runner) ParentRepository(ctx context.Context, worktreePath string) (string, error) {
	out, err := r.Run(ctx, worktreePath, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", errors.NewWorktreeError("failed to resolve parent repository", errors.ErrRepositoryNotFound).
			WithPath(worktreePath).
			WithGitOutput(gitOutput(err)).
			WithDetails(err)
	}

	commonDir := out
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(worktreePath, commonDir)
	}
	commonDir = filepath.Clean(commonDir)
	if filepath.Base(commonDir) == ".git" {
		commonDir = filepath.Dir(commonDir)
	}
	return state.NormalizePath(commonDir), nil
}

// CurrentBranch returns the branch checked out in path. A detached HEAD
// reports ErrBranchNotFound.
func (r *Runner) CurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := r.Run(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewWorktreeError("failed to read current branch", err).WithPath(path)
	}
	if out == "" || out == "HEAD" {
		return "", errors.NewWorktreeError("HEAD is detached", errors.ErrBranchNotFound).WithPath(path)
	}
	return out, nil
}

// ExcludePath appends "/relPath" to the checkout's info/exclude file unless
// it is already listed. Linked worktrees share the exclude file of their
// repository, so the entry covers every worktree at the same relative path.
func (r *Runner) ExcludePath(ctx context.Context, worktreePath, relPath string) error {
	out, err := r.Run(ctx, worktreePath, "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return errors.NewWorktreeError("failed to locate exclude file", err).WithPath(worktreePath)
	}
	excludeFile := out
	if !filepath.IsAbs(excludeFile) {
		excludeFile = filepath.Join(worktreePath, excludeFile)
	}

	entry := "/" + filepath.ToSlash(strings.TrimPrefix(relPath, "/"))
	existing, err := os.ReadFile(excludeFile)
	if err != nil && !os.IsNotExist(err) {
		return errors.NewWorktreeError("failed to read exclude file", err).WithPath(excludeFile)
	}
	sc := bufio.NewScanner(bytes.NewReader(existing))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == entry {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(excludeFile), 0755); err != nil {
		return errors.NewWorktreeError("failed to create exclude directory", err).WithPath(excludeFile)
	}
	f, err := os.OpenFile(excludeFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.NewWorktreeError("failed to open exclude file", err).WithPath(excludeFile)
	}
	defer f.Close()

	line := entry + "\n"
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		return errors.NewWorktreeError("failed to update exclude file", err).WithPath(excludeFile)
	}
	return nil
}
