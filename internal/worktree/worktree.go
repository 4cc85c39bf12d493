package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/executor"
	"github.com/applab-nl/flux-capacitor/internal/logging"
	"github.com/applab-nl/flux-capacitor/internal/state"
)

// DefaultInitDir is the worktree-relative directory holding init scripts.
const DefaultInitDir = ".worktree-init"

// Manager handles git worktree operations for one repository.
type Manager struct {
	repoDir       string
	runner        *Runner
	logger        *logging.Logger
	initDir       string
	defaultBranch string
	maxWorktrees  int
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRunner sets the git runner. Share one Runner to share its Pool.
func WithRunner(r *Runner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithExecutor runs git through exec without a concurrency cap.
func WithExecutor(exec executor.CommandExecutor) Option {
	return func(m *Manager) { m.runner = NewRunner(exec, nil) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithInitDir overrides the init script directory.
func WithInitDir(dir string) Option {
	return func(m *Manager) { m.initDir = dir }
}

// WithDefaultBranch sets the branch reported for bare entries.
func WithDefaultBranch(name string) Option {
	return func(m *Manager) { m.defaultBranch = name }
}

// WithMaxWorktrees limits linked worktrees per repository; 0 is unlimited.
func WithMaxWorktrees(n int) Option {
	return func(m *Manager) { m.maxWorktrees = n }
}

// New creates a Manager for the repository at repoDir. The path is not
// checked until an operation runs; call ValidateRepository to check early.
func New(repoDir string, opts ...Option) *Manager {
	m := &Manager{
		repoDir:       state.NormalizePath(repoDir),
		logger:        logging.NopLogger(),
		initDir:       DefaultInitDir,
		defaultBranch: "main",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runner == nil {
		m.runner = NewRunner(nil, nil)
	}
	return m
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// Runner returns the git runner used by m.
func (m *Manager) Runner() *Runner {
	return m.runner
}

// ValidateRepository fails with ErrRepositoryNotFound unless the root is the
// top level of a git working tree.
func (m *Manager) ValidateRepository(ctx context.Context) error {
	notFound := func(err error) error {
		e := errors.NewWorktreeError("not a valid git repository", errors.ErrRepositoryNotFound).WithRepository(m.repoDir)
		if err != nil {
			e = e.WithGitOutput(gitOutput(err)).WithDetails(err)
		}
		return e
	}

	info, err := os.Stat(m.repoDir)
	if err != nil || !info.IsDir() {
		return notFound(err)
	}
	top, err := m.runner.Run(ctx, m.repoDir, "rev-parse", "--show-toplevel")
	if err != nil {
		return notFound(err)
	}
	if state.NormalizePath(top) != m.repoDir {
		return notFound(nil)
	}
	return nil
}

// Branch is a local branch.
type Branch struct {
	Name    string `json:"name"`
	Commit  string `json:"commit"`
	Current bool   `json:"current"`
}

// ListBranches returns the repository's local branches.
func (m *Manager) ListBranches(ctx context.Context) ([]Branch, error) {
	if err := m.ValidateRepository(ctx); err != nil {
		return nil, err
	}
	out, err := m.runner.Run(ctx, m.repoDir, "for-each-ref", "--format=%(refname:short)%09%(objectname)%09%(HEAD)", "refs/heads")
	if err != nil {
		return nil, errors.NewWorktreeError("failed to list branches", err).WithRepository(m.repoDir)
	}

	var branches []Branch
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		b := Branch{Name: fields[0], Commit: fields[1]}
		if len(fields) > 2 {
			b.Current = strings.TrimSpace(fields[2]) == "*"
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// BranchExists reports whether a local branch named name exists.
func (m *Manager) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := m.runner.Run(ctx, m.repoDir, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var wtErr *errors.WorktreeError
	if errors.As(err, &wtErr) && executor.ExitCode(wtErr.Details) == 1 {
		return false, nil
	}
	return false, errors.NewWorktreeError("failed to check branch", err).WithBranch(name).WithRepository(m.repoDir)
}

// CreateBranch creates name from baseBranch, or from HEAD when baseBranch is
// empty. An existing branch is left untouched.
func (m *Manager) CreateBranch(ctx context.Context, name, baseBranch string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if err := m.ValidateRepository(ctx); err != nil {
		return err
	}
	exists, err := m.BranchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		m.logger.Debug("branch already exists", "branch", name)
		return nil
	}

	args := []string{"branch", name}
	if baseBranch != "" {
		args = append(args, baseBranch)
	}
	if _, err := m.runner.Run(ctx, m.repoDir, args...); err != nil {
		return errors.NewWorktreeError("failed to create branch", err).WithBranch(name).WithRepository(m.repoDir)
	}
	m.logger.Info("created branch", "branch", name, "base", baseBranch)
	return nil
}

// ListWorktrees returns every worktree git knows about, main working
// directory first, each tagged with this repository.
func (m *Manager) ListWorktrees(ctx context.Context) ([]state.WorktreeRecord, error) {
	if err := m.ValidateRepository(ctx); err != nil {
		return nil, err
	}
	out, err := m.runner.Run(ctx, m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewWorktreeError("failed to list worktrees", err).WithRepository(m.repoDir)
	}

	now := m.now()
	entries := ParsePorcelain(out, m.defaultBranch)
	records := make([]state.WorktreeRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, state.WorktreeRecord{
			Path:       e.Path,
			Repository: m.repoDir,
			Branch:     e.Branch,
			Commit:     e.Commit,
			Locked:     e.Locked,
			Prunable:   e.Prunable,
			CreatedAt:  now,
		})
	}
	return records, nil
}

// WorktreeInfo returns the worktree registered at path, or nil.
func (m *Manager) WorktreeInfo(ctx context.Context, path string) (*state.WorktreeRecord, error) {
	records, err := m.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	return findByPath(records, path), nil
}

func findByPath(records []state.WorktreeRecord, path string) *state.WorktreeRecord {
	path = state.NormalizePath(path)
	for i := range records {
		if state.NormalizePath(records[i].Path) == path {
			rec := records[i]
			return &rec
		}
	}
	return nil
}

// WorktreePath returns the directory a worktree named name would occupy:
// a sibling of the repository root.
func (m *Manager) WorktreePath(name string) string {
	return filepath.Join(filepath.Dir(m.repoDir), name)
}

// CreateOptions describes a worktree to create.
type CreateOptions struct {
	Branch string
	// Name is the directory name; defaults to GenerateWorktreeName.
	Name string
	// BaseBranch is the start point for a new branch; defaults to HEAD.
	BaseBranch string
}

// CreateWorktree checks out opts.Branch in a new sibling directory. A
// missing branch is created together with the worktree in one git call.
// It fails with ErrWorktreeExists when git already tracks the path or the
// directory exists on disk.
func (m *Manager) CreateWorktree(ctx context.Context, opts CreateOptions) (*state.WorktreeRecord, error) {
	if err := ValidateBranchName(opts.Branch); err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = GenerateWorktreeName(m.repoDir, opts.Branch)
	}
	if err := validateDirName(name); err != nil {
		return nil, err
	}

	existing, err := m.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	path := m.WorktreePath(name)
	exists := func(msg string) error {
		return errors.NewWorktreeError(msg, errors.ErrWorktreeExists).
			WithPath(path).WithBranch(opts.Branch).WithRepository(m.repoDir)
	}
	if findByPath(existing, path) != nil {
		return nil, exists("worktree already exists")
	}
	if _, err := os.Stat(path); err == nil {
		return nil, exists("directory already exists")
	}
	if m.maxWorktrees > 0 && len(existing)-1 >= m.maxWorktrees {
		return nil, errors.NewWorktreeError("worktree limit reached", errors.ErrMaxWorktreesExceeded).
			WithRepository(m.repoDir)
	}

	branchExists, err := m.BranchExists(ctx, opts.Branch)
	if err != nil {
		return nil, err
	}

	args := []string{"worktree", "add", "--quiet"}
	if branchExists {
		args = append(args, path, opts.Branch)
	} else {
		args = append(args, "-b", opts.Branch, path)
		if opts.BaseBranch != "" {
			args = append(args, opts.BaseBranch)
		}
	}

	log := m.logger.WithWorktree(path)
	log.Info("creating worktree", "branch", opts.Branch, "new_branch", !branchExists, "base", opts.BaseBranch)
	if _, err := m.runner.Run(ctx, m.repoDir, args...); err != nil {
		return nil, errors.NewWorktreeError("failed to create worktree", err).
			WithPath(path).WithBranch(opts.Branch).WithRepository(m.repoDir)
	}

	created, err := m.WorktreeInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errors.NewWorktreeError("worktree created but not found in list", errors.ErrGit).
			WithPath(path).WithRepository(m.repoDir)
	}
	return created, nil
}

// RemoveWorktree unregisters and deletes the worktree at path. Without
// force, a worktree with local changes fails with ErrWorktreeDirty.
func (m *Manager) RemoveWorktree(ctx context.Context, path string, force bool) error {
	info, err := m.WorktreeInfo(ctx, path)
	if err != nil {
		return err
	}
	if info == nil {
		return errors.NewWorktreeError("worktree not found", errors.ErrWorktreeNotFound).
			WithPath(path).WithRepository(m.repoDir)
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, info.Path)

	if _, err := m.runner.Run(ctx, m.repoDir, args...); err != nil {
		output := gitOutput(err)
		if strings.Contains(output, "contains modified or untracked files") {
			return errors.NewWorktreeError("worktree has uncommitted changes, use force to override", errors.ErrWorktreeDirty).
				WithPath(info.Path).WithGitOutput(output).WithDetails(err)
		}
		return errors.NewWorktreeError("failed to remove worktree", err).WithPath(info.Path)
	}
	m.logger.Info("removed worktree", "worktree", info.Path, "force", force)
	return nil
}

// DeleteBranch deletes a local branch. It returns false without an error
// when git reports the branch missing or not fully merged.
func (m *Manager) DeleteBranch(ctx context.Context, name string, force bool) (bool, error) {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := m.runner.Run(ctx, m.repoDir, "branch", flag, name); err != nil {
		output := gitOutput(err)
		if strings.Contains(output, "not found") || strings.Contains(output, "not fully merged") {
			m.logger.Warn("could not delete branch", "branch", name, "output", output)
			return false, nil
		}
		return false, errors.NewWorktreeError("failed to delete branch", err).WithBranch(name).WithRepository(m.repoDir)
	}
	m.logger.Info("deleted branch", "branch", name)
	return true, nil
}
