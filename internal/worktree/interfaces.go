package worktree

import (
	"context"

	"github.com/applab-nl/flux-capacitor/internal/state"
)

// Adapter is the set of repository operations the orchestration layer uses.
// Manager is the git CLI implementation.
type Adapter interface {
	// RepoDir returns the repository root the adapter operates on.
	RepoDir() string

	ValidateRepository(ctx context.Context) error
	ListBranches(ctx context.Context) ([]Branch, error)
	BranchExists(ctx context.Context, name string) (bool, error)
	CreateBranch(ctx context.Context, name, baseBranch string) error

	// ListWorktrees returns worktrees in the order git reports them.
	ListWorktrees(ctx context.Context) ([]state.WorktreeRecord, error)
	WorktreeInfo(ctx context.Context, path string) (*state.WorktreeRecord, error)
	CreateWorktree(ctx context.Context, opts CreateOptions) (*state.WorktreeRecord, error)
	RemoveWorktree(ctx context.Context, path string, force bool) error
	DeleteBranch(ctx context.Context, name string, force bool) (bool, error)

	// ExecuteInitScripts never fails because a script failed; see ScriptOutcome.
	ExecuteInitScripts(ctx context.Context, worktreePath, sourceRepo string) ([]ScriptOutcome, error)
}

// Inspector answers questions about an arbitrary checkout without knowing
// its repository up front.
type Inspector interface {
	ParentRepository(ctx context.Context, worktreePath string) (string, error)
	CurrentBranch(ctx context.Context, path string) (string, error)
	// ExcludePath makes git ignore relPath inside worktreePath.
	ExcludePath(ctx context.Context, worktreePath, relPath string) error
}

var (
	_ Adapter   = (*Manager)(nil)
	_ Inspector = (*Runner)(nil)
)
