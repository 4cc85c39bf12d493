package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/state"
	"github.com/applab-nl/flux-capacitor/internal/worktree"
)

// CreateWorktreeParams are the inputs of CreateWorktree.
type CreateWorktreeParams struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Name       string `json:"name,omitempty"`
	BaseBranch string `json:"baseBranch,omitempty"`
}

// Creation status values.
const (
	StatusCreated = "created"
	StatusExists  = "exists"
)

// CreateWorktreeResult reports a created or pre-existing worktree.
// InitScriptsRun lists the init scripts that succeeded; InitScripts has
// every outcome, failures included.
type CreateWorktreeResult struct {
	WorktreePath   string                   `json:"worktreePath"`
	Branch         string                   `json:"branch"`
	Status         string                   `json:"status"`
	InitScriptsRun []string                 `json:"initScriptsRun"`
	InitScripts    []worktree.ScriptOutcome `json:"initScripts,omitempty"`
}

// CreateWorktree creates a worktree for params.Branch, or returns the one
// that already exists for that branch or name.
func (o *Orchestrator) CreateWorktree(ctx context.Context, params CreateWorktreeParams) (*CreateWorktreeResult, error) {
	if err := requireField("repository", params.Repository); err != nil {
		return nil, err
	}
	if err := worktree.ValidateBranchName(params.Branch); err != nil {
		return nil, err
	}
	repo := state.NormalizePath(params.Repository)
	log := o.logger.With("repository", repo, "branch", params.Branch)
	log.Info("creating worktree", "name", params.Name, "base", params.BaseBranch)

	adapter := o.adapters(repo)
	if err := adapter.ValidateRepository(ctx); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(repoLockKey(repo))
	defer unlock()

	existing, err := adapter.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	if wt := matchExisting(existing, params.Branch, params.Name); wt != nil {
		log.Info("worktree already exists", "path", wt.Path)
		return &CreateWorktreeResult{
			WorktreePath:   wt.Path,
			Branch:         wt.Branch,
			Status:         StatusExists,
			InitScriptsRun: []string{},
		}, nil
	}

	rec, err := adapter.CreateWorktree(ctx, worktree.CreateOptions{
		Branch:     params.Branch,
		Name:       params.Name,
		BaseBranch: params.BaseBranch,
	})
	if err != nil {
		return nil, err
	}

	outcomes, err := adapter.ExecuteInitScripts(ctx, rec.Path, repo)
	if err != nil {
		log.Error("failed to execute init scripts", "error", err.Error())
	}
	for _, oc := range outcomes {
		if !oc.Success {
			log.Warn("init script failed", "script", oc.Script, "error", oc.Error)
		}
	}

	if err := o.store.SaveWorktree(ctx, *rec); err != nil {
		return nil, err
	}

	ran := worktree.Succeeded(outcomes)
	log.Info("worktree created", "path", rec.Path, "init_scripts_run", len(ran))
	return &CreateWorktreeResult{
		WorktreePath:   rec.Path,
		Branch:         rec.Branch,
		Status:         StatusCreated,
		InitScriptsRun: ran,
		InitScripts:    outcomes,
	}, nil
}

// matchExisting finds a worktree on branch, or one whose directory is
// named name.
func matchExisting(worktrees []state.WorktreeRecord, branch, name string) *state.WorktreeRecord {
	for i := range worktrees {
		wt := &worktrees[i]
		if wt.Branch == branch || (name != "" && filepath.Base(wt.Path) == name) {
			return wt
		}
	}
	return nil
}

// ListWorktreesParams are the inputs of ListWorktrees. An empty Repository
// lists every repository discovered around the working directory.
type ListWorktreesParams struct {
	Repository string `json:"repository,omitempty"`
}

// ListWorktreesResult holds the listed worktrees.
type ListWorktreesResult struct {
	Worktrees []state.WorktreeRecord `json:"worktrees"`
}

type repoListing struct {
	index   int
	records []state.WorktreeRecord
	err     error
}

// ListWorktrees lists worktrees as git reports them, enriched with the
// most recent active session of each. With an explicit repository, stale
// state records for that repository are removed.
func (o *Orchestrator) ListWorktrees(ctx context.Context, params ListWorktreesParams) (*ListWorktreesResult, error) {
	if params.Repository != "" {
		repo := state.NormalizePath(params.Repository)
		records, err := o.listRepository(ctx, repo)
		if err != nil {
			return nil, err
		}
		o.dropStale(ctx, repo, records)
		return &ListWorktreesResult{Worktrees: records}, nil
	}

	repos := o.discoverRepositories()
	if len(repos) == 0 {
		o.logger.Warn("no git repositories found")
		return &ListWorktreesResult{Worktrees: []state.WorktreeRecord{}}, nil
	}

	p := pool.NewWithResults[repoListing]().WithMaxGoroutines(o.listConcurrency)
	for i, repo := range repos {
		p.Go(func() repoListing {
			records, err := o.listRepository(ctx, repo)
			return repoListing{index: i, records: records, err: err}
		})
	}
	listings := p.Wait()
	sort.Slice(listings, func(a, b int) bool { return listings[a].index < listings[b].index })

	seen := make(map[string]bool)
	all := []state.WorktreeRecord{}
	for _, l := range listings {
		if l.err != nil {
			o.logger.Warn("skipping repository", "repository", repos[l.index], "error", l.err.Error())
			continue
		}
		for _, rec := range l.records {
			if !seen[rec.Path] {
				seen[rec.Path] = true
				all = append(all, rec)
			}
		}
	}
	return &ListWorktreesResult{Worktrees: all}, nil
}

// listRepository validates repo, lists its worktrees and attaches session ids.
func (o *Orchestrator) listRepository(ctx context.Context, repo string) ([]state.WorktreeRecord, error) {
	adapter := o.adapters(repo)
	if err := adapter.ValidateRepository(ctx); err != nil {
		return nil, err
	}
	records, err := adapter.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.listConcurrency)
	for i := range records {
		g.Go(func() error {
			if cached, _ := o.store.GetWorktree(gctx, records[i].Path); cached != nil {
				records[i].CreatedAt = cached.CreatedAt
			}
			active, err := o.store.FindActiveSession(gctx, records[i].Path)
			if err != nil {
				return err
			}
			if active != nil {
				records[i].SessionID = active.SessionID
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// dropStale deletes state records for repo whose worktree git no longer lists.
func (o *Orchestrator) dropStale(ctx context.Context, repo string, live []state.WorktreeRecord) {
	cached, err := o.store.ListWorktrees(ctx, repo)
	if err != nil {
		o.logger.Warn("failed to read cached worktrees", "repository", repo, "error", err.Error())
		return
	}
	present := make(map[string]bool, len(live))
	for _, rec := range live {
		present[rec.Path] = true
	}
	for _, rec := range cached {
		if present[rec.Path] {
			continue
		}
		if _, err := o.store.DeleteWorktree(ctx, rec.Path); err != nil {
			o.logger.Warn("failed to drop stale worktree record", "path", rec.Path, "error", err.Error())
			continue
		}
		o.logger.Debug("dropped stale worktree record", "path", rec.Path)
	}
}

// discoverRepositories returns the working directory, its parent and the
// parent's children that contain a .git directory, without duplicates.
func (o *Orchestrator) discoverRepositories() []string {
	cwd, err := o.getwd()
	if err != nil {
		o.logger.Warn("cannot determine working directory", "error", err.Error())
		return nil
	}
	cwd = state.NormalizePath(cwd)
	parent := filepath.Dir(cwd)

	candidates := []string{cwd, parent}
	if entries, err := os.ReadDir(parent); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				candidates = append(candidates, filepath.Join(parent, e.Name()))
			}
		}
	} else {
		o.logger.Debug("cannot read parent directory", "dir", parent, "error", err.Error())
	}

	seen := make(map[string]bool)
	var repos []string
	for _, dir := range candidates {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			repos = append(repos, dir)
		}
	}
	o.logger.Debug("discovered repositories", "count", len(repos))
	return repos
}

// CleanupWorktreeParams are the inputs of CleanupWorktree.
type CleanupWorktreeParams struct {
	WorktreePath string `json:"worktreePath"`
	Force        bool   `json:"force,omitempty"`
	RemoveBranch bool   `json:"removeBranch,omitempty"`
}

// CleanupWorktreeResult reports a removed worktree.
type CleanupWorktreeResult struct {
	Removed            bool   `json:"removed"`
	WorktreePath       string `json:"worktreePath"`
	BranchRemoved      bool   `json:"branchRemoved"`
	SessionsTerminated int    `json:"sessionsTerminated"`
}

// CleanupWorktree terminates the worktree's active sessions, removes the
// worktree, optionally deletes its branch and drops its state record.
// Branch deletion is best effort; every other failure is returned.
//
// Sessions are terminated before the worktree is looked up, so a cleanup
// that fails with WORKTREE_NOT_FOUND or WORKTREE_DIRTY has still ended them.
func (o *Orchestrator) CleanupWorktree(ctx context.Context, params CleanupWorktreeParams) (*CleanupWorktreeResult, error) {
	if err := requireField("worktreePath", params.WorktreePath); err != nil {
		return nil, err
	}
	path := state.NormalizePath(params.WorktreePath)
	log := o.logger.WithWorktree(path)
	log.Info("cleaning up worktree", "force", params.Force, "remove_branch", params.RemoveBranch)

	unlock := o.locks.Lock(worktreeLockKey(path))
	defer unlock()

	terminated := o.terminateWorktreeSessions(ctx, path)

	repo, err := o.inspector.ParentRepository(ctx, path)
	if err != nil {
		return nil, err
	}
	adapter := o.adapters(repo)

	info, err := adapter.WorktreeInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.NewWorktreeError("worktree not found", errors.ErrWorktreeNotFound).
			WithPath(path).WithRepository(repo)
	}

	if err := adapter.RemoveWorktree(ctx, path, params.Force); err != nil {
		return nil, err
	}

	branchRemoved := false
	if params.RemoveBranch && info.Branch != "" {
		removed, err := adapter.DeleteBranch(ctx, info.Branch, params.Force)
		switch {
		case err != nil:
			log.Error("failed to remove branch", "branch", info.Branch, "error", err.Error())
		case !removed:
			log.Warn("branch not removed, it may have unmerged changes", "branch", info.Branch)
		default:
			branchRemoved = true
		}
	}

	if _, err := o.store.DeleteWorktree(ctx, path); err != nil {
		return nil, err
	}

	log.Info("worktree cleanup complete", "branch_removed", branchRemoved, "sessions_terminated", terminated)
	return &CleanupWorktreeResult{
		Removed:            true,
		WorktreePath:       path,
		BranchRemoved:      branchRemoved,
		SessionsTerminated: terminated,
	}, nil
}

// terminateWorktreeSessions terminates every active session bound to path
// and returns how many were terminated. Failures are logged and skipped.
func (o *Orchestrator) terminateWorktreeSessions(ctx context.Context, path string) int {
	sessions, err := o.store.FindSessionsByWorktree(ctx, path)
	if err != nil {
		o.logger.Warn("failed to find worktree sessions", "path", path, "error", err.Error())
		return 0
	}

	count := 0
	for _, rec := range sessions {
		if rec.Status != state.StatusActive {
			continue
		}
		ok, err := o.terminateLocked(ctx, rec.SessionID)
		if err != nil {
			o.logger.WithSession(rec.SessionID).Warn("failed to terminate session", "error", err.Error())
			continue
		}
		if ok {
			count++
		}
	}
	return count
}
