package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/session"
	"github.com/applab-nl/flux-capacitor/internal/state"
)

// LaunchSessionParams are the inputs of LaunchSession.
type LaunchSessionParams struct {
	WorktreePath string   `json:"worktreePath"`
	Prompt       string   `json:"prompt"`
	ContextFiles []string `json:"contextFiles,omitempty"`
	AgentName    string   `json:"agentName,omitempty"`
}

// LaunchSession starts an agent session in an existing worktree directory.
// A failed launch is reported in the result, not as an error.
func (o *Orchestrator) LaunchSession(ctx context.Context, params LaunchSessionParams) (*session.LaunchResult, error) {
	if err := requireField("worktreePath", params.WorktreePath); err != nil {
		return nil, err
	}
	if err := requireField("prompt", params.Prompt); err != nil {
		return nil, err
	}
	path := state.NormalizePath(params.WorktreePath)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, errors.NewSessionError("worktree not found: "+params.WorktreePath, errors.ErrInvalidWorktree)
	}

	unlock := o.locks.Lock(worktreeLockKey(path))
	defer unlock()

	res := o.launcher.Launch(ctx, session.LaunchParams{
		WorktreePath: path,
		Prompt:       params.Prompt,
		AgentName:    params.AgentName,
		ContextFiles: params.ContextFiles,
	})
	return &res, nil
}

// SessionStatusResult describes one session as currently observed.
type SessionStatusResult struct {
	SessionID    string              `json:"sessionId"`
	Status       state.SessionStatus `json:"status"`
	WorktreePath string              `json:"worktreePath"`
	Branch       string              `json:"branch,omitempty"`
	AgentName    string              `json:"agentName,omitempty"`
	TmuxSession  string              `json:"tmuxSession"`
	StartedAt    string              `json:"startedAt"`
	CompletedAt  string              `json:"completedAt,omitempty"`
	LastActivity string              `json:"lastActivity,omitempty"`
	SessionAlive bool                `json:"sessionAlive"`
	RecentOutput string              `json:"recentOutput,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func statusResult(rec *state.SessionRecord, alive bool, output string) *SessionStatusResult {
	return &SessionStatusResult{
		SessionID:    rec.SessionID,
		Status:       rec.Status,
		WorktreePath: rec.WorktreePath,
		Branch:       rec.Branch,
		AgentName:    rec.AgentName,
		TmuxSession:  rec.TmuxSession,
		StartedAt:    formatTime(&rec.StartedAt),
		CompletedAt:  formatTime(rec.CompletedAt),
		LastActivity: formatTime(rec.LastActivity),
		SessionAlive: alive,
		RecentOutput: output,
	}
}

// GetSessionStatus reconciles the session with tmux and reports it. An
// active session whose pane is gone is persisted as terminated first.
// Unknown ids report status "unknown".
func (o *Orchestrator) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatusResult, error) {
	if err := requireField("sessionId", sessionID); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	snap, err := o.monitor.Status(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return &SessionStatusResult{SessionID: sessionID, Status: state.StatusUnknown}, nil
	}
	return statusResult(snap.Record, snap.Alive, snap.Output), nil
}

// PeekSession reports the stored session without querying tmux.
func (o *Orchestrator) PeekSession(ctx context.Context, sessionID string) (*SessionStatusResult, error) {
	rec, err := o.monitor.Peek(ctx, sessionID)
	if errors.Is(err, errors.ErrSessionNotFound) {
		return &SessionStatusResult{SessionID: sessionID, Status: state.StatusUnknown}, nil
	}
	if err != nil {
		return nil, err
	}
	return statusResult(rec, false, ""), nil
}

// TerminateResult reports a termination request.
type TerminateResult struct {
	SessionID  string `json:"sessionId"`
	Terminated bool   `json:"terminated"`
}

// TerminateSession kills an active session. Terminated is false when the
// session had already finished.
func (o *Orchestrator) TerminateSession(ctx context.Context, sessionID string) (*TerminateResult, error) {
	if err := requireField("sessionId", sessionID); err != nil {
		return nil, err
	}
	ok, err := o.terminateLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &TerminateResult{SessionID: sessionID, Terminated: ok}, nil
}

func (o *Orchestrator) terminateLocked(ctx context.Context, sessionID string) (bool, error) {
	unlock := o.locks.Lock(sessionLockKey(sessionID))
	defer unlock()
	return o.monitor.Terminate(ctx, sessionID)
}

// CompleteSession records the agent's own completion status.
func (o *Orchestrator) CompleteSession(ctx context.Context, sessionID string, status state.SessionStatus) (*SessionStatusResult, error) {
	if err := requireField("sessionId", sessionID); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(sessionLockKey(sessionID))
	defer unlock()

	if _, err := o.monitor.Complete(ctx, sessionID, status); err != nil {
		return nil, err
	}
	rec, err := o.monitor.Peek(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return statusResult(rec, false, ""), nil
}

// ListSessionsResult holds stored sessions, oldest first.
type ListSessionsResult struct {
	Sessions []SessionStatusResult `json:"sessions"`
}

// ListSessions returns stored sessions, optionally only those bound to
// worktreePath, without querying tmux.
func (o *Orchestrator) ListSessions(ctx context.Context, worktreePath string) (*ListSessionsResult, error) {
	var (
		records []state.SessionRecord
		err     error
	)
	if worktreePath != "" {
		records, err = o.store.FindSessionsByWorktree(ctx, worktreePath)
	} else {
		records, err = o.store.ListSessions(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := make([]SessionStatusResult, 0, len(records))
	for i := range records {
		out = append(out, *statusResult(&records[i], false, ""))
	}
	return &ListSessionsResult{Sessions: out}, nil
}

// Stats counts stored worktrees and sessions.
func (o *Orchestrator) Stats(ctx context.Context) (state.Stats, error) {
	return o.store.Stats(ctx)
}

// ReconcileResult reports a reconciliation pass.
type ReconcileResult struct {
	Reconciled int `json:"reconciled"`
}

// ReconcileAll moves every active session whose pane is gone to terminated.
func (o *Orchestrator) ReconcileAll(ctx context.Context) (*ReconcileResult, error) {
	n, err := o.monitor.ReconcileAll(ctx)
	if err != nil {
		o.logger.Warn("reconcile finished with errors", "error", err.Error())
	}
	return &ReconcileResult{Reconciled: n}, err
}

// PruneResult reports removed session records.
type PruneResult struct {
	Removed int `json:"removed"`
	Days    int `json:"days"`
}

// Prune deletes finished sessions older than days; days < 1 uses the
// configured retention.
func (o *Orchestrator) Prune(ctx context.Context, days int) (*PruneResult, error) {
	if days < 1 {
		days = o.retentionDays
	}
	n, err := o.monitor.Prune(ctx, days)
	if err != nil {
		return nil, err
	}
	return &PruneResult{Removed: n, Days: days}, nil
}

// TouchSession stamps lastActivity on an active session. Agent hooks call it
// to report progress.
func (o *Orchestrator) TouchSession(ctx context.Context, sessionID string) error {
	if err := requireField("sessionId", sessionID); err != nil {
		return err
	}
	unlock := o.locks.Lock(sessionLockKey(sessionID))
	defer unlock()
	return o.monitor.Touch(ctx, sessionID)
}

// SessionOutput returns the session's recent pane output without changing
// its status.
func (o *Orchestrator) SessionOutput(ctx context.Context, sessionID string) (string, error) {
	if err := requireField("sessionId", sessionID); err != nil {
		return "", err
	}
	return o.monitor.Output(ctx, sessionID)
}
