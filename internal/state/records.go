package state

import (
	"path/filepath"
	"time"
)

// Key namespaces.
const (
	WorktreePrefix = "worktree:"
	SessionPrefix  = "session:"
)

// WorktreeRecord is one checked-out working directory bound to a branch.
// Git is the source of truth; a record is an index entry that callers
// revalidate against `git worktree list` before trusting it.
type WorktreeRecord struct {
	Path       string    `json:"path"`
	Repository string    `json:"repository"`
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit"`
	Locked     bool      `json:"locked"`
	Prunable   bool      `json:"prunable"`
	CreatedAt  time.Time `json:"createdAt"`
	SessionID  string    `json:"sessionId,omitempty"`
}

// SessionStatus is the lifecycle state of a SessionRecord.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusTerminated SessionStatus = "terminated"
	// StatusUnknown is reported for sessions with no record; it is never stored.
	StatusUnknown SessionStatus = "unknown"
)

// Valid reports whether s may be persisted.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// SessionRecord is one launched agent process hosted in a tmux pane.
type SessionRecord struct {
	SessionID    string        `json:"sessionId"`
	WorktreePath string        `json:"worktreePath"`
	TmuxSession  string        `json:"tmuxSession"`
	Branch       string        `json:"branch,omitempty"`
	Prompt       string        `json:"prompt"`
	AgentName    string        `json:"agentName,omitempty"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	LastActivity *time.Time    `json:"lastActivity,omitempty"`
}

// Stats summarizes the store contents.
type Stats struct {
	Worktrees      int `json:"worktrees"`
	Sessions       int `json:"sessions"`
	ActiveSessions int `json:"activeSessions"`
}

// WorktreeKey returns the store key for a worktree path.
func WorktreeKey(path string) string {
	return WorktreePrefix + NormalizePath(path)
}

// SessionKey returns the store key for a session ID.
func SessionKey(id string) string {
	return SessionPrefix + id
}

// NormalizePath returns an absolute, cleaned path with symlinks resolved
// when the path exists. Paths reported by git are already in this form.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
