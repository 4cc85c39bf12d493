// Package session launches coding-agent processes inside tmux panes and
// keeps their stored status in line with what tmux reports.
//
// A Launcher turns a worktree and a prompt into exactly one active
// SessionRecord, or into a failed result that leaves nothing behind in the
// store. A Monitor answers liveness and output questions for stored sessions
// and performs the terminal transitions.
package session

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/config"
	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/executor"
	"github.com/applab-nl/flux-capacitor/internal/logging"
	"github.com/applab-nl/flux-capacitor/internal/state"
	"github.com/applab-nl/flux-capacitor/internal/worktree"
)

// Multiplexer is the subset of tmux the session layer drives.
type Multiplexer interface {
	HasSession(ctx context.Context, target string) (bool, error)
	KillSession(ctx context.Context, target string) error
	CapturePane(ctx context.Context, target string, lines int) (string, error)
}

// LaunchStatus is the outcome of a launch attempt.
type LaunchStatus string

const (
	LaunchStatusLaunched LaunchStatus = "launched"
	LaunchStatusFailed   LaunchStatus = "failed"
)

// LaunchParams describes the session to start.
type LaunchParams struct {
	WorktreePath string
	Prompt       string
	AgentName    string
	ContextFiles []string
}

// LaunchResult reports a launch attempt. Err carries the typed failure for
// callers that need its code; Error is its message.
type LaunchResult struct {
	SessionID   string       `json:"sessionId"`
	TmuxSession string       `json:"tmuxSession,omitempty"`
	Status      LaunchStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	Err         error        `json:"-"`
}

// LauncherConfig holds the launch settings.
type LauncherConfig struct {
	Script     string
	Timeout    time.Duration
	PromptDir  string
	PromptFile string
	IDPrefix   string
}

// LauncherConfigFrom extracts launcher settings from the session config,
// filling unset values with defaults.
func LauncherConfigFrom(cfg config.SessionConfig) LauncherConfig {
	def := config.Default().Session
	lc := LauncherConfig{
		Script:     cfg.LaunchScript,
		Timeout:    cfg.LaunchTimeout,
		PromptDir:  cfg.PromptDir,
		PromptFile: cfg.PromptFile,
		IDPrefix:   cfg.IDPrefix,
	}
	if lc.Script == "" {
		lc.Script = def.LaunchScript
	}
	if lc.Timeout <= 0 {
		lc.Timeout = def.LaunchTimeout
	}
	if lc.PromptDir == "" {
		lc.PromptDir = def.PromptDir
	}
	if lc.PromptFile == "" {
		lc.PromptFile = def.PromptFile
	}
	if lc.IDPrefix == "" {
		lc.IDPrefix = def.IDPrefix
	}
	return lc
}

// Launcher starts agent sessions through an external launch script.
type Launcher struct {
	store     *state.Store
	inspector worktree.Inspector
	mux       Multiplexer
	exec      executor.CommandExecutor
	logger    *logging.Logger
	cfg       LauncherConfig
	now       func() time.Time
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLauncherExecutor sets the executor used to run the launch script.
func WithLauncherExecutor(exec executor.CommandExecutor) LauncherOption {
	return func(l *Launcher) { l.exec = exec }
}

// WithLauncherLogger sets the logger.
func WithLauncherLogger(logger *logging.Logger) LauncherOption {
	return func(l *Launcher) { l.logger = logger }
}

// WithLauncherClock overrides time.Now, for tests.
func WithLauncherClock(now func() time.Time) LauncherOption {
	return func(l *Launcher) { l.now = now }
}

// NewLauncher creates a Launcher. mux is used only to kill a pane whose
// session record could not be written.
func NewLauncher(store *state.Store, inspector worktree.Inspector, mux Multiplexer, cfg LauncherConfig, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		store:     store,
		inspector: inspector,
		mux:       mux,
		exec:      executor.NewCLIExecutor(),
		logger:    logging.NopLogger(),
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GenerateSessionID returns "<prefix>_<dir>_<epoch-ms>_<hash8>" where hash8
// is the first eight hex digits of sha256(path + epoch-ms).
func GenerateSessionID(prefix, worktreePath string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	sum := sha256.Sum256([]byte(worktreePath + ts))
	return fmt.Sprintf("%s_%s_%s_%s", prefix, filepath.Base(worktreePath), ts, hex.EncodeToString(sum[:])[:8])
}

// RenderPrompt builds the prompt file content: a heading, the optional agent
// directive, the prompt body and the optional context file list.
func RenderPrompt(prompt, agentName string, contextFiles []string) string {
	var sb strings.Builder
	sb.WriteString("# Claude Code Session\n\n")
	if agentName != "" {
		fmt.Fprintf(&sb, "Use the %s subagent for this task.\n\n", agentName)
	}
	sb.WriteString(prompt)
	sb.WriteString("\n\n")
	if len(contextFiles) > 0 {
		sb.WriteString("## Context Files\n\n")
		for _, f := range contextFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// CreatePromptFile writes the session instructions into the worktree's
// prompt directory and returns the file path.
func (l *Launcher) CreatePromptFile(worktreePath, prompt, agentName string, contextFiles []string) (string, error) {
	dir := filepath.Join(worktreePath, l.cfg.PromptDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.NewSessionError("failed to create prompt directory", err)
	}
	path := filepath.Join(dir, l.cfg.PromptFile)
	content := RenderPrompt(prompt, agentName, contextFiles)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.NewSessionError("failed to write prompt file", err)
	}
	l.logger.Debug("created prompt file", "path", path, "bytes", len(content))
	return path, nil
}

// Launch starts one session in params.WorktreePath. Any failure yields
// Status failed and no stored record.
func (l *Launcher) Launch(ctx context.Context, params LaunchParams) LaunchResult {
	wtPath := state.NormalizePath(params.WorktreePath)
	sessionID := GenerateSessionID(l.cfg.IDPrefix, wtPath, l.now())
	log := l.logger.WithSession(sessionID).WithWorktree(wtPath)

	fail := func(err error) LaunchResult {
		log.Error("session launch failed", "error", err.Error())
		return LaunchResult{
			SessionID: sessionID,
			Status:    LaunchStatusFailed,
			Error:     err.Error(),
			Err:       err,
		}
	}

	if existing, err := l.store.GetSession(ctx, sessionID); err != nil {
		return fail(err)
	} else if existing != nil {
		return fail(errors.NewSessionError("session id collision", errors.ErrSessionAlreadyExists).WithSessionID(sessionID))
	}

	promptFile, err := l.CreatePromptFile(wtPath, params.Prompt, params.AgentName, params.ContextFiles)
	if err != nil {
		return fail(err)
	}
	rel := filepath.Join(l.cfg.PromptDir, l.cfg.PromptFile)
	if err := l.inspector.ExcludePath(ctx, wtPath, rel); err != nil {
		log.Warn("prompt file is not excluded from git", "path", rel, "error", err.Error())
	}

	repo, branch := l.resolveTarget(ctx, wtPath)
	log.Info("launching session", "repository", repo, "branch", branch, "agent", params.AgentName)

	pane, err := l.runScript(ctx, sessionID, repo, branch, wtPath, promptFile)
	if err != nil {
		return fail(err)
	}

	rec := state.SessionRecord{
		SessionID:    sessionID,
		WorktreePath: wtPath,
		TmuxSession:  pane,
		Branch:       branch,
		Prompt:       params.Prompt,
		AgentName:    params.AgentName,
		Status:       state.StatusActive,
		StartedAt:    l.now(),
	}
	if err := l.store.SaveSession(ctx, rec); err != nil {
		if l.mux != nil {
			if killErr := l.mux.KillSession(ctx, pane); killErr != nil {
				log.Warn("failed to kill orphaned pane", "tmux", pane, "error", killErr.Error())
			}
		}
		return fail(errors.NewSessionError("failed to record session", err).WithSessionID(sessionID).WithTmuxSession(pane))
	}

	log.Info("session launched", "tmux", pane)
	return LaunchResult{SessionID: sessionID, TmuxSession: pane, Status: LaunchStatusLaunched}
}

// resolveTarget returns the owning repository and branch of wtPath. An
// unreadable repository falls back to the worktree itself and a detached or
// unreadable HEAD to a synthesized branch name.
func (l *Launcher) resolveTarget(ctx context.Context, wtPath string) (repo, branch string) {
	repo, err := l.inspector.ParentRepository(ctx, wtPath)
	if err != nil {
		l.logger.Warn("could not resolve parent repository", "path", wtPath, "error", err.Error())
		repo = wtPath
	}
	branch, err = l.inspector.CurrentBranch(ctx, wtPath)
	if err != nil {
		branch = "detached-" + filepath.Base(wtPath)
	}
	return repo, branch
}

// runScript invokes the launch script and returns the pane id it printed.
func (l *Launcher) runScript(ctx context.Context, sessionID, repo, branch, wtPath, promptFile string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	args := []string{
		"--repo", repo,
		"--branch", branch,
		"--worktree", filepath.Base(wtPath),
		"--prompt-file", promptFile,
		"--session-id", sessionID,
	}
	stdout, stderr, err := l.exec.Run(ctx, wtPath, l.cfg.Script, args...)
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.NewTimeoutError("launch script", l.cfg.Timeout).WithCause(errors.ErrLaunchFailed)
	}
	if err != nil {
		msg := fmt.Sprintf("launch script failed (%v)", err)
		if s := strings.TrimSpace(string(stderr)); s != "" {
			msg += ": " + s
		}
		return "", errors.NewSessionError(msg, errors.ErrLaunchFailed).WithSessionID(sessionID)
	}

	pane := firstLine(stdout)
	if pane == "" {
		return "", errors.NewSessionError("launch script printed no pane id", errors.ErrLaunchFailed).WithSessionID(sessionID)
	}
	return pane, nil
}

func firstLine(out []byte) string {
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
