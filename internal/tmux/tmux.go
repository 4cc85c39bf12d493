// Package tmux is a small client for the tmux commands used to supervise
// agent sessions: liveness checks, termination and output capture.
//
// Sessions are addressed by the opaque target string the launch script
// prints (usually a pane id such as "%12"). An optional socket name selects
// a dedicated tmux server with -L, isolating flux-capacitor sessions from
// the user's own.
package tmux

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/executor"
)

// DefaultBinary is the tmux executable looked up on PATH.
const DefaultBinary = "tmux"

// DefaultQueryTimeout bounds a single tmux invocation.
const DefaultQueryTimeout = 5 * time.Second

// Client runs tmux commands.
type Client struct {
	binary  string
	socket  string
	exec    executor.CommandExecutor
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBinary sets the tmux executable.
func WithBinary(binary string) Option {
	return func(c *Client) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithSocket selects a tmux server by socket name; empty uses the default server.
func WithSocket(socket string) Option {
	return func(c *Client) { c.socket = socket }
}

// WithExecutor sets the command executor.
func WithExecutor(exec executor.CommandExecutor) Option {
	return func(c *Client) { c.exec = exec }
}

// WithQueryTimeout bounds each tmux invocation; 0 disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		binary:  DefaultBinary,
		exec:    executor.NewCLIExecutor(),
		timeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Socket returns the configured socket name.
func (c *Client) Socket() string {
	return c.socket
}

// CommandArgs returns the full tmux argument list for args, including the
// socket selection when one is configured.
func (c *Client) CommandArgs(args ...string) []string {
	if c.socket == "" {
		return append([]string(nil), args...)
	}
	return append([]string{"-L", c.socket}, args...)
}

func (c *Client) run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.exec.Run(ctx, "", c.binary, c.CommandArgs(args...)...)
}

// isMissing reports whether tmux said the target or the server is gone.
// tmux exits 1 for both.
func isMissing(err error, stderr []byte) bool {
	if executor.ExitCode(err) != 1 {
		return false
	}
	msg := string(stderr)
	return msg == "" ||
		strings.Contains(msg, "can't find") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "session not found") ||
		strings.Contains(msg, "error connecting to")
}

func tmuxFailure(msg, target string, err error, stderr []byte) error {
	e := errors.NewSessionError(msg, err).WithTmuxSession(target).WithRetryable(true)
	if s := strings.TrimSpace(string(stderr)); s != "" {
		e = errors.NewSessionError(msg+": "+s, err).WithTmuxSession(target).WithRetryable(true)
	}
	return e
}

// HasSession reports whether target still exists. A missing target or a
// stopped server is reported as false, not as an error.
func (c *Client) HasSession(ctx context.Context, target string) (bool, error) {
	_, stderr, err := c.run(ctx, "has-session", "-t", target)
	if err == nil {
		return true, nil
	}
	if isMissing(err, stderr) {
		return false, nil
	}
	return false, tmuxFailure("failed to query tmux", target, err, stderr)
}

// KillSession kills the session containing target. Killing a target that
// no longer exists succeeds.
func (c *Client) KillSession(ctx context.Context, target string) error {
	_, stderr, err := c.run(ctx, "kill-session", "-t", target)
	if err == nil || isMissing(err, stderr) {
		return nil
	}
	return tmuxFailure("failed to kill tmux session", target, err, stderr)
}

// CapturePane returns the last lines of target's pane. A missing target
// returns ErrSessionNotFound.
func (c *Client) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	if lines < 1 {
		lines = 1
	}
	stdout, stderr, err := c.run(ctx, "capture-pane", "-p", "-t", target, "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		if isMissing(err, stderr) {
			return "", errors.NewSessionError("pane not found", errors.ErrSessionNotFound).WithTmuxSession(target)
		}
		return "", tmuxFailure("failed to capture pane", target, err, stderr)
	}
	return trimCapture(string(stdout), lines), nil
}

// trimCapture drops the blank padding tmux emits below the cursor and keeps
// at most lines lines.
func trimCapture(out string, lines int) string {
	out = strings.TrimRight(out, "\n ")
	if out == "" {
		return ""
	}
	split := strings.Split(out, "\n")
	if len(split) > lines {
		split = split[len(split)-lines:]
	}
	return strings.Join(split, "\n")
}
