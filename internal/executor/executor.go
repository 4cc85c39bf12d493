// Package executor abstracts subprocess execution for testability.
// Production code uses CLIExecutor; tests inject a MockExecutor that returns
// pre-recorded responses and records every invocation.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// CommandExecutor runs external commands (git, tmux, launch and init scripts).
type CommandExecutor interface {
	// Run executes a command and returns stdout and stderr separately.
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error)

	// Output executes a command and returns stdout. On failure err is an
	// *exec.ExitError carrying stderr.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// CombinedOutput executes a command and returns combined stdout+stderr.
	CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// waitDelay bounds how long Wait blocks on inherited pipes after a
// cancelled command has been killed.
const waitDelay = 2 * time.Second

// CLIExecutor executes commands using os/exec.
type CLIExecutor struct{}

// NewCLIExecutor creates a new CLI command executor.
func NewCLIExecutor() *CLIExecutor {
	return &CLIExecutor{}
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *CLIExecutor) Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// Output executes a command and returns stdout.
func (e *CLIExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	return cmd.Output()
}

// CombinedOutput executes a command and returns combined stdout+stderr.
func (e *CLIExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	return cmd.CombinedOutput()
}

// ExitCode returns the process exit code carried by err, or -1 when err is
// not an exit error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

var _ CommandExecutor = (*CLIExecutor)(nil)
