package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// WorktreeError Tests
// -----------------------------------------------------------------------------

func TestWorktreeError_Code(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  Code
	}{
		{"dirty", ErrWorktreeDirty, CodeWorktreeDirty},
		{"exists", ErrWorktreeExists, CodeWorktreeExists},
		{"not found", ErrWorktreeNotFound, CodeWorktreeNotFound},
		{"repository", ErrRepositoryNotFound, CodeRepositoryNotFound},
		{"wrapped sentinel", fmt.Errorf("ctx: %w", ErrMaxWorktreesExceeded), CodeMaxWorktreesExceeded},
		{"raw cause", errors.New("exit status 128"), CodeGitError},
		{"nil cause", nil, CodeGitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewWorktreeError("op failed", tt.cause)
			if got := err.Code(); got != tt.want {
				t.Errorf("Code() = %q, want %q", got, tt.want)
			}
			if got := CodeOf(err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWorktreeError_Error(t *testing.T) {
	err := NewWorktreeError("failed to remove worktree", ErrWorktreeDirty).
		WithPath("/src/app-feature").
		WithBranch("feature").
		WithDetails(errors.New("exit status 128")).
		WithGitOutput("fatal: '/src/app-feature' contains modified or untracked files\n")

	msg := err.Error()
	for _, want := range []string{
		"worktree error [branch=feature, worktree=/src/app-feature]",
		"failed to remove worktree: worktree contains modified or untracked files",
		"(exit status 128)",
		"git output: fatal:",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestWorktreeError_ErrorGitOutputOnce(t *testing.T) {
	const output = "fatal: '/src/app-feature' contains modified or untracked files"
	inner := NewWorktreeError("git worktree failed", ErrGit).
		WithGitOutput(output).
		WithDetails(errors.New("exit status 128"))

	tests := []struct {
		name string
		err  error
	}{
		{"details", NewWorktreeError("remove failed", ErrWorktreeDirty).WithGitOutput(output).WithDetails(inner)},
		{"cause", NewWorktreeError("remove failed", inner).WithGitOutput(output)},
		{"wrapped details", NewWorktreeError("remove failed", ErrWorktreeDirty).WithGitOutput(output).WithDetails(fmt.Errorf("run: %w", inner))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Count(tt.err.Error(), "git output: "); got != 1 {
				t.Errorf("Error() prints git output %d times, want 1: %q", got, tt.err.Error())
			}
		})
	}
}

func TestWorktreeError_Is(t *testing.T) {
	err := NewWorktreeError("remove failed", ErrWorktreeDirty)
	wrapped := fmt.Errorf("cleanup: %w", err)

	if !Is(wrapped, ErrWorktreeDirty) {
		t.Error("Is(wrapped, ErrWorktreeDirty) = false, want true")
	}
	if Is(wrapped, ErrWorktreeNotFound) {
		t.Error("Is(wrapped, ErrWorktreeNotFound) = true, want false")
	}

	var wtErr *WorktreeError
	if !As(wrapped, &wtErr) {
		t.Fatal("As(wrapped, *WorktreeError) = false, want true")
	}
	if wtErr.Message() != "remove failed" {
		t.Errorf("Message() = %q, want %q", wtErr.Message(), "remove failed")
	}
}

// -----------------------------------------------------------------------------
// SessionError Tests
// -----------------------------------------------------------------------------

func TestNewSessionError(t *testing.T) {
	err := NewSessionError("failed to load session", ErrSessionNotFound).
		WithSessionID("sess_app_1_deadbeef").
		WithTmuxSession("%3")

	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}
	if got := err.Code(); got != CodeSessionNotFound {
		t.Errorf("Code() = %q, want %q", got, CodeSessionNotFound)
	}

	want := "session error [session=sess_app_1_deadbeef, tmux=%3]: failed to load session: session not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSessionError_DefaultCode(t *testing.T) {
	err := NewSessionError("boom", errors.New("raw"))
	if got := err.Code(); got != CodeInternal {
		t.Errorf("Code() = %q, want %q", got, CodeInternal)
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestValidationError(t *testing.T) {
	err := NewValidationError("branch name cannot start with '-'").WithField("branch").WithValue("-x")

	if !Is(err, ErrInvalidInput) {
		t.Error("Is(err, ErrInvalidInput) = false, want true")
	}
	if got := CodeOf(err); got != CodeInvalidInput {
		t.Errorf("CodeOf() = %q, want %q", got, CodeInvalidInput)
	}
	if !strings.Contains(err.Error(), "field=branch") {
		t.Errorf("Error() = %q, want field context", err.Error())
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("launch script", 30*time.Second)

	if got := err.Error(); got != "timeout error: launch script (timeout: 30s)" {
		t.Errorf("Error() = %q", got)
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(err, ErrTimeout) = false, want true")
	}
	if got := CodeOf(err); got != CodeTimeout {
		t.Errorf("CodeOf() = %q, want %q", got, CodeTimeout)
	}
}

// -----------------------------------------------------------------------------
// Classification Helper Tests
// -----------------------------------------------------------------------------

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain", errors.New("plain"), CodeInternal},
		{"sentinel", ErrBranchNotFound, CodeBranchNotFound},
		{"wrapped sentinel", Wrap(ErrSessionNotFound, "lookup"), CodeSessionNotFound},
		{"joined", Join(errors.New("a"), ErrWorktreeExists), CodeWorktreeExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(NewSessionError("short", ErrSessionNotFound)); got != "short" {
		t.Errorf("MessageOf(domain) = %q, want %q", got, "short")
	}
	if got := MessageOf(errors.New("plain")); got != "plain" {
		t.Errorf("MessageOf(plain) = %q, want %q", got, "plain")
	}
	if got := MessageOf(nil); got != "" {
		t.Errorf("MessageOf(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if IsUserFacing(errors.New("internal")) {
		t.Error("IsUserFacing(plain) = true")
	}
	if !IsUserFacing(ErrWorktreeDirty) {
		t.Error("IsUserFacing(sentinel) = false")
	}
	if !IsUserFacing(NewWorktreeError("x", nil)) {
		t.Error("IsUserFacing(WorktreeError) = false")
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v", got)
	}
	if got := GetSeverity(errors.New("x")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v", got)
	}
	err := NewWorktreeError("x", nil).WithSeverity(SeverityWarning)
	if got := GetSeverity(err); got != SeverityWarning {
		t.Errorf("GetSeverity(warning) = %v", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := Wrap(ErrGit, "listing worktrees")
	if err.Error() != "listing worktrees: git command failed" {
		t.Errorf("Wrap() = %q", err.Error())
	}
	if !Is(err, ErrGit) {
		t.Error("Wrap should preserve the chain")
	}
}
