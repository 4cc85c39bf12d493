// Package errors provides centralized error definitions and error handling utilities
// for flux-capacitor. It defines coded sentinel errors, domain error types with
// context builders, and classification helpers used by the tool-call layer to
// turn failures into structured results.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - WorktreeError: errors from the version-control adapter (worktrees, branches, init scripts)
//   - SessionError: errors from launching, polling and terminating agent sessions
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input
//   - TimeoutError: operation timed out
//
// # Codes
//
// Every sentinel carries a stable Code (e.g. WORKTREE_DIRTY). Domain errors report
// the code of the sentinel they wrap, so callers can branch on it without string
// matching:
//
//	err := errors.NewWorktreeError("remove failed", errors.ErrWorktreeDirty).WithPath(p)
//	if errors.CodeOf(err) == errors.CodeWorktreeDirty { ... }
//	if errors.Is(err, errors.ErrWorktreeDirty) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Codes
// -----------------------------------------------------------------------------

// Code is a stable, machine-readable error identifier surfaced to callers.
type Code string

// Worktree codes.
const (
	CodeRepositoryNotFound   Code = "REPOSITORY_NOT_FOUND"
	CodeWorktreeExists       Code = "WORKTREE_EXISTS"
	CodeWorktreeNotFound     Code = "WORKTREE_NOT_FOUND"
	CodeWorktreeDirty        Code = "WORKTREE_DIRTY"
	CodeBranchExists         Code = "BRANCH_EXISTS"
	CodeBranchNotFound       Code = "BRANCH_NOT_FOUND"
	CodeGitError             Code = "GIT_ERROR"
	CodeInitScriptFailed     Code = "INIT_SCRIPT_FAILED"
	CodeMaxWorktreesExceeded Code = "MAX_WORKTREES_EXCEEDED"
)

// Session codes.
const (
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionAlreadyExists Code = "SESSION_ALREADY_EXISTS"
	CodeLaunchFailed         Code = "LAUNCH_FAILED"
	CodeInvalidWorktree      Code = "INVALID_WORKTREE"
)

// General codes.
const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeTimeout      Code = "TIMEOUT"
	CodeStateError   Code = "STATE_ERROR"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// sentinel is a comparable error value that carries a Code.
type sentinel struct {
	code    Code
	message string
}

func newSentinel(code Code, message string) error {
	return &sentinel{code: code, message: message}
}

func (s *sentinel) Error() string { return s.message }

// Code returns the sentinel's code.
func (s *sentinel) Code() Code { return s.code }

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Worktree-related sentinel errors
var (
	// ErrRepositoryNotFound indicates that the path is not a git repository.
	ErrRepositoryNotFound = newSentinel(CodeRepositoryNotFound, "repository not found")
	// ErrWorktreeExists indicates that a worktree already exists at the target path.
	ErrWorktreeExists = newSentinel(CodeWorktreeExists, "worktree already exists")
	// ErrWorktreeNotFound indicates that no worktree is registered at the path.
	ErrWorktreeNotFound = newSentinel(CodeWorktreeNotFound, "worktree not found")
	// ErrWorktreeDirty indicates that the worktree has modified or untracked files.
	ErrWorktreeDirty = newSentinel(CodeWorktreeDirty, "worktree contains modified or untracked files")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = newSentinel(CodeBranchExists, "branch already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = newSentinel(CodeBranchNotFound, "branch not found")
	// ErrGit is the catch-all for failed git invocations.
	ErrGit = newSentinel(CodeGitError, "git command failed")
	// ErrInitScriptFailed indicates that a worktree init script exited non-zero.
	ErrInitScriptFailed = newSentinel(CodeInitScriptFailed, "init script failed")
	// ErrMaxWorktreesExceeded indicates the configured worktree limit was reached.
	ErrMaxWorktreesExceeded = newSentinel(CodeMaxWorktreesExceeded, "maximum number of worktrees reached")
)

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = newSentinel(CodeSessionNotFound, "session not found")
	// ErrSessionAlreadyExists indicates a session id collision.
	ErrSessionAlreadyExists = newSentinel(CodeSessionAlreadyExists, "session already exists")
	// ErrLaunchFailed indicates that the launch script did not produce a pane.
	ErrLaunchFailed = newSentinel(CodeLaunchFailed, "session launch failed")
	// ErrInvalidWorktree indicates that a session target is not a usable worktree.
	ErrInvalidWorktree = newSentinel(CodeInvalidWorktree, "invalid worktree")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = newSentinel(CodeInvalidInput, "invalid input")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = newSentinel(CodeTimeout, "operation timed out")
	// ErrState indicates that the state store could not be read or written.
	ErrState = newSentinel(CodeStateError, "state store error")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// CodedError is the interface shared by all domain and semantic errors.
type CodedError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Code returns the stable error code.
	Code() Code

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to show to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Message returns the message without cause or context.
func (e *baseError) Message() string {
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// codeFromCause resolves the code of the wrapped sentinel, or fallback.
func (e *baseError) codeFromCause(fallback Code) Code {
	var s *sentinel
	if e.cause != nil && errors.As(e.cause, &s) {
		return s.code
	}
	return fallback
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// WorktreeError represents errors raised by the version-control adapter.
//
// Example:
//
//	err := errors.NewWorktreeError("failed to remove worktree", errors.ErrWorktreeDirty)
//	err = err.WithPath("/src/app-feature").WithGitOutput(string(out))
type WorktreeError struct {
	baseError
	Path       string
	Branch     string
	Repository string
	GitOutput  string // Captured git command output
	Details    error  // Underlying subprocess error, kept for diagnostics
}

// NewWorktreeError creates a new WorktreeError.
func NewWorktreeError(message string, cause error) *WorktreeError {
	return &WorktreeError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithPath adds a worktree path to the error context.
func (e *WorktreeError) WithPath(path string) *WorktreeError {
	e.Path = path
	return e
}

// WithBranch adds a branch name to the error context.
func (e *WorktreeError) WithBranch(branch string) *WorktreeError {
	e.Branch = branch
	return e
}

// WithRepository adds a repository path to the error context.
func (e *WorktreeError) WithRepository(path string) *WorktreeError {
	e.Repository = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *WorktreeError) WithGitOutput(output string) *WorktreeError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// WithDetails attaches the underlying subprocess error.
func (e *WorktreeError) WithDetails(err error) *WorktreeError {
	e.Details = err
	return e
}

// WithSeverity sets the error severity.
func (e *WorktreeError) WithSeverity(s Severity) *WorktreeError {
	e.severity = s
	return e
}

// Code returns the code of the wrapped sentinel, GIT_ERROR by default.
func (e *WorktreeError) Code() Code {
	return e.codeFromCause(CodeGitError)
}

// Error returns the formatted error message.
func (e *WorktreeError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Path))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	prefix := "worktree error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("worktree error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Details != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Details)
	}
	if e.GitOutput != "" && !rendersGitOutput(e.cause, e.GitOutput) && !rendersGitOutput(e.Details, e.GitOutput) {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}

	return fmt.Sprintf("%s: %s", prefix, msg)
}

// rendersGitOutput reports whether err already prints output as its own
// git output.
func rendersGitOutput(err error, output string) bool {
	var inner *WorktreeError
	return err != nil && errors.As(err, &inner) && inner.GitOutput == output
}

// Is checks if this error matches the target.
func (e *WorktreeError) Is(target error) bool {
	if _, ok := target.(*WorktreeError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SessionError represents errors related to session management.
//
// Example:
//
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound)
//	err = err.WithSessionID("sess_app_1700000000000_ab12cd34")
//	fmt.Println(err) // "session error [session=sess_app_...]: failed to load session: session not found"
type SessionError struct {
	baseError
	SessionID   string
	TmuxSession string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithTmuxSession adds a multiplexer target to the error context.
func (e *SessionError) WithTmuxSession(target string) *SessionError {
	e.TmuxSession = target
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Code returns the code of the wrapped sentinel, INTERNAL_ERROR by default.
func (e *SessionError) Code() Code {
	return e.codeFromCause(CodeInternal)
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.TmuxSession != "" {
		parts = append(parts, fmt.Sprintf("tmux=%s", e.TmuxSession))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("branch name cannot start with '-'")
//	err = err.WithField("branch").WithValue("-x")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Code returns the code of the wrapped sentinel, INVALID_INPUT by default.
func (e *ValidationError) Code() Code {
	return e.codeFromCause(CodeInvalidInput)
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("launch script", 30*time.Second)
//	fmt.Println(err) // "timeout error: launch script (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Code always returns TIMEOUT.
func (e *TimeoutError) Code() Code {
	return CodeTimeout
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// Compile-time interface checks.
var (
	_ CodedError = (*WorktreeError)(nil)
	_ CodedError = (*SessionError)(nil)
	_ CodedError = (*ValidationError)(nil)
	_ CodedError = (*TimeoutError)(nil)
)

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// CodeOf returns the code of the first coded error in err's chain.
// Uncoded errors report INTERNAL_ERROR; nil reports "".
//
// Example:
//
//	switch errors.CodeOf(err) {
//	case errors.CodeWorktreeDirty:
//	    // retry with force
//	}
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var coded interface{ Code() Code }
	if As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// MessageOf returns the short message of a domain error, or err.Error() otherwise.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var m interface{ Message() string }
	if As(err, &m) {
		return m.Message()
	}
	return err.Error()
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var coded CodedError
	if As(err, &coded) {
		return coded.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var coded CodedError
	if As(err, &coded) {
		return coded.IsUserFacing()
	}

	var s *sentinel
	return As(err, &s)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement CodedError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var coded CodedError
	if As(err, &coded) {
		return coded.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil err.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to save session")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
