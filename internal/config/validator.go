package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.output_lines")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// idPrefixRegex restricts session ID prefixes to characters safe in file names and tmux targets
var idPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

// validLogLevels are the accepted log.level values, matched case-insensitively.
func validLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateState()...)
	errors = append(errors, c.validateLog()...)
	errors = append(errors, c.validateGit()...)
	errors = append(errors, c.validateWorktree()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateTmux()...)

	return errors
}

func (c *Config) validateState() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.State.Dir) == "" {
		errors = append(errors, ValidationError{
			Field:   "state.dir",
			Value:   c.State.Dir,
			Message: "must not be empty",
		})
	}
	return errors
}

func (c *Config) validateLog() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(validLogLevels(), strings.ToLower(c.Log.Level)) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLogLevels(), ", ")),
		})
	}
	if c.Log.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "log.max_size_mb",
			Value:   c.Log.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Log.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "log.max_backups",
			Value:   c.Log.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateGit() []ValidationError {
	var errors []ValidationError
	if c.Git.MaxConcurrent < 1 || c.Git.MaxConcurrent > 64 {
		errors = append(errors, ValidationError{
			Field:   "git.max_concurrent",
			Value:   c.Git.MaxConcurrent,
			Message: "must be between 1 and 64",
		})
	}
	return errors
}

func (c *Config) validateWorktree() []ValidationError {
	var errors []ValidationError

	if c.Worktree.InitDir == "" || filepath.IsAbs(c.Worktree.InitDir) || strings.Contains(c.Worktree.InitDir, "..") {
		errors = append(errors, ValidationError{
			Field:   "worktree.init_dir",
			Value:   c.Worktree.InitDir,
			Message: "must be a relative path inside the worktree",
		})
	}
	if c.Worktree.MaxWorktrees < 0 {
		errors = append(errors, ValidationError{
			Field:   "worktree.max_worktrees",
			Value:   c.Worktree.MaxWorktrees,
			Message: "must be non-negative (0 means unlimited)",
		})
	}
	if strings.TrimSpace(c.Worktree.DefaultBranch) == "" {
		errors = append(errors, ValidationError{
			Field:   "worktree.default_branch",
			Value:   c.Worktree.DefaultBranch,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Session.LaunchScript) == "" {
		errors = append(errors, ValidationError{
			Field:   "session.launch_script",
			Value:   c.Session.LaunchScript,
			Message: "must not be empty",
		})
	}
	if c.Session.LaunchTimeout < time.Second || c.Session.LaunchTimeout > 10*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "session.launch_timeout",
			Value:   c.Session.LaunchTimeout,
			Message: "must be between 1s and 10m",
		})
	}
	if c.Session.PromptDir == "" || filepath.IsAbs(c.Session.PromptDir) {
		errors = append(errors, ValidationError{
			Field:   "session.prompt_dir",
			Value:   c.Session.PromptDir,
			Message: "must be a relative path inside the worktree",
		})
	}
	if c.Session.PromptFile == "" || strings.ContainsRune(c.Session.PromptFile, filepath.Separator) {
		errors = append(errors, ValidationError{
			Field:   "session.prompt_file",
			Value:   c.Session.PromptFile,
			Message: "must be a plain file name",
		})
	}
	if c.Session.OutputLines < 1 || c.Session.OutputLines > 10000 {
		errors = append(errors, ValidationError{
			Field:   "session.output_lines",
			Value:   c.Session.OutputLines,
			Message: "must be between 1 and 10000",
		})
	}
	if !idPrefixRegex.MatchString(c.Session.IDPrefix) {
		errors = append(errors, ValidationError{
			Field:   "session.id_prefix",
			Value:   c.Session.IDPrefix,
			Message: "must start with a letter and contain only letters and digits",
		})
	}
	if c.Session.RetentionDays < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.retention_days",
			Value:   c.Session.RetentionDays,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateTmux() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.Tmux.Binary) == "" {
		errors = append(errors, ValidationError{
			Field:   "tmux.binary",
			Value:   c.Tmux.Binary,
			Message: "must not be empty",
		})
	}
	if strings.ContainsAny(c.Tmux.Socket, "/ ") {
		errors = append(errors, ValidationError{
			Field:   "tmux.socket",
			Value:   c.Tmux.Socket,
			Message: "must be a socket name, not a path",
		})
	}
	return errors
}
