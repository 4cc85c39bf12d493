package worktree

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/applab-nl/flux-capacitor/internal/errors"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	dashRuns        = regexp.MustCompile(`-+`)
	invalidRefChars = regexp.MustCompile(`[~^:?*\[\\\s\x00-\x1f\x7f]`)
)

// SanitizeFilename turns s into a lowercase name made of letters, digits,
// '-' and '_'. Runs of other characters collapse to a single dash.
func SanitizeFilename(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return strings.ToLower(s)
}

// GenerateWorktreeName returns the default directory name for branch:
// "<repo-basename>-<sanitized-branch>".
func GenerateWorktreeName(repoPath, branch string) string {
	return filepath.Base(filepath.Clean(repoPath)) + "-" + SanitizeFilename(branch)
}

// ValidateBranchName checks name against git's ref-name rules.
func ValidateBranchName(name string) error {
	reject := func(msg string) error {
		return errors.NewValidationError(msg).WithField("branch").WithValue(name)
	}

	switch {
	case strings.TrimSpace(name) == "":
		return reject("branch name cannot be empty")
	case name == "@":
		return reject("branch name cannot be '@'")
	case strings.HasPrefix(name, "-"):
		return reject("branch name cannot start with '-'")
	case strings.HasPrefix(name, ".") || strings.Contains(name, "/."):
		return reject("branch name components cannot start with '.'")
	case strings.Contains(name, ".."):
		return reject("branch name cannot contain '..'")
	case strings.Contains(name, "@{"):
		return reject("branch name cannot contain '@{'")
	case strings.Contains(name, "//"):
		return reject("branch name cannot contain consecutive slashes")
	case strings.HasSuffix(name, "/") || strings.HasPrefix(name, "/"):
		return reject("branch name cannot start or end with '/'")
	case strings.HasSuffix(name, ".lock"):
		return reject("branch name cannot end with '.lock'")
	case strings.HasSuffix(name, "."):
		return reject("branch name cannot end with '.'")
	case invalidRefChars.MatchString(name):
		return reject("branch name contains invalid characters")
	}
	return nil
}

// validateDirName checks that a custom worktree name is a single path element.
func validateDirName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.NewValidationError("worktree name must be a single directory name").
			WithField("name").WithValue(name)
	}
	return nil
}
