// Package orchestrator implements the user-facing worktree and session
// operations on top of the version-control adapter, the session launcher
// and monitor, and the state store.
//
// Handlers are stateless apart from an in-process KeyedMutex that makes
// each check-then-act sequence atomic per worktree path, repository and
// session id. Every handler returns a typed result or a coded error;
// Failure renders such an error into the structured shape callers see.
package orchestrator

import (
	"os"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/logging"
	"github.com/applab-nl/flux-capacitor/internal/session"
	"github.com/applab-nl/flux-capacitor/internal/state"
	"github.com/applab-nl/flux-capacitor/internal/worktree"
)

// DefaultListConcurrency bounds how many repositories are listed at once.
const DefaultListConcurrency = 4

// AdapterFactory returns the version-control adapter for a repository root.
type AdapterFactory func(repoDir string) worktree.Adapter

// Services are the collaborators an Orchestrator composes.
type Services struct {
	Store     *state.Store
	Adapters  AdapterFactory
	Inspector worktree.Inspector
	Launcher  *session.Launcher
	Monitor   *session.Monitor
}

// Orchestrator dispatches the worktree and session operations.
type Orchestrator struct {
	store     *state.Store
	adapters  AdapterFactory
	inspector worktree.Inspector
	launcher  *session.Launcher
	monitor   *session.Monitor
	logger    *logging.Logger

	locks           *state.KeyedMutex
	listConcurrency int
	retentionDays   int
	getwd           func() (string, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithListConcurrency bounds concurrent repository listing.
func WithListConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.listConcurrency = n
		}
	}
}

// WithRetentionDays sets the default age for Prune.
func WithRetentionDays(days int) Option {
	return func(o *Orchestrator) { o.retentionDays = days }
}

// WithWorkingDir overrides os.Getwd for repository discovery.
func WithWorkingDir(getwd func() (string, error)) Option {
	return func(o *Orchestrator) { o.getwd = getwd }
}

// New creates an Orchestrator.
func New(svc Services, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           svc.Store,
		adapters:        svc.Adapters,
		inspector:       svc.Inspector,
		launcher:        svc.Launcher,
		monitor:         svc.Monitor,
		logger:          logging.NopLogger(),
		locks:           state.NewKeyedMutex(),
		listConcurrency: DefaultListConcurrency,
		retentionDays:   30,
		getwd:           os.Getwd,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Lock keys. Operations that take more than one lock take them in the order
// worktree, then session.
func repoLockKey(repo string) string {
	return "repo:" + repo
}

func worktreeLockKey(path string) string {
	return "worktree:" + path
}

func sessionLockKey(id string) string {
	return "session:" + id
}

// ErrorBody is the structured form of a handler failure.
type ErrorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

// Failure wraps an ErrorBody as {"error": {...}}.
type Failure struct {
	Error ErrorBody `json:"error"`
}

// NewFailure renders err as a Failure. Errors without a code report
// INTERNAL_ERROR.
func NewFailure(err error) Failure {
	return Failure{Error: ErrorBody{
		Code:    errors.CodeOf(err),
		Message: err.Error(),
	}}
}

func requireField(field, value string) error {
	if value == "" {
		return errors.NewValidationError(field + " is required").WithField(field)
	}
	return nil
}
