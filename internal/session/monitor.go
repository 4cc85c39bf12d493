package session

import (
	"context"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/logging"
	"github.com/applab-nl/flux-capacitor/internal/state"
)

// DefaultOutputLines is the pane tail captured by Output.
const DefaultOutputLines = 50

// Snapshot is a session record together with what tmux reports for it.
type Snapshot struct {
	Record *state.SessionRecord
	// Alive reports whether the pane exists right now.
	Alive bool
	// Output is the captured pane tail; empty when the pane is gone.
	Output string
}

// Monitor reconciles stored session status with live tmux state.
type Monitor struct {
	store       *state.Store
	mux         Multiplexer
	logger      *logging.Logger
	outputLines int
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger.
func WithMonitorLogger(logger *logging.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

// WithOutputLines sets how many trailing pane lines Output captures.
func WithOutputLines(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.outputLines = n
		}
	}
}

// NewMonitor creates a Monitor.
func NewMonitor(store *state.Store, mux Multiplexer, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:       store,
		mux:         mux,
		logger:      logging.NopLogger(),
		outputLines: DefaultOutputLines,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func notFound(id string) error {
	return errors.NewSessionError("no such session", errors.ErrSessionNotFound).WithSessionID(id)
}

// Peek returns the stored record for id without consulting tmux.
func (m *Monitor) Peek(ctx context.Context, id string) (*state.SessionRecord, error) {
	rec, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound(id)
	}
	return rec, nil
}

// Reconcile checks an active session's pane and persists the transition to
// terminated when the pane is gone. Non-active records are returned as stored.
func (m *Monitor) Reconcile(ctx context.Context, id string) (*state.SessionRecord, error) {
	rec, err := m.Peek(ctx, id)
	if err != nil || rec.Status != state.StatusActive {
		return rec, err
	}

	alive, err := m.mux.HasSession(ctx, rec.TmuxSession)
	if err != nil {
		return nil, err
	}
	if alive {
		return rec, nil
	}

	m.logger.WithSession(id).Info("pane gone, marking session terminated", "tmux", rec.TmuxSession)
	updated, _, err := m.store.UpdateSessionStatus(ctx, id, state.StatusTerminated)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReconcileAll reconciles every active session and returns how many were
// moved to terminated. A failure on one session does not stop the rest.
func (m *Monitor) ReconcileAll(ctx context.Context) (int, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	var (
		changed int
		errs    []error
	)
	for _, rec := range sessions {
		if rec.Status != state.StatusActive {
			continue
		}
		updated, err := m.Reconcile(ctx, rec.SessionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if updated.Status != state.StatusActive {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// Status reconciles id, then reports liveness and, for a live pane, its
// recent output. A missing record returns a nil Snapshot and no error.
func (m *Monitor) Status(ctx context.Context, id string) (*Snapshot, error) {
	rec, err := m.Reconcile(ctx, id)
	if errors.Is(err, errors.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Record: rec}
	if rec.Status != state.StatusActive {
		return snap, nil
	}
	snap.Alive = true
	snap.Output = m.capture(ctx, rec)
	return snap, nil
}

// Output returns the recent pane output for id, or "" when the record or
// the pane is absent.
func (m *Monitor) Output(ctx context.Context, id string) (string, error) {
	rec, err := m.store.GetSession(ctx, id)
	if err != nil || rec == nil {
		return "", err
	}
	alive, err := m.mux.HasSession(ctx, rec.TmuxSession)
	if err != nil || !alive {
		return "", err
	}
	return m.capture(ctx, rec), nil
}

// capture absorbs capture failures; output is diagnostic only.
func (m *Monitor) capture(ctx context.Context, rec *state.SessionRecord) string {
	out, err := m.mux.CapturePane(ctx, rec.TmuxSession, m.outputLines)
	if err != nil {
		m.logger.WithSession(rec.SessionID).Warn("failed to capture pane output", "error", err.Error())
		return ""
	}
	return out
}

// Terminate kills an active session's pane and marks it terminated. It
// reports false when the session was already finished.
func (m *Monitor) Terminate(ctx context.Context, id string) (bool, error) {
	rec, err := m.Reconcile(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.Status != state.StatusActive {
		m.logger.WithSession(id).Warn("session is not active", "status", string(rec.Status))
		return false, nil
	}

	if err := m.mux.KillSession(ctx, rec.TmuxSession); err != nil {
		return false, err
	}
	_, applied, err := m.store.UpdateSessionStatus(ctx, id, state.StatusTerminated)
	if err != nil {
		return false, err
	}
	m.logger.WithSession(id).Info("session terminated", "tmux", rec.TmuxSession)
	return applied, nil
}

// Complete records that the agent finished with status completed or failed.
// It reports false when the session had already reached a terminal status.
func (m *Monitor) Complete(ctx context.Context, id string, status state.SessionStatus) (bool, error) {
	if status != state.StatusCompleted && status != state.StatusFailed {
		return false, errors.NewValidationError("completion status must be completed or failed").
			WithField("status").
			WithValue(status)
	}
	_, applied, err := m.store.UpdateSessionStatus(ctx, id, status)
	if err != nil {
		return false, err
	}
	if applied {
		m.logger.WithSession(id).Info("session marked complete", "status", string(status))
	}
	return applied, nil
}

// Touch stamps lastActivity on an active session.
func (m *Monitor) Touch(ctx context.Context, id string) error {
	return m.store.UpdateSessionActivity(ctx, id)
}

// Prune deletes finished sessions older than days and returns the count.
func (m *Monitor) Prune(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, errors.NewValidationError("retention days cannot be negative").WithField("days").WithValue(days)
	}
	return m.store.CleanupOldSessions(ctx, days)
}

// Age returns how long ago the session started, relative to now.
func Age(rec *state.SessionRecord, now time.Time) time.Duration {
	if rec == nil || rec.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(rec.StartedAt).Truncate(time.Second)
}
