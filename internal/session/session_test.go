package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/state"
)

// fakeMux is an in-memory tmux.
type fakeMux struct {
	mu      sync.Mutex
	alive   map[string]bool
	output  map[string]string
	killed  []string
	hasErr  error
	killErr error
}

func newFakeMux(alive ...string) *fakeMux {
	m := &fakeMux{alive: make(map[string]bool), output: make(map[string]string)}
	for _, p := range alive {
		m.alive[p] = true
	}
	return m
}

func (m *fakeMux) HasSession(_ context.Context, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasErr != nil {
		return false, m.hasErr
	}
	return m.alive[target], nil
}

func (m *fakeMux) KillSession(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killErr != nil {
		return m.killErr
	}
	m.killed = append(m.killed, target)
	delete(m.alive, target)
	return nil
}

func (m *fakeMux) CapturePane(_ context.Context, target string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive[target] {
		return "", errors.ErrSessionNotFound
	}
	return m.output[target], nil
}

func (m *fakeMux) setAlive(target string, alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive[target] = alive
}

// fakeInspector answers repository questions from fixed values.
type fakeInspector struct {
	repo       string
	branch     string
	repoErr    error
	branchErr  error
	excludeErr error
	excluded   *[]string
}

func (f fakeInspector) ParentRepository(context.Context, string) (string, error) {
	return f.repo, f.repoErr
}

func (f fakeInspector) CurrentBranch(context.Context, string) (string, error) {
	return f.branch, f.branchErr
}

func (f fakeInspector) ExcludePath(_ context.Context, _, relPath string) error {
	if f.excluded != nil {
		*f.excluded = append(*f.excluded, relPath)
	}
	return f.excludeErr
}

func newTestStore(t *testing.T, now func() time.Time) *state.Store {
	t.Helper()

	opts := []state.Option{}
	if now != nil {
		opts = append(opts, state.WithClock(now))
	}
	store := state.NewStore(t.TempDir(), opts...)
	if err := store.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return store
}

func saveActive(t *testing.T, store *state.Store, id, pane, wt string) {
	t.Helper()

	err := store.SaveSession(context.Background(), state.SessionRecord{
		SessionID:    id,
		WorktreePath: wt,
		TmuxSession:  pane,
		Prompt:       "p",
		Status:       state.StatusActive,
		StartedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
}
