package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "state"), opts...)
	if err := s.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return s
}

// fixedClock returns a clock that can be advanced by tests.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func TestStore_InitIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s := NewStore(dir)

	for i := 0; i < 3; i++ {
		if err := s.Init(); err != nil {
			t.Fatalf("Init() call %d error = %v", i, err)
		}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("state directory not created: %v", err)
	}
	if s.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", s.Dir(), dir)
	}
}

func TestStore_InitFailure(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(filepath.Join(blocker, "state"))
	err := s.Init()
	if err == nil {
		t.Fatal("Init() should fail when the parent is a file")
	}
	if !errors.Is(err, errors.ErrState) {
		t.Errorf("Init() error should wrap ErrState, got %v", err)
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var got map[string]int
	ok, err := s.Get(ctx, "missing", &got)
	if err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v; want false, nil", ok, err)
	}

	if err := s.Set(ctx, "a:key/with/slashes", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "a:key/with/slashes", map[string]int{"n": 2}); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	ok, err = s.Get(ctx, "a:key/with/slashes", &got)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v; want true, nil", ok, err)
	}
	if got["n"] != 2 {
		t.Errorf("Get() value = %v, want n=2", got)
	}

	removed, err := s.Delete(ctx, "a:key/with/slashes")
	if err != nil || !removed {
		t.Fatalf("Delete() = %v, %v; want true, nil", removed, err)
	}
	removed, err = s.Delete(ctx, "a:key/with/slashes")
	if err != nil || removed {
		t.Fatalf("second Delete() = %v, %v; want false, nil", removed, err)
	}
}

func TestStore_GetMalformed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", "{not json"},
		{"missing value", `{"key":"k"}`},
		{"key mismatch", `{"key":"other","value":1}`},
		{"wrong value type", `{"key":"k","value":"str"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(s.keyToPath("k"), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			var v map[string]int
			ok, err := s.Get(ctx, "k", &v)
			if ok {
				t.Error("Get() should not report a malformed document as present")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Get() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, key := range []string{"session:b", "worktree:/x", "session:a"} {
		if err := s.Set(ctx, key, 1); err != nil {
			t.Fatal(err)
		}
	}
	// Stray files must not appear as keys.
	_ = os.WriteFile(filepath.Join(s.Dir(), ".tmp-123"), []byte(`{"key":"session:tmp"}`), 0644)
	_ = os.WriteFile(filepath.Join(s.Dir(), "junk.json"), []byte("garbage"), 0644)
	_ = os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte(`{"key":"session:txt"}`), 0644)

	tests := []struct {
		prefix string
		want   []string
	}{
		{"", []string{"session:a", "session:b", "worktree:/x"}},
		{SessionPrefix, []string{"session:a", "session:b"}},
		{WorktreePrefix, []string{"worktree:/x"}},
		{"nothing:", nil},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := s.Keys(ctx, tt.prefix)
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Keys(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestStore_SetLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Set(ctx, "k", i); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected exactly one document, found %v", names)
	}
}

func TestStore_ConcurrentSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := s.Set(ctx, "shared", n); err != nil {
				t.Errorf("Set() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	var got int
	ok, err := s.Get(ctx, "shared", &got)
	if err != nil || !ok {
		t.Fatalf("Get() after concurrent writes = %v, %v", ok, err)
	}
	if got < 0 || got >= 20 {
		t.Errorf("Get() = %d, want one of the written values", got)
	}
}

func TestStore_WorktreeRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := t.TempDir()

	wtA := filepath.Join(root, "a")
	wtB := filepath.Join(root, "b")
	for _, d := range []string{wtA, wtB} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.SaveWorktree(ctx, WorktreeRecord{Path: wtA, Repository: "/repo/one", Branch: "feature-a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveWorktree(ctx, WorktreeRecord{Path: wtB + "/", Repository: "/repo/two", Branch: "feature-b"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWorktree(ctx, wtB)
	if err != nil || got == nil {
		t.Fatalf("GetWorktree() = %v, %v", got, err)
	}
	if got.Branch != "feature-b" {
		t.Errorf("Branch = %q, want feature-b", got.Branch)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on save")
	}

	all, err := s.ListWorktrees(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListWorktrees() = %d records, %v; want 2", len(all), err)
	}
	filtered, err := s.ListWorktrees(ctx, "/repo/one")
	if err != nil || len(filtered) != 1 || filtered[0].Branch != "feature-a" {
		t.Fatalf("ListWorktrees(/repo/one) = %+v, %v", filtered, err)
	}

	removed, err := s.DeleteWorktree(ctx, wtA)
	if err != nil || !removed {
		t.Fatalf("DeleteWorktree() = %v, %v", removed, err)
	}
	if got, _ := s.GetWorktree(ctx, wtA); got != nil {
		t.Error("GetWorktree() after delete should be nil")
	}
}

func TestStore_MalformedRecordReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	path := t.TempDir()

	if err := os.WriteFile(s.keyToPath(WorktreeKey(path)), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWorktree(ctx, path)
	if err != nil {
		t.Fatalf("GetWorktree() error = %v, want nil", err)
	}
	if got != nil {
		t.Errorf("GetWorktree() = %+v, want nil", got)
	}
}

func TestStore_SessionLinksWorktree(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wt := t.TempDir()

	if err := s.SaveWorktree(ctx, WorktreeRecord{Path: wt, Branch: "main"}); err != nil {
		t.Fatal(err)
	}
	rec := SessionRecord{
		SessionID:    "sess_1",
		WorktreePath: wt,
		TmuxSession:  "%1",
		Prompt:       "do it",
		Status:       StatusActive,
		StartedAt:    time.Now(),
	}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	wtRec, _ := s.GetWorktree(ctx, wt)
	if wtRec == nil || wtRec.SessionID != "sess_1" {
		t.Fatalf("worktree SessionID = %+v, want sess_1", wtRec)
	}

	updated, applied, err := s.UpdateSessionStatus(ctx, "sess_1", StatusCompleted)
	if err != nil || !applied {
		t.Fatalf("UpdateSessionStatus() = %v, %v", applied, err)
	}
	if updated.CompletedAt == nil || updated.LastActivity == nil {
		t.Error("completedAt and lastActivity should be set")
	}

	wtRec, _ = s.GetWorktree(ctx, wt)
	if wtRec.SessionID != "" {
		t.Errorf("worktree SessionID = %q, want cleared", wtRec.SessionID)
	}
}

func TestStore_SaveSessionWithoutWorktreeRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wt := t.TempDir()

	err := s.SaveSession(ctx, SessionRecord{SessionID: "sess_x", WorktreePath: wt, Status: StatusActive, StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if got, _ := s.GetWorktree(ctx, wt); got != nil {
		t.Errorf("SaveSession() must not create a worktree record, got %+v", got)
	}
}

func TestStore_SaveSessionValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name string
		rec  SessionRecord
	}{
		{"empty id", SessionRecord{Status: StatusActive}},
		{"unknown status", SessionRecord{SessionID: "s", Status: StatusUnknown}},
		{"bogus status", SessionRecord{SessionID: "s", Status: "paused"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SaveSession(ctx, tt.rec)
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("SaveSession() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestStore_UpdateSessionStatus(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		initial     SessionStatus
		next        SessionStatus
		wantApplied bool
		wantStatus  SessionStatus
	}{
		{"active to completed", StatusActive, StatusCompleted, true, StatusCompleted},
		{"active to terminated", StatusActive, StatusTerminated, true, StatusTerminated},
		{"active to failed", StatusActive, StatusFailed, true, StatusFailed},
		{"completed is final", StatusCompleted, StatusTerminated, false, StatusCompleted},
		{"terminated never reactivates", StatusTerminated, StatusActive, false, StatusTerminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if err := s.SaveSession(ctx, SessionRecord{SessionID: "s1", WorktreePath: "/tmp/wt", Status: tt.initial}); err != nil {
				t.Fatal(err)
			}

			rec, applied, err := s.UpdateSessionStatus(ctx, "s1", tt.next)
			if err != nil {
				t.Fatalf("UpdateSessionStatus() error = %v", err)
			}
			if applied != tt.wantApplied {
				t.Errorf("applied = %v, want %v", applied, tt.wantApplied)
			}
			if rec.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", rec.Status, tt.wantStatus)
			}

			stored, _ := s.GetSession(ctx, "s1")
			if stored.Status != tt.wantStatus {
				t.Errorf("stored status = %q, want %q", stored.Status, tt.wantStatus)
			}
		})
	}
}

func TestStore_UpdateSessionStatusMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.UpdateSessionStatus(context.Background(), "nope", StatusCompleted)
	if !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_UpdateSessionActivity(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock, advance := fixedClock(start)
	s := newTestStore(t, WithClock(clock))

	if err := s.SaveSession(ctx, SessionRecord{SessionID: "s1", WorktreePath: "/tmp/wt", Status: StatusActive, StartedAt: start}); err != nil {
		t.Fatal(err)
	}
	advance(5 * time.Minute)
	if err := s.UpdateSessionActivity(ctx, "s1"); err != nil {
		t.Fatalf("UpdateSessionActivity() error = %v", err)
	}

	rec, _ := s.GetSession(ctx, "s1")
	if rec.LastActivity == nil || !rec.LastActivity.Equal(start.Add(5*time.Minute)) {
		t.Errorf("LastActivity = %v, want %v", rec.LastActivity, start.Add(5*time.Minute))
	}

	if err := s.UpdateSessionActivity(ctx, "missing"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("UpdateSessionActivity(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_FindSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wt := t.TempDir()
	other := t.TempDir()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	sessions := []SessionRecord{
		{SessionID: "old", WorktreePath: wt, Status: StatusActive, StartedAt: base},
		{SessionID: "done", WorktreePath: wt, Status: StatusCompleted, StartedAt: base.Add(time.Hour)},
		{SessionID: "new", WorktreePath: wt, Status: StatusActive, StartedAt: base.Add(2 * time.Hour)},
		{SessionID: "elsewhere", WorktreePath: other, Status: StatusActive, StartedAt: base.Add(3 * time.Hour)},
	}
	for _, rec := range sessions {
		if err := s.SaveSession(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	found, err := s.FindSessionsByWorktree(ctx, wt)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, rec := range found {
		ids = append(ids, rec.SessionID)
	}
	if strings.Join(ids, ",") != "old,done,new" {
		t.Errorf("FindSessionsByWorktree() = %v, want [old done new]", ids)
	}

	active, err := s.FindActiveSession(ctx, wt)
	if err != nil || active == nil {
		t.Fatalf("FindActiveSession() = %v, %v", active, err)
	}
	if active.SessionID != "new" {
		t.Errorf("FindActiveSession() = %q, want most recent active session", active.SessionID)
	}

	none, err := s.FindActiveSession(ctx, t.TempDir())
	if err != nil || none != nil {
		t.Errorf("FindActiveSession(empty) = %v, %v; want nil, nil", none, err)
	}
}

func TestStore_StatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock, advance := fixedClock(start)
	s := newTestStore(t, WithClock(clock))

	if err := s.SaveWorktree(ctx, WorktreeRecord{Path: t.TempDir()}); err != nil {
		t.Fatal(err)
	}
	for i, status := range []SessionStatus{StatusActive, StatusActive, StatusActive} {
		id := fmt.Sprintf("s%d", i)
		if err := s.SaveSession(ctx, SessionRecord{SessionID: id, WorktreePath: "/tmp/x", Status: status, StartedAt: start}); err != nil {
			t.Fatal(err)
		}
	}
	// s0 finishes now; s1 finishes 20 days later; s2 stays active.
	if _, _, err := s.UpdateSessionStatus(ctx, "s0", StatusCompleted); err != nil {
		t.Fatal(err)
	}
	advance(20 * 24 * time.Hour)
	if _, _, err := s.UpdateSessionStatus(ctx, "s1", StatusTerminated); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Worktrees: 1, Sessions: 3, ActiveSessions: 1}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}

	advance(15 * 24 * time.Hour)
	cleaned, err := s.CleanupOldSessions(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned != 1 {
		t.Errorf("CleanupOldSessions() = %d, want 1", cleaned)
	}
	if rec, _ := s.GetSession(ctx, "s0"); rec != nil {
		t.Error("s0 should have been pruned")
	}
	for _, id := range []string{"s1", "s2"} {
		if rec, _ := s.GetSession(ctx, id); rec == nil {
			t.Errorf("%s should have been kept", id)
		}
	}
}
