// Package state persists worktree and session records as one JSON document
// per key under a root directory. Keys are namespaced ("worktree:<path>",
// "session:<id>"); each document stores its key alongside the value so the
// key space can be enumerated without a separate index.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/logging"
)

// ErrMalformed is returned by Get when a document exists but cannot be decoded.
var ErrMalformed = errors.New("malformed state document")

// document is the on-disk envelope for a single key.
type document struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store is a file-backed key-value store for state records.
// It is safe for concurrent use within one process.
type Store struct {
	dir    string
	logger *logging.Logger
	now    func() time.Time

	initMu      sync.Mutex
	initialized bool

	// locks serializes read-modify-write sequences per key.
	locks *KeyedMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for absorbed read failures.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store rooted at dir. Call Init before use.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		logger: logging.NopLogger(),
		now:    time.Now,
		locks:  NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Init creates the root directory. It is idempotent and safe to call from
// concurrent operations; a failed Init may be retried.
func (s *Store) Init() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create state directory %s: %v", errors.ErrState, s.dir, err)
	}
	s.initialized = true
	s.logger.Debug("state store initialized", "dir", s.dir)
	return nil
}

// -----------------------------------------------------------------------------
// Raw key-value operations
// -----------------------------------------------------------------------------

// keyToPath maps a key to its document file. Keys contain path separators and
// colons, so file names are a digest of the key.
func (s *Store) keyToPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

// Get decodes the value stored under key into v.
// It returns false with a nil error when the key is absent, and wraps
// ErrMalformed when the document cannot be decoded.
func (s *Store) Get(_ context.Context, key string, v any) (bool, error) {
	data, err := os.ReadFile(s.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to read %s: %v", errors.ErrState, key, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.Key != key || len(doc.Value) == 0 {
		return false, fmt.Errorf("%w: %s", ErrMalformed, key)
	}
	if err := json.Unmarshal(doc.Value, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return true, nil
}

// Set stores v under key, replacing any previous value atomically.
func (s *Store) Set(_ context.Context, key string, v any) error {
	unlock := s.locks.Lock(key)
	defer unlock()
	return s.put(key, v)
}

// put writes without taking the key lock.
func (s *Store) put(key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %v", errors.ErrState, key, err)
	}
	data, err := json.MarshalIndent(document{Key: key, Value: value}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %v", errors.ErrState, key, err)
	}
	if err := atomicWriteFile(s.keyToPath(key), data, 0644); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrState, err)
	}
	return nil
}

// Delete removes key. It reports whether a document existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()
	return s.remove(key)
}

func (s *Store) remove(key string) (bool, error) {
	if err := os.Remove(s.keyToPath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to delete %s: %v", errors.ErrState, key, err)
	}
	return true, nil
}

// Keys returns all keys starting with prefix, sorted.
// Unreadable documents are skipped.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to list %s: %v", errors.ErrState, s.dir, err)
	}

	var keys []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var doc struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(data, &doc); err != nil || doc.Key == "" {
			s.logger.Warn("skipping unreadable state document", "file", name)
			continue
		}
		if strings.HasPrefix(doc.Key, prefix) {
			keys = append(keys, doc.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// getRecord is Get for the typed helpers: malformed documents read as absent.
func (s *Store) getRecord(ctx context.Context, key string, v any) (bool, error) {
	ok, err := s.Get(ctx, key, v)
	if errors.Is(err, ErrMalformed) {
		s.logger.Warn("treating malformed record as absent", "key", key, "error", err.Error())
		return false, nil
	}
	return ok, err
}

// -----------------------------------------------------------------------------
// Worktree records
// -----------------------------------------------------------------------------

// SaveWorktree stores rec under its normalized path.
func (s *Store) SaveWorktree(ctx context.Context, rec WorktreeRecord) error {
	rec.Path = NormalizePath(rec.Path)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	return s.Set(ctx, WorktreeKey(rec.Path), rec)
}

// GetWorktree returns the record for path, or nil when absent or malformed.
func (s *Store) GetWorktree(ctx context.Context, path string) (*WorktreeRecord, error) {
	var rec WorktreeRecord
	ok, err := s.getRecord(ctx, WorktreeKey(path), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// ListWorktrees returns all worktree records, optionally only those whose
// repository equals repository.
func (s *Store) ListWorktrees(ctx context.Context, repository string) ([]WorktreeRecord, error) {
	keys, err := s.Keys(ctx, WorktreePrefix)
	if err != nil {
		return nil, err
	}
	if repository != "" {
		repository = NormalizePath(repository)
	}

	records := make([]WorktreeRecord, 0, len(keys))
	for _, key := range keys {
		var rec WorktreeRecord
		ok, err := s.getRecord(ctx, key, &rec)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if repository != "" && NormalizePath(rec.Repository) != repository {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteWorktree removes the record for path.
func (s *Store) DeleteWorktree(ctx context.Context, path string) (bool, error) {
	return s.Delete(ctx, WorktreeKey(path))
}

// linkSession sets or clears the worktree's denormalized session ID.
// Missing worktree records are left absent.
func (s *Store) linkSession(ctx context.Context, worktreePath, sessionID string, active bool) error {
	key := WorktreeKey(worktreePath)
	unlock := s.locks.Lock(key)
	defer unlock()

	var wt WorktreeRecord
	ok, err := s.getRecord(ctx, key, &wt)
	if err != nil || !ok {
		return err
	}

	switch {
	case active && wt.SessionID != sessionID:
		wt.SessionID = sessionID
	case !active && wt.SessionID == sessionID:
		wt.SessionID = ""
	default:
		return nil
	}
	return s.put(key, wt)
}

// -----------------------------------------------------------------------------
// Session records
// -----------------------------------------------------------------------------

// SaveSession stores rec and updates the owning worktree's session link.
// The two writes are not atomic as a pair; each is atomic on its own.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.SessionID == "" {
		return errors.NewValidationError("session ID cannot be empty").WithField("sessionId")
	}
	if !rec.Status.Valid() {
		return errors.NewValidationError("invalid session status").WithField("status").WithValue(rec.Status)
	}
	rec.WorktreePath = NormalizePath(rec.WorktreePath)

	if err := s.Set(ctx, SessionKey(rec.SessionID), rec); err != nil {
		return err
	}
	return s.linkSession(ctx, rec.WorktreePath, rec.SessionID, rec.Status == StatusActive)
}

// GetSession returns the record for id, or nil when absent or malformed.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	ok, err := s.getRecord(ctx, SessionKey(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns all session records ordered by start time.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	keys, err := s.Keys(ctx, SessionPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]SessionRecord, 0, len(keys))
	for _, key := range keys {
		var rec SessionRecord
		ok, err := s.getRecord(ctx, key, &rec)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// FindSessionsByWorktree returns the sessions bound to path, oldest first.
func (s *Store) FindSessionsByWorktree(ctx context.Context, path string) ([]SessionRecord, error) {
	all, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	path = NormalizePath(path)

	var out []SessionRecord
	for _, rec := range all {
		if NormalizePath(rec.WorktreePath) == path {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindActiveSession returns the most recently started active session for
// path, or nil.
func (s *Store) FindActiveSession(ctx context.Context, path string) (*SessionRecord, error) {
	sessions, err := s.FindSessionsByWorktree(ctx, path)
	if err != nil {
		return nil, err
	}
	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].Status == StatusActive {
			rec := sessions[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// UpdateSessionStatus moves an active session to status and stamps
// lastActivity, plus completedAt for terminal statuses. It reports whether
// the record changed; sessions already in a terminal status are returned
// unchanged. The worktree link is cleared when the session stops being active.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) (*SessionRecord, bool, error) {
	if !status.Valid() {
		return nil, false, errors.NewValidationError("invalid session status").WithField("status").WithValue(status)
	}

	key := SessionKey(id)
	unlock := s.locks.Lock(key)

	var rec SessionRecord
	ok, err := s.getRecord(ctx, key, &rec)
	if err != nil {
		unlock()
		return nil, false, err
	}
	if !ok {
		unlock()
		return nil, false, errors.NewSessionError("cannot update status", errors.ErrSessionNotFound).WithSessionID(id)
	}
	if rec.Status.IsTerminal() {
		unlock()
		return &rec, false, nil
	}

	now := s.now()
	rec.Status = status
	rec.LastActivity = &now
	if status != StatusActive {
		rec.CompletedAt = &now
	}
	err = s.put(key, rec)
	unlock()
	if err != nil {
		return nil, false, err
	}

	if status != StatusActive {
		if err := s.linkSession(ctx, rec.WorktreePath, rec.SessionID, false); err != nil {
			s.logger.Warn("failed to clear worktree session link", "session_id", id, "error", err.Error())
		}
	}
	return &rec, true, nil
}

// UpdateSessionActivity stamps lastActivity on a session.
func (s *Store) UpdateSessionActivity(ctx context.Context, id string) error {
	key := SessionKey(id)
	unlock := s.locks.Lock(key)
	defer unlock()

	var rec SessionRecord
	ok, err := s.getRecord(ctx, key, &rec)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewSessionError("cannot update activity", errors.ErrSessionNotFound).WithSessionID(id)
	}
	now := s.now()
	rec.LastActivity = &now
	return s.put(key, rec)
}

// DeleteSession removes the record for id.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	return s.Delete(ctx, SessionKey(id))
}

// Stats counts worktrees, sessions and active sessions.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	worktrees, err := s.ListWorktrees(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Worktrees: len(worktrees), Sessions: len(sessions)}
	for _, rec := range sessions {
		if rec.Status == StatusActive {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

// CleanupOldSessions deletes finished sessions whose completedAt is more than
// daysOld days in the past and returns how many were removed.
func (s *Store) CleanupOldSessions(ctx context.Context, daysOld int) (int, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().AddDate(0, 0, -daysOld)

	cleaned := 0
	for _, rec := range sessions {
		if rec.Status == StatusActive || rec.CompletedAt == nil || !rec.CompletedAt.Before(cutoff) {
			continue
		}
		removed, err := s.DeleteSession(ctx, rec.SessionID)
		if err != nil {
			return cleaned, err
		}
		if removed {
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.Info("cleaned up old sessions", "count", cleaned, "days", daysOld)
	}
	return cleaned, nil
}

// atomicWriteFile writes data to a temp file in the same directory and
// renames it over path, so readers see either the old or the new document.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
