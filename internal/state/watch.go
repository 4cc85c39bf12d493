package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the bursts a single atomic write produces.
const DefaultWatchDebounce = 50 * time.Millisecond

// ChangeOp describes what happened to a key.
type ChangeOp string

const (
	ChangeUpdated ChangeOp = "updated"
	ChangeRemoved ChangeOp = "removed"
)

// Change is one observed modification of the store.
type Change struct {
	Key   string          `json:"key"`
	Op    ChangeOp        `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Watch reports changes to the store's documents until ctx is cancelled.
// Changes made by other processes sharing the directory are reported too.
// Removals are reported only for documents seen since Watch started.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, fn func(Change)) error {
	if err := s.Init(); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	// file name -> key, so removals can be named after the file is gone
	known := s.scanKeys()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !isDocumentName(name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[name] = struct{}{}
			timer.Reset(debounce)

		case <-timer.C:
			for name := range pending {
				if c, ok := s.observe(name, known); ok {
					fn(c)
				}
			}
			clear(pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("state watch error", "error", err.Error())
		}
	}
}

func isDocumentName(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".json")
}

func (s *Store) scanKeys() map[string]string {
	known := make(map[string]string)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return known
	}
	for _, entry := range entries {
		if entry.IsDir() || !isDocumentName(entry.Name()) {
			continue
		}
		if doc, ok := s.readDocument(entry.Name()); ok {
			known[entry.Name()] = doc.Key
		}
	}
	return known
}

func (s *Store) readDocument(name string) (document, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return document{}, false
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.Key == "" {
		return document{}, false
	}
	return doc, true
}

// observe turns the current state of one document file into a Change.
func (s *Store) observe(name string, known map[string]string) (Change, bool) {
	if doc, ok := s.readDocument(name); ok {
		known[name] = doc.Key
		return Change{Key: doc.Key, Op: ChangeUpdated, Value: doc.Value}, true
	}
	if _, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
		// present but mid-write or malformed
		return Change{}, false
	}
	key, ok := known[name]
	if !ok {
		return Change{}, false
	}
	delete(known, name)
	return Change{Key: key, Op: ChangeRemoved}, true
}
