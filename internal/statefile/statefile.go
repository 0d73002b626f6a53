// Package statefile provides mutex-guarded, JSON-backed persistence for a
// single value, the pattern the controller uses to round-trip
// (Trial, Covered, Mutator) to state/latest.json between trials.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists a single JSON document to disk under a mutex, so concurrent
// readers never observe a half-written file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store backed by the file at path. The parent directory is
// created lazily on first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the backing file is present on disk.
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	return err == nil
}

// Save serializes v as indented JSON and writes it atomically: the document
// is written to a temp file in the same directory, then renamed over the
// destination, so a crash mid-write never corrupts the last good snapshot.
func (s *Store) Save(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".statefile-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp state file into place: %w", err)
	}

	return nil
}

// Load deserializes the backing file into v. Returns os.ErrNotExist (wrapped)
// if the file does not exist; callers should treat that as "no prior state".
func (s *Store) Load(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}

	return nil
}
