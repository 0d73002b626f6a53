// Package corpus manages a run's on-disk seed-corpus directory: a flat
// collection of opaque byte-blob fuzzer inputs consumed directly by the
// fuzzer driver's minimize and batch-run stages. A mutex-guarded Manager
// bootstraps, lists, and adds items; the combination mutator (not this
// package) owns seed/provenance bookkeeping.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-zglob"
	"github.com/otiai10/copy"
	"go.uber.org/multierr"
)

// Manager owns one corpus directory: it persists new items, lists existing
// ones, and snapshots isolated working copies for pipeline stages that must
// not mutate the shared corpus in place (minimize, per-item batch runs).
type Manager struct {
	mu  sync.Mutex
	dir string
	seq int
}

// New returns a Manager rooted at dir. dir is not created until Initialize
// or Add is called.
func New(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the managed corpus directory.
func (m *Manager) Dir() string { return m.dir }

// Initialize creates the corpus directory if it does not already exist.
func (m *Manager) Initialize() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("corpus: create %s: %w", m.dir, err)
	}
	return nil
}

// Import copies every regular file found recursively under src into the
// corpus directory, seeding a run from a pre-existing corpus_dir or
// fuzzdict. A blank src is a no-op. Import is best-effort: a file that
// cannot be read or added is recorded and skipped rather than aborting the
// whole import, and the accumulated errors are returned joined.
func (m *Manager) Import(src string) error {
	if src == "" {
		return nil
	}
	matches, err := zglob.Glob(filepath.Join(src, "**", "*"))
	if err != nil {
		return fmt.Errorf("corpus: scan import source %s: %w", src, err)
	}
	var errs error
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("corpus: read %s: %w", path, err))
			continue
		}
		if _, err := m.Add(data); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Add persists data as a new corpus item and returns its path.
func (m *Manager) Add(data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("corpus: prepare directory: %w", err)
	}
	name := fmt.Sprintf("item-%06d", m.seq)
	m.seq++
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("corpus: write %s: %w", path, err)
	}
	return path, nil
}

// List returns every regular-file corpus item path, recursively, in the
// order zglob discovers them.
func (m *Manager) List() ([]string, error) {
	if _, err := os.Stat(m.dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := zglob.Glob(filepath.Join(m.dir, "**", "*"))
	if err != nil {
		return nil, fmt.Errorf("corpus: list %s: %w", m.dir, err)
	}
	items := make([]string, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		items = append(items, path)
	}
	return items, nil
}

// Len reports the current corpus item count.
func (m *Manager) Len() (int, error) {
	items, err := m.List()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Snapshot duplicates the corpus directory into dest, an isolated working
// copy a pipeline stage can mutate (minimize, per-item batch run) without
// disturbing the shared corpus underneath concurrently running trials.
func (m *Manager) Snapshot(dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.dir); os.IsNotExist(err) {
		return os.MkdirAll(dest, 0o755)
	}
	if err := copy.Copy(m.dir, dest); err != nil {
		return fmt.Errorf("corpus: snapshot %s to %s: %w", m.dir, dest, err)
	}
	return nil
}
