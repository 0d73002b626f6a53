// Package layout bootstraps the on-disk working-directory tree a run lives
// in: state/, work/<trial>/, exceptions/<kind>/<trial>/, harness/, corpus/.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workdir is the root of one run's directory tree.
type Workdir struct {
	root string
}

// New bootstraps (creating as needed) the standard subdirectory tree rooted
// at root.
func New(root string) (*Workdir, error) {
	w := &Workdir{root: root}
	for _, dir := range []string{w.root, w.stateDir(), w.workRoot(), w.harnessDir(), w.exceptionsRoot(), w.corpusDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("layout: create %s: %w", dir, err)
		}
	}
	return w, nil
}

// Root returns the run's root directory.
func (w *Workdir) Root() string { return w.root }

func (w *Workdir) stateDir() string { return filepath.Join(w.root, "state") }

// StateFile returns the path of the resumable state/latest.json file.
func (w *Workdir) StateFile() string { return filepath.Join(w.stateDir(), "latest.json") }

func (w *Workdir) workRoot() string { return filepath.Join(w.root, "work") }

// WorkDir returns the per-trial validator scratch directory, creating it if
// absent.
func (w *Workdir) WorkDir(trial int) string {
	dir := filepath.Join(w.workRoot(), fmt.Sprintf("%d", trial))
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func (w *Workdir) harnessDir() string { return filepath.Join(w.root, "harness") }

// HarnessPath returns the destination path for a successful trial's
// validated harness source.
func (w *Workdir) HarnessPath(trial int, ext string) string {
	return filepath.Join(w.harnessDir(), fmt.Sprintf("%d.%s", trial, ext))
}

func (w *Workdir) exceptionsRoot() string { return filepath.Join(w.root, "exceptions") }

// ExceptionDir returns the preserved-working-directory path for a failed
// trial of the given kind, creating it if absent.
func (w *Workdir) ExceptionDir(kind string, trial int) string {
	dir := filepath.Join(w.exceptionsRoot(), kind, fmt.Sprintf("%d", trial))
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func (w *Workdir) corpusDir() string { return filepath.Join(w.root, "corpus") }

// CorpusDir returns the run's seed corpus directory.
func (w *Workdir) CorpusDir() string { return w.corpusDir() }
