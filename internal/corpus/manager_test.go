package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "corpus")
	m := New(dir)

	require.NoError(t, m.Initialize())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAddPersistsItemsWithUniqueNames(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "corpus"))

	p1, err := m.Add([]byte("aaa"))
	require.NoError(t, err)
	p2, err := m.Add([]byte("bbb"))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "aaa", string(data))
}

func TestListReturnsAddedItems(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "corpus"))

	_, err := m.Add([]byte("one"))
	require.NoError(t, err)
	_, err = m.Add([]byte("two"))
	require.NoError(t, err)

	items, err := m.List()
	require.NoError(t, err)
	assert.Len(t, items, 2)

	n, err := m.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListOnMissingDirectoryReturnsEmpty(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "never-created"))

	items, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestImportCopiesFilesFromSource(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "seed1"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "seed2"), []byte("world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "seed3"), []byte("deep"), 0o644))

	m := New(filepath.Join(t.TempDir(), "corpus"))
	require.NoError(t, m.Import(src))

	n, err := m.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImportNoopOnEmptySource(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "corpus"))
	require.NoError(t, m.Import(""))

	n, err := m.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSnapshotDuplicatesCorpus(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "corpus"))
	_, err := m.Add([]byte("payload"))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "snapshot")
	require.NoError(t, m.Snapshot(dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshotOnMissingCorpusCreatesEmptyDest(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "never-created"))
	dest := filepath.Join(t.TempDir(), "snapshot")

	require.NoError(t, m.Snapshot(dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
