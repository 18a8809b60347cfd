package upload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRemove(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	path, err := store.Save(strings.NewReader("contract text"), "../../Lease.TXT")
	require.NoError(t, err)

	assert.Equal(t, store.Dir(), filepath.Dir(path), "uploads never escape the store directory")
	assert.Equal(t, ".txt", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "contract text", string(data))

	require.NoError(t, store.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Remove(path), "removing twice is fine")
}

func TestSaveUniqueNames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a, err := store.Save(strings.NewReader("a"), "doc.pdf")
	require.NoError(t, err)
	b, err := store.Save(strings.NewReader("b"), "doc.pdf")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSaveCleansUpOnError(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(failingReader{}, "doc.txt")
	require.Error(t, err)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweep(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	old, err := store.Save(strings.NewReader("old"), "old.txt")
	require.NoError(t, err)
	fresh, err := store.Save(strings.NewReader("fresh"), "fresh.txt")
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := store.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestSafeExt(t *testing.T) {
	tests := map[string]string{
		"lease.pdf":           ".pdf",
		"NOTES.Md":            ".md",
		"noext":               "",
		"weird.p d f":         "",
		"archive.tar.gz":      ".gz",
		"x.verylongextension": "",
	}
	for name, want := range tests {
		assert.Equal(t, want, safeExt(name), name)
	}
}
