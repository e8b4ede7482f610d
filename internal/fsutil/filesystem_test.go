package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	dir := filepath.Join(root, "exports")
	require.NoError(t, fsys.MkdirAll(dir))

	for _, name := range []string{"b.csv", "a.png"} {
		w, err := fsys.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		_, err = io.WriteString(w, "data:"+name)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	names, err := fsys.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.csv"}, names)

	data, err := fsys.ReadFile(filepath.Join(dir, "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, "data:b.csv", string(data))

	r, err := fsys.Open(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "data:a.png", string(data))

	_, err = fsys.ReadFile(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), err)
	_, err = fsys.List(filepath.Join(root, "missing"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), err)
}

func TestOSFileSystem(t *testing.T) {
	root := t.TempDir()
	exercise(t, OSFileSystem{}, root)

	// directories are not listed
	require.NoError(t, os.Mkdir(filepath.Join(root, "exports", "sub"), 0o755))
	names, err := OSFileSystem{}.List(filepath.Join(root, "exports"))
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestMemoryFileSystem(t *testing.T) {
	exercise(t, NewMemoryFileSystem(), "/data")
}

func TestMemoryFileSystem_CreateNeedsParent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_, err := mfs.Create("/nowhere/file.csv")
	assert.True(t, errors.Is(err, fs.ErrNotExist), err)
}

func TestMemoryFileSystem_ContentsVisibleOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/x"))
	w, err := mfs.Create("/x/f")
	require.NoError(t, err)
	_, _ = w.Write([]byte("abc"))

	data, err := mfs.ReadFile("/x/f")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, w.Close())
	data, err = mfs.ReadFile("/x/f")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
