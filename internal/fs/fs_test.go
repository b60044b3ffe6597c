package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.Mkdir(dir, 0755))
	assert.Error(t, lfs.Mkdir(dir, 0755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	_, err = f.WriteAt([]byte("J"), 0)
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, "Jello", string(buf))
	assert.NoError(t, f.Truncate(3))
	assert.NoError(t, f.Close())

	size, err := SizeOf(lfs, fpath)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	entries, err := lfs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	ok, err := Exists(lfs, fpath)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, RemoveIfExists(lfs, fpath))
	assert.NoError(t, RemoveIfExists(lfs, fpath))

	ok, err = Exists(lfs, fpath)
	require.NoError(t, err)
	assert.False(t, ok)

	size, err = SizeOf(lfs, fpath)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, WriteFile(Default, path, []byte("abc"), 0644))
	require.NoError(t, WriteFile(Default, path, []byte("xy"), 0644))

	data, err := ReadFile(Default, path)
	require.NoError(t, err)
	assert.Equal(t, "xy", string(data))
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	fpath := filepath.Join(tmp, "faulty.txt")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = f.WriteAt([]byte("!"), 5)
	assert.ErrorIs(t, err, ErrInjected)
	assert.NoError(t, f.Close())
	assert.Equal(t, 1, ffs.Opened(fpath))
}

func TestFaultyFS_Rules(t *testing.T) {
	tmp := t.TempDir()
	boom := errors.New("boom")
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("open", Fault{FailAfterBytes: -1, FailOnOpen: true, Err: boom})
	ffs.AddRule("read", Fault{FailAfterBytes: -1, FailOnRead: true})
	ffs.AddRule("close", Fault{FailAfterBytes: -1, FailOnClose: true, FailOnSync: true})

	_, err := ffs.OpenFile(filepath.Join(tmp, "open"), os.O_CREATE|os.O_RDWR, 0644)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, os.WriteFile(filepath.Join(tmp, "read"), []byte("data"), 0644))
	f, err := ffs.OpenFile(filepath.Join(tmp, "read"), os.O_RDONLY, 0)
	require.NoError(t, err)
	_, err = f.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrInjected)
	_, err = f.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, ErrInjected)
	require.NoError(t, f.Close())

	f, err = ffs.OpenFile(filepath.Join(tmp, "close"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.ErrorIs(t, f.Close(), ErrInjected)

	ffs.ClearRules()
	f, err = ffs.OpenFile(filepath.Join(tmp, "close"), os.O_RDWR, 0)
	require.NoError(t, err)
	assert.NoError(t, f.Close())
}
