package gkstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patchInf overwrites bytes of a store's "inf" file at off.
func patchInf(t *testing.T, dir string, off int64, b []byte) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, infName), os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestHeader_MarshalRoundTrip(t *testing.T) {
	h := newHeader(100)
	h.NumPacked, h.NumNormal, h.NumStrobe = 7, 8, 9

	b, err := h.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, b, HeaderSize)

	var got Header
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, h, got)
	assert.Equal(t, uint32(24), got.NumReads())
	assert.NoError(t, got.Validate("x"))
}

func TestHeader_VersionMismatch(t *testing.T) {
	dir, _ := buildTestStore(t, 3)
	patchInf(t, dir, 8, binary.LittleEndian.AppendUint64(nil, 9))

	_, err := Open(dir, false)
	require.ErrorIs(t, err, ErrFormat)

	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "found version 9")
	assert.Contains(t, fe.Hint, "upgrade-v9-to-v10")
}

func TestHeader_BadMagicCheckedFirst(t *testing.T) {
	dir, _ := buildTestStore(t, 3)
	patchInf(t, dir, 0, binary.LittleEndian.AppendUint64(nil, 42))
	patchInf(t, dir, 8, binary.LittleEndian.AppendUint64(nil, 9))

	_, err := ReadHeader(dir)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "magic")
}

func TestHeader_ElementSizeMismatch(t *testing.T) {
	h := newHeader(64)
	h.LibrarySize = 80
	h.PlacementSize = 12

	err := h.Validate("store")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Len(t, fe.Details, 2)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadInfo_CorruptIdentifierIndex(t *testing.T) {
	t.Run("trailing bytes", func(t *testing.T) {
		dir, _ := buildTestStore(t, 3)
		f, err := os.OpenFile(filepath.Join(dir, infName), os.O_WRONLY|os.O_APPEND, 0)
		require.NoError(t, err)
		_, err = f.Write([]byte{1, 2, 3})
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = Open(dir, false)
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("truncated arrays", func(t *testing.T) {
		dir, _ := buildTestStore(t, 3)
		require.NoError(t, os.Truncate(filepath.Join(dir, infName), HeaderSize+2))

		_, err := Open(dir, false)
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("truncated header", func(t *testing.T) {
		dir, _ := buildTestStore(t, 3)
		require.NoError(t, os.Truncate(filepath.Join(dir, infName), HeaderSize-1))

		_, err := ReadHeader(dir)
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("invalid type", func(t *testing.T) {
		dir, _ := buildTestStore(t, 3)
		patchInf(t, dir, HeaderSize+1, []byte{7})

		_, err := Open(dir, false)
		assert.ErrorIs(t, err, ErrFormat)
	})
}
