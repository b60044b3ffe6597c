package gkstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gkstore/internal/fs"
)

func TestUID_Values(t *testing.T) {
	assert.True(t, UID{}.IsZero())
	assert.True(t, StringUID("").IsZero())

	n := ParseUID("12345")
	v, ok := n.Uint64()
	assert.True(t, ok)
	assert.Equal(t, uint64(12345), v)
	assert.Equal(t, NumericUID(12345), n)

	s := ParseUID("FRAG_12")
	_, ok = s.Uint64()
	assert.False(t, ok)
	assert.Equal(t, "FRAG_12", s.String())
	assert.NotEqual(t, StringUID("1"), NumericUID(1))
}

func TestResolveUID(t *testing.T) {
	dir, reads := buildTestStore(t, 6)

	s, err := Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	iid, err := s.ResolveUID(StringUID("read-4"))
	require.NoError(t, err)
	assert.Equal(t, reads[4].IID, iid)

	iid, err = s.ResolveUID(NumericUID(1001))
	require.NoError(t, err)
	assert.Equal(t, IID(2), iid)

	_, err = s.ResolveUID(StringUID("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveUID_RebuildsFromUIDStore(t *testing.T) {
	dir, reads := buildTestStore(t, 6)
	require.NoError(t, os.Remove(filepath.Join(dir, u2iName)))

	s, err := Open(dir, true)
	require.NoError(t, err)
	for _, r := range reads {
		iid, err := s.ResolveUID(r.UID)
		require.NoError(t, err)
		assert.Equal(t, r.IID, iid)
	}
	require.NoError(t, s.Close())

	// A writable close persists the rebuilt index.
	assert.FileExists(t, filepath.Join(dir, u2iName))
}

func TestResolveUID_CorruptIndexIsRebuilt(t *testing.T) {
	dir, reads := buildTestStore(t, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, u2iName), []byte("garbage"), 0o644))

	s, err := Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	iid, err := s.ResolveUID(reads[2].UID)
	require.NoError(t, err)
	assert.Equal(t, reads[2].IID, iid)
}

func TestResolveUID_Skipped(t *testing.T) {
	dir, reads := buildTestStore(t, 3)

	s, err := Open(dir, false, WithSkipUIDs())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ResolveUID(reads[0].UID)
	assert.ErrorIs(t, err, ErrPrecondition)

	// UIDs are still readable from the reads themselves.
	uid, err := s.UID(reads[0].IID)
	require.NoError(t, err)
	assert.Equal(t, reads[0].UID, uid)
}

func TestU2I_Compressions(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			dir, reads := buildTestStore(t, 12, WithIndexCompression(c))

			s, err := Open(dir, false)
			require.NoError(t, err)
			defer s.Close()

			for _, r := range reads {
				iid, err := s.ResolveUID(r.UID)
				require.NoError(t, err)
				assert.Equal(t, r.IID, iid)
			}
		})
	}
}

func TestResolveUID_FailedAddReadLeavesNoUID(t *testing.T) {
	for _, file := range []string{"snm", "fnm"} {
		t.Run(file, func(t *testing.T) {
			ffs := fs.NewFaultyFS(nil)
			ffs.AddRule(string(filepath.Separator)+file, fs.Fault{FailAfterBytes: 16})
			dir := filepath.Join(t.TempDir(), "test.gkpStore")

			s, err := Create(dir, 4, withFileSystem(ffs))
			require.NoError(t, err)

			seq := make([]byte, 40)
			for i := range seq {
				seq[i] = "ACGT"[i%4]
			}
			_, err = s.AddRead(&Read{UID: StringUID("bad"), Seq: seq, Qlt: make([]byte, len(seq))})
			require.ErrorIs(t, err, fs.ErrInjected)

			iid, err := s.AddRead(&Read{UID: StringUID("good"), Seq: []byte("ACGT"), Qlt: []byte("0000")})
			require.NoError(t, err)
			require.Equal(t, IID(1), iid)
			require.NoError(t, s.Close())

			// Without u2i the index is rebuilt by scanning the uid store.
			require.NoError(t, os.Remove(filepath.Join(dir, u2iName)))

			s, err = Open(dir, false)
			require.NoError(t, err)
			defer s.Close()

			_, err = s.ResolveUID(StringUID("bad"))
			assert.ErrorIs(t, err, ErrNotFound)

			iid, err = s.ResolveUID(StringUID("good"))
			require.NoError(t, err)
			assert.Equal(t, IID(1), iid)

			uid, err := s.UID(1)
			require.NoError(t, err)
			assert.Equal(t, StringUID("good"), uid)
		})
	}
}
