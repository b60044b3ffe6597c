package gkstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/testutil"
)

const testPackedLength = 64

// buildTestStore creates a store holding n reads cycling through the three
// variants and returns its path with the reads as they should read back.
func buildTestStore(t *testing.T, n int, opts ...Option) (string, []*Read) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "test.gkpStore")
	s, err := Create(dir, testPackedLength, opts...)
	require.NoError(t, err)

	lib, err := s.AddLibrary(&Library{Name: "frags", Technology: TechIllumina, MeanInsert: 3000, StdDevInsert: 300})
	require.NoError(t, err)

	rng := testutil.NewRNG(int64(n))
	reads := make([]*Read, 0, n)
	for i := 0; i < n; i++ {
		r := &Read{Library: lib}
		switch i % 3 {
		case 0:
			r.Seq, r.Qlt = rng.Sequence(40), rng.Quality(40)
			r.Type = FragPacked
		case 1:
			r.Seq, r.Qlt = rng.Sequence(150), rng.Quality(150)
			r.Type = FragNormal
		case 2:
			r.Seq, r.Qlt = rng.Sequence(120), rng.Quality(120)
			r.StrobeBegin, r.StrobeEnd = 10, 60
			r.Type = FragStrobe
		}
		if i%2 == 0 {
			r.UID = StringUID(fmt.Sprintf("read-%d", i))
		} else {
			r.UID = NumericUID(uint64(1000 + i))
		}
		iid, err := s.AddRead(r)
		require.NoError(t, err)
		require.Equal(t, IID(i+1), iid)
		r.IID = iid
		reads = append(reads, r)
	}
	require.NoError(t, s.Close())
	return dir, reads
}

func TestCreate_EmptyStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty.gkpStore")

	s, err := Create(dir, testPackedLength)
	require.NoError(t, err)

	h := s.Header()
	assert.Equal(t, FormatMagic, h.Magic)
	assert.Equal(t, FormatVersion, h.Version)
	assert.Equal(t, uint32(testPackedLength+1), h.PackedSequenceSize)
	assert.Equal(t, testPackedLength, s.MaxPackedLength())
	assert.Zero(t, h.NumPacked)
	assert.Zero(t, h.NumNormal)
	assert.Zero(t, h.NumStrobe)
	assert.Equal(t, ModeCreating, s.Mode())
	require.NoError(t, s.Close())

	onDisk, err := ReadHeader(dir)
	require.NoError(t, err)
	assert.Equal(t, h, *onDisk)
}

func TestCreate_Preconditions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "test.gkpStore")

	_, err := Create("", testPackedLength)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = Create(dir, MaxPackedLength+1)
	assert.ErrorIs(t, err, ErrPrecondition)

	s, err := Create(dir, testPackedLength)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Create(dir, testPackedLength)
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, dir, pe.Path)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), false)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestAssign_PersistsIdentifierIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "test.gkpStore")
	s, err := Create(dir, testPackedLength)
	require.NoError(t, err)

	require.NoError(t, s.assign(1, FragPacked, 0))
	assert.ErrorIs(t, s.assign(3, FragPacked, 1), ErrInvalidArgument)
	assert.Equal(t, uint32(1), s.Header().NumPacked)
	require.NoError(t, s.Close())

	s, err = Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(1), s.Header().NumPacked)
	typ, local, err := s.Locate(1)
	require.NoError(t, err)
	assert.Equal(t, FragPacked, typ)
	assert.Zero(t, local)

	_, _, err = s.Locate(2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Locate(0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddRead_RoundTrip(t *testing.T) {
	dir, reads := buildTestStore(t, 30)

	s, err := Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(30), s.NumReads())
	assert.Equal(t, uint32(10), s.Header().NumPacked)
	assert.Equal(t, uint32(10), s.Header().NumNormal)
	assert.Equal(t, uint32(10), s.Header().NumStrobe)

	for _, want := range reads {
		got, err := s.Read(want.IID)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		iid, err := s.ResolveUID(want.UID)
		require.NoError(t, err)
		assert.Equal(t, want.IID, iid)

		uid, err := s.UID(want.IID)
		require.NoError(t, err)
		assert.Equal(t, want.UID, uid)
	}

	var visited []IID
	require.NoError(t, s.ForEach(func(r *Read) error {
		visited = append(visited, r.IID)
		return nil
	}))
	assert.Len(t, visited, 30)
	assert.Equal(t, IID(1), visited[0])
	assert.Equal(t, IID(30), visited[29])
}

func TestAddRead_ChoosesVariant(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "test.gkpStore")
	s, err := Create(dir, 10)
	require.NoError(t, err)
	defer s.Close()

	rng := testutil.NewRNG(1)
	cases := []struct {
		name string
		read *Read
		want FragType
	}{
		{"empty", &Read{}, FragPacked},
		{"fits slot", &Read{Seq: rng.Sequence(10), Qlt: rng.Quality(10)}, FragPacked},
		{"one too long", &Read{Seq: rng.Sequence(11), Qlt: rng.Quality(11)}, FragNormal},
		{"strobe", &Read{Seq: rng.Sequence(8), Qlt: rng.Quality(8), StrobeBegin: 2, StrobeEnd: 4}, FragStrobe},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			iid, err := s.AddRead(tc.read)
			require.NoError(t, err)
			frag, err := s.Fragment(iid)
			require.NoError(t, err)
			assert.Equal(t, tc.want, frag.Type)
			assert.False(t, frag.HasUID())
		})
	}
}

func TestAddRead_Invalid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "test.gkpStore")
	s, err := Create(dir, testPackedLength)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddRead(&Read{Seq: []byte("ACGT"), Qlt: []byte("00")})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.AddRead(&Read{Seq: []byte("ACGT"), Qlt: []byte("0000"), Library: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.AddRead(&Read{Seq: []byte("ACGT"), Qlt: []byte("0000"), StrobeBegin: 2, StrobeEnd: 5})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.AddRead(&Read{Seq: []byte("ACGT"), Qlt: []byte("0000"), UID: StringUID("a")})
	require.NoError(t, err)
	_, err = s.AddRead(&Read{Seq: []byte("ACGT"), Qlt: []byte("0000"), UID: StringUID("a")})
	assert.ErrorIs(t, err, ErrPrecondition)

	assert.Equal(t, uint32(1), s.NumReads())
}

func TestAddRead_OnlyWhileCreating(t *testing.T) {
	dir, _ := buildTestStore(t, 3)

	s, err := Open(dir, true)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddRead(&Read{Seq: []byte("A"), Qlt: []byte("0")})
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestReadOnly_RejectsMutations(t *testing.T) {
	dir, _ := buildTestStore(t, 3)

	s, err := Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.SetMate(1, 2), ErrReadOnly)
	assert.ErrorIs(t, s.SetDeleted(1, true), ErrReadOnly)
	assert.ErrorIs(t, s.SetClearRange(1, ClearOBT, 0, 1), ErrReadOnly)
	_, err = s.AddLibrary(&Library{Name: "x"})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, s.AddPlacement(&Placement{IID: 1, BoundBegin: 2, BoundEnd: 3}), ErrPrecondition)
}

func TestWritable_UpdatesFragments(t *testing.T) {
	dir, _ := buildTestStore(t, 6)

	s, err := Open(dir, true)
	require.NoError(t, err)
	require.NoError(t, s.SetMate(1, 2))
	require.NoError(t, s.SetMate(2, 1))
	require.NoError(t, s.SetDeleted(3, true))
	assert.ErrorIs(t, s.SetMate(99, 1), ErrNotFound)
	require.NoError(t, s.Close())

	s, err = Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	f1, err := s.Fragment(1)
	require.NoError(t, err)
	assert.Equal(t, IID(2), f1.Mate)
	f2, err := s.Fragment(2)
	require.NoError(t, err)
	assert.Equal(t, IID(1), f2.Mate)
	f3, err := s.Fragment(3)
	require.NoError(t, err)
	assert.True(t, f3.Deleted)
}

func TestOpen_RebuildsMissingIdentifierIndex(t *testing.T) {
	dir, reads := buildTestStore(t, 9)

	// Rewrite "inf" with the header alone, as a store that never finished.
	h, err := ReadHeader(dir)
	require.NoError(t, err)
	require.NoError(t, h.Write(dir))

	s, err := Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	for _, want := range reads {
		got, err := s.Read(want.IID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	dir, _ := buildTestStore(t, 1)

	s, err := Open(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Read(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDelete(t *testing.T) {
	dir, _ := buildTestStore(t, 6)

	s, err := Open(dir, true)
	require.NoError(t, err)
	require.NoError(t, s.SetClearRange(1, ClearOBT, 1, 10))
	require.NoError(t, s.Delete())

	assert.NoDirExists(t, dir)
	assert.ErrorIs(t, s.Delete(), ErrClosed)
}

func TestMetadataCaching(t *testing.T) {
	dir, reads := buildTestStore(t, 12)

	s, err := Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	var want int64
	for _, name := range []string{"fpk", "fnm", "fsb"} {
		fi, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		want += fi.Size()
	}
	assert.Equal(t, want, s.MetadataSize())

	require.NoError(t, s.EnableMetadataCaching())
	require.NoError(t, s.EnableMetadataCaching())

	st, err := s.Stats()
	require.NoError(t, err)
	assert.True(t, st.MetadataCached)
	for _, sub := range st.Substores {
		switch sub.Name {
		case "fpk", "fnm", "fsb", "lib", "plc":
			assert.Equal(t, "memory", sub.Residency, sub.Name)
		}
	}

	for _, r := range reads {
		got, err := s.Read(r.IID)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestMemoryLimit(t *testing.T) {
	dir, _ := buildTestStore(t, 12)

	s, err := Open(dir, false, WithMemoryLimit(int64(LibraryRecordSize)))
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.EnableMetadataCaching(), ErrMemoryLimitExceeded)
}

func TestFaultyFS_WriteFailureIsIOError(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(string(filepath.Separator)+"snm", fs.Fault{FailAfterBytes: 16})
	dir := filepath.Join(t.TempDir(), "test.gkpStore")

	s, err := Create(dir, 4, withFileSystem(ffs))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddRead(&Read{Seq: []byte("ACGTACGT"), Qlt: []byte("00000000")})
	require.Error(t, err)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, filepath.Join(dir, "snm"), ioErr.Path)
	assert.ErrorIs(t, err, ErrIO)
	assert.True(t, errors.Is(err, fs.ErrInjected))
}

func TestCreate_FailureRemovesDirectory(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(string(filepath.Separator)+"fsb", fs.Fault{FailAfterBytes: -1, FailOnOpen: true})
	dir := filepath.Join(t.TempDir(), "test.gkpStore")

	_, err := Create(dir, testPackedLength, withFileSystem(ffs))
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.NoDirExists(t, dir)
}

func TestCreate_FailureKeepsExistingDirectory(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(string(filepath.Separator)+"fsb", fs.Fault{FailAfterBytes: -1, FailOnOpen: true})
	dir := t.TempDir()
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o644))

	_, err := Create(dir, testPackedLength, withFileSystem(ffs))
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.FileExists(t, other)
	assert.NoFileExists(t, filepath.Join(dir, "inf"))
	assert.NoFileExists(t, filepath.Join(dir, "fpk"))
	assert.NoFileExists(t, filepath.Join(dir, lockName))
}

func TestFaultyFS_OpenFailureIsIOError(t *testing.T) {
	dir, _ := buildTestStore(t, 3)

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(string(filepath.Separator)+"qnm", fs.Fault{FailAfterBytes: -1, FailOnOpen: true})

	_, err := Open(dir, false, withFileSystem(ffs))
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestStats(t *testing.T) {
	dir, _ := buildTestStore(t, 6)

	s, err := Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, ModeReadOnly, st.Mode)
	assert.Equal(t, uint32(2), st.NumPacked)
	assert.Equal(t, uint32(1), st.Libraries)
	assert.Len(t, st.Substores, int(numSubstores))
	assert.Empty(t, st.ClearRanges)
	assert.Zero(t, st.MemoryLimit)
	assert.Equal(t, 1, st.MaterializeWorkers)
}

func TestStats_ResourceLimits(t *testing.T) {
	dir, _ := buildTestStore(t, 2)

	s, err := Open(dir, false, WithMemoryLimit(1<<20), WithMaterializeWorkers(3))
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), st.MemoryLimit)
	assert.Equal(t, 3, st.MaterializeWorkers)
	assert.Positive(t, st.ResidentBytes)
}
