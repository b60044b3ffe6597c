package gkstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gkstore/testutil"
)

func createWithRead(t *testing.T, length int) (string, IID) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "test.gkpStore")
	s, err := Create(dir, testPackedLength)
	require.NoError(t, err)
	rng := testutil.NewRNG(7)
	iid, err := s.AddRead(&Read{Seq: rng.Sequence(length), Qlt: rng.Quality(length)})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	return dir, iid
}

func TestClearRange_SetAndGet(t *testing.T) {
	dir, iid := createWithRead(t, 50)

	s, err := Open(dir, true)
	require.NoError(t, err)

	r, err := s.ClearRange(iid, ClearOriginal)
	require.NoError(t, err)
	assert.Equal(t, ClearRange{Begin: 0, End: 50}, r)
	set, err := s.HasClearRange(iid, ClearOriginal)
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, s.SetClearRange(iid, ClearOriginal, 5, 20))
	r, err = s.ClearRange(iid, ClearOriginal)
	require.NoError(t, err)
	assert.Equal(t, ClearRange{Begin: 5, End: 20}, r)
	assert.Equal(t, uint32(15), r.Len())

	// Other tags are untouched.
	r, err = s.ClearRange(iid, ClearVector)
	require.NoError(t, err)
	assert.Equal(t, ClearRange{Begin: 0, End: 50}, r)
	require.NoError(t, s.Close())

	s, err = Open(dir, false)
	require.NoError(t, err)
	defer s.Close()
	r, err = s.ClearRange(iid, ClearOriginal)
	require.NoError(t, err)
	assert.Equal(t, ClearRange{Begin: 5, End: 20}, r)
}

func TestClearRange_Invalid(t *testing.T) {
	dir, iid := createWithRead(t, 50)

	s, err := Open(dir, true)
	require.NoError(t, err)
	defer s.Close()

	err = s.SetClearRange(iid, ClearOriginal, 30, 10)
	assert.ErrorIs(t, err, ErrInvalidRange)
	var re *RangeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, uint32(50), re.Length)

	assert.ErrorIs(t, s.SetClearRange(iid, ClearOriginal, 0, 51), ErrInvalidRange)
	assert.ErrorIs(t, s.SetClearRange(iid, NumClearTags, 0, 1), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetClearRange(iid+1, ClearOriginal, 0, 1), ErrNotFound)

	require.NoError(t, s.SetClearRange(iid, ClearOriginal, 50, 50))
}

func TestClearRange_Purge(t *testing.T) {
	dir, iid := createWithRead(t, 50)

	s, err := Open(dir, true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetClearRange(iid, ClearMerge, 2, 3))
	assert.FileExists(t, filepath.Join(dir, "clr-MRG"))

	require.NoError(t, s.PurgeClearRange(ClearMerge))
	assert.NoFileExists(t, filepath.Join(dir, "clr-MRG"))

	r, err := s.ClearRange(iid, ClearMerge)
	require.NoError(t, err)
	assert.Equal(t, ClearRange{Begin: 0, End: 50}, r)
}

func TestClearRange_SparseIIDs(t *testing.T) {
	dir, _ := buildTestStore(t, 9)

	s, err := Open(dir, true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetClearRange(7, ClearQuality, 1, 2))
	set, err := s.HasClearRange(3, ClearQuality)
	require.NoError(t, err)
	assert.False(t, set)
	set, err = s.HasClearRange(7, ClearQuality)
	require.NoError(t, err)
	assert.True(t, set)
}

func TestParseClearTag(t *testing.T) {
	for tag := ClearTag(0); tag < NumClearTags; tag++ {
		got, err := ParseClearTag(tag.String())
		require.NoError(t, err)
		assert.Equal(t, tag, got)
	}

	got, err := ParseClearTag("obtini")
	require.NoError(t, err)
	assert.Equal(t, ClearOBTInitial, got)

	_, err = ParseClearTag("BOGUS")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
