package gkstore

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibrary_AddGetSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "test.gkpStore")
	s, err := Create(dir, testPackedLength)
	require.NoError(t, err)

	want := Library{
		Name:         "matepairs",
		Technology:   TechSanger,
		Orientation:  OrientInnie,
		MeanInsert:   2500,
		StdDevInsert: 250,
		IsMatePair:   true,
	}
	id, err := s.AddLibrary(&want)
	require.NoError(t, err)
	assert.Equal(t, LibraryID(1), id)

	_, err = s.AddLibrary(&Library{Name: strings.Repeat("x", MaxLibraryNameLength+1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	require.NoError(t, s.Close())

	s, err = Open(dir, true)
	require.NoError(t, err)

	got, err := s.Library(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	zero, err := s.Library(0)
	require.NoError(t, err)
	assert.Equal(t, Library{}, zero)

	_, err = s.Library(2)
	assert.ErrorIs(t, err, ErrNotFound)

	want.MeanInsert = 3000
	want.DoNotOverlapTrim = true
	require.NoError(t, s.SetLibrary(id, &want))
	assert.ErrorIs(t, s.SetLibrary(5, &want), ErrNotFound)
	require.NoError(t, s.Close())

	// Libraries are held in memory and written back on close.
	s, err = Open(dir, false)
	require.NoError(t, err)
	defer s.Close()
	got, err = s.Library(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, uint32(1), s.NumLibraries())
}

func TestSetLibraryOf(t *testing.T) {
	dir, _ := buildTestStore(t, 3)

	s, err := Open(dir, true)
	require.NoError(t, err)
	defer s.Close()

	lib, err := s.AddLibrary(&Library{Name: "second"})
	require.NoError(t, err)
	require.NoError(t, s.SetLibraryOf(2, lib))
	assert.ErrorIs(t, s.SetLibraryOf(2, lib+1), ErrInvalidArgument)

	f, err := s.Fragment(2)
	require.NoError(t, err)
	assert.Equal(t, lib, f.Library)
}

func TestPlacement(t *testing.T) {
	dir, _ := buildTestStore(t, 6)

	s, err := Open(dir, true)
	require.NoError(t, err)

	_, err = s.Placement(1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AddPlacement(&Placement{IID: 1, BoundBegin: 2, BoundEnd: 3}))
	require.NoError(t, s.AddPlacement(&Placement{IID: 4, BoundBegin: 5, BoundEnd: 6}))
	require.NoError(t, s.AddPlacement(&Placement{IID: 1, BoundBegin: 3, BoundEnd: 2}))
	assert.ErrorIs(t, s.AddPlacement(&Placement{IID: 1, BoundBegin: 7, BoundEnd: 2}), ErrNotFound)
	assert.Equal(t, 2, s.NumPlacements())
	require.NoError(t, s.Close())

	s, err = Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Placement(1)
	require.NoError(t, err)
	assert.Equal(t, Placement{IID: 1, BoundBegin: 3, BoundEnd: 2}, p)
	p, err = s.Placement(4)
	require.NoError(t, err)
	assert.Equal(t, IID(5), p.BoundBegin)
}
