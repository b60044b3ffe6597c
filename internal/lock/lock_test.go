//go:build unix

package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l1, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, l1.Path())

	_, err = Acquire(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l1.Release())
	require.NoError(t, l1.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestLock_NilRelease(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}
