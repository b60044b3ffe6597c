// Package lock provides the advisory single-writer lock for a store directory.
//
// The lock is an exclusive, non-blocking flock(2) on a file inside the store.
// It is advisory: processes that do not take it are not excluded.
package lock

import (
	"errors"
	"os"
)

// ErrLocked is returned when another handle already holds the lock.
var ErrLocked = errors.New("lock: already held")

// Lock is a held advisory lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the exclusive lock on path, creating the file if needed.
// It never blocks; a conflicting holder yields ErrLocked.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := tryLock(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. It is safe to call on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
