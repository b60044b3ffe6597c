package gkstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/internal/lock"
	"github.com/hupe1980/gkstore/internal/recordfile"
	"github.com/hupe1980/gkstore/internal/resource"
)

const (
	lockName = "lock"

	filePerm os.FileMode = 0o644
	dirPerm  os.FileMode = 0o755
)

// Store is an open gatekeeper store: the directory of substores holding a
// genome assembly's reads, libraries, placements and clear ranges.
//
// A Store is not safe for concurrent use. Readers in separate processes may
// share a store; at most one process may have it open writable.
type Store struct {
	path   string
	mode   Mode
	opts   options
	logger *Logger
	rc     *resource.Controller
	lock   *lock.Lock

	header Header
	subs   *registry
	index  *identifierIndex
	uids   uidIndex

	placements      map[IID]uint32
	placementsDirty bool

	clear [NumClearTags]clearRangeTable

	metadataCached bool
	closed         bool
}

func newStore(path string, mode Mode, o options) *Store {
	s := &Store{
		path:   path,
		mode:   mode,
		opts:   o,
		logger: o.logger.WithPath(path),
		rc:     o.controller(),
	}
	s.subs = newRegistry(path, &s.opts, s.rc, s.logger)
	for tag := ClearTag(0); tag < NumClearTags; tag++ {
		s.clear[tag] = clearRangeTable{tag: tag, store: s}
	}
	return s
}

// Create makes a new, empty store at path and opens it for populating.
// maxPackedLength is the longest read kept in the packed variant; it may
// not exceed MaxPackedLength.
func Create(path string, maxPackedLength int, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns)
	if path == "" {
		return nil, preconditionf(path, "no store path given")
	}
	if maxPackedLength < 0 || maxPackedLength > MaxPackedLength {
		return nil, preconditionf(path, "packed length %d outside 0..%d", maxPackedLength, MaxPackedLength)
	}
	if ok, err := fs.Exists(o.fs, infPath(path)); err != nil {
		return nil, &IOError{Op: "stat", Path: infPath(path), Err: err}
	} else if ok {
		return nil, preconditionf(path, "store exists; will not create a new one on top of it")
	}
	existed, err := fs.Exists(o.fs, path)
	if err != nil {
		return nil, &IOError{Op: "stat", Path: path, Err: err}
	}
	if err := o.fs.MkdirAll(path, dirPerm); err != nil {
		return nil, &IOError{Op: "mkdir", Path: path, Err: err}
	}

	s := newStore(path, ModeCreating, o)
	if err := s.acquireLock(); err != nil {
		if !existed {
			_ = fs.RemoveIfExists(o.fs, filepath.Join(path, lockName))
			_ = o.fs.Remove(path)
		}
		return nil, err
	}
	if err := s.create(maxPackedLength); err != nil {
		s.abortCreate(!existed)
		s.logger.logResult("create store", err)
		return nil, err
	}
	s.logger.Info("store created", "max_packed_length", maxPackedLength)
	return s, nil
}

func (s *Store) create(maxPackedLength int) error {
	s.header = newHeader(maxPackedLength)
	if err := writeInfo(s.opts.fs, infPath(s.path), &s.header, nil); err != nil {
		return err
	}
	if err := s.subs.createAll(&s.header); err != nil {
		return err
	}
	s.index = newIdentifierIndex(0)
	s.uids = uidIndex{byUID: make(map[UID]IID), built: true}
	s.placements = make(map[IID]uint32)
	if err := saveF2P(s.opts.fs, f2pPath(s.path), s.placements, 0, s.opts.compression); err != nil {
		return &IOError{Op: "write", Path: f2pPath(s.path), Err: err}
	}
	if err := saveU2I(s.opts.fs, u2iPath(s.path), s.uids.byUID, 0, s.opts.compression); err != nil {
		return &IOError{Op: "write", Path: u2iPath(s.path), Err: err}
	}
	return nil
}

// abortCreate removes what a failed Create left behind, best-effort.
// removeDir also removes the store directory, which Create made.
func (s *Store) abortCreate(removeDir bool) {
	for id := substoreID(0); id < numSubstores; id++ {
		if s.subs.get(id) != nil {
			_ = s.subs.closeSubstore(id)
			_ = fs.RemoveIfExists(s.opts.fs, s.subs.path(id))
		}
	}
	for _, name := range []string{infName, u2iName, f2pName} {
		_ = fs.RemoveIfExists(s.opts.fs, filepath.Join(s.path, name))
	}
	_ = s.releaseLock(true)
	if removeDir {
		_ = s.opts.fs.Remove(s.path)
	}
	s.closed = true
}

// Open opens the existing store at path, read-only unless writable.
func Open(path string, writable bool, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns)
	if path == "" {
		return nil, preconditionf(path, "no store path given")
	}
	inf := infPath(path)
	if ok, err := fs.Exists(o.fs, inf); err != nil {
		return nil, &IOError{Op: "stat", Path: inf, Err: err}
	} else if !ok {
		return nil, preconditionf(path, "store doesn't exist")
	}

	mode := ModeReadOnly
	if writable {
		mode = ModeWritable
		f, err := o.fs.OpenFile(inf, os.O_RDWR, 0)
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil, preconditionf(path, "store isn't writable")
			}
			return nil, &IOError{Op: "open", Path: inf, Err: err}
		}
		_ = f.Close()
	}

	s := newStore(path, mode, o)
	if writable {
		if err := s.acquireLock(); err != nil {
			return nil, err
		}
	}
	if err := s.open(); err != nil {
		_ = s.closeHandles()
		_ = s.releaseLock(false)
		s.closed = true
		s.logger.logResult("open store", err, "mode", mode)
		return nil, err
	}
	s.logger.Info("store opened", "mode", mode, "reads", s.header.NumReads(), "libraries", s.NumLibraries())
	return s, nil
}

func (s *Store) open() error {
	h, idx, err := readInfo(s.opts.fs, infPath(s.path), true)
	if err != nil {
		return err
	}
	s.header = *h
	s.index = idx
	if idx == nil {
		s.logger.Debug("identifier index not persisted; it will be rebuilt on first use")
	}
	if err := s.subs.openAll(&s.header, s.mode); err != nil {
		return err
	}
	clrMode := recordfile.ReadOnly
	if s.mode != ModeReadOnly {
		clrMode = recordfile.ReadWrite
	}
	for tag := range s.clear {
		if err := s.clear[tag].open(clrMode); err != nil {
			return err
		}
	}
	return s.loadPlacements()
}

func (s *Store) acquireLock() error {
	if !s.opts.locking {
		return nil
	}
	return s.takeLock()
}

func (s *Store) takeLock() error {
	l, err := lock.Acquire(filepath.Join(s.path, lockName))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return preconditionf(s.path, "store is open for writing elsewhere")
		}
		return &IOError{Op: "lock", Path: filepath.Join(s.path, lockName), Err: err}
	}
	s.lock = l
	return nil
}

// releaseLock drops the writer lock; remove also unlinks the lock file.
// A handle that holds no lock leaves the file to its owner.
func (s *Store) releaseLock(remove bool) error {
	if s.lock == nil {
		return nil
	}
	path := filepath.Join(s.path, lockName)
	if remove {
		// Unlink while still holding the lock.
		if err := fs.RemoveIfExists(s.opts.fs, path); err != nil {
			_ = s.lock.Release()
			s.lock = nil
			return &IOError{Op: "remove", Path: path, Err: err}
		}
	}
	err := s.lock.Release()
	s.lock = nil
	return err
}

// Path returns the store directory.
func (s *Store) Path() string { return s.path }

// Mode returns the mode the store was opened with.
func (s *Store) Mode() Mode { return s.mode }

// Header returns a copy of the in-memory header. Read counts reflect reads
// added since Create.
func (s *Store) Header() Header { return s.header }

// NumReads returns the number of reads.
func (s *Store) NumReads() uint32 { return s.header.NumReads() }

// MaxPackedLength returns the longest sequence stored as FragPacked.
func (s *Store) MaxPackedLength() int { return s.header.MaxPackedLength() }

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) checkWritable() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.mode == ModeReadOnly {
		return readOnly(s.path)
	}
	return nil
}

// MetadataSize returns the on-disk bytes of the fragment indices, the
// memory EnableMetadataCaching would take.
func (s *Store) MetadataSize() int64 { return s.subs.metadataSize() }

// EnableMetadataCaching loads the fragment indices into memory. Subsequent
// fragment lookups don't touch the disk.
func (s *Store) EnableMetadataCaching() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.metadataCached {
		return nil
	}
	for id := substoreID(0); id < numSubstores; id++ {
		if !substoreDefs[id].metadata {
			continue
		}
		if err := s.subs.promoteToMemory(id); err != nil {
			return err
		}
	}
	s.metadataCached = true
	s.logger.Info("metadata cached", "bytes", s.rc.MemoryUsage())
	return nil
}

// Close flushes and closes the store. A store being created persists its
// header and identifier index; writable stores persist rebuilt lookup
// indices. Close is idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.mode != ModeReadOnly {
		keep(s.persistIndices())
	}
	keep(s.closeHandles())
	if s.mode == ModeCreating {
		keep(writeInfo(s.opts.fs, infPath(s.path), &s.header, s.index))
	}
	keep(s.releaseLock(false))

	s.logger.logResult("close store", firstErr, "mode", s.mode)
	return firstErr
}

func (s *Store) persistIndices() error {
	var firstErr error
	if s.uids.built && s.uids.dirty {
		err := saveU2I(s.opts.fs, u2iPath(s.path), s.uids.byUID, s.subs.get(subUID).Len(), s.opts.compression)
		if err != nil {
			firstErr = &IOError{Op: "write", Path: u2iPath(s.path), Err: err}
		} else {
			s.uids.dirty = false
		}
	}
	if s.placementsDirty {
		err := saveF2P(s.opts.fs, f2pPath(s.path), s.placements, s.subs.get(subPlacement).Len(), s.opts.compression)
		if err != nil && firstErr == nil {
			firstErr = &IOError{Op: "write", Path: f2pPath(s.path), Err: err}
		} else if err == nil {
			s.placementsDirty = false
		}
	}
	return firstErr
}

func (s *Store) closeHandles() error {
	var firstErr error
	for tag := range s.clear {
		if err := s.clear[tag].close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.subs.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Delete closes the store and removes it from disk: every substore, clear
// range and index file, then the directory. A store with materialized
// partitions must have them deleted first.
func (s *Store) Delete() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ids, err := partitionIDs(s.opts.fs, s.path)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return preconditionf(s.path, "store has %d partitions; delete them first", len(ids))
	}
	// A handle without the lock takes it first. A store open for writing
	// elsewhere is not deleted.
	if s.lock == nil {
		if err := s.takeLock(); err != nil {
			return err
		}
	}

	s.closed = true
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for tag := range s.clear {
		keep(s.clear[tag].purge())
	}
	keep(s.subs.closeAll())
	keep(s.subs.removeAll(s.opts.fs))
	for _, name := range []string{infName, u2iName, f2pName} {
		if err := fs.RemoveIfExists(s.opts.fs, filepath.Join(s.path, name)); err != nil {
			keep(&IOError{Op: "remove", Path: filepath.Join(s.path, name), Err: err})
		}
	}
	keep(s.releaseLock(true))
	if firstErr == nil {
		if err := s.opts.fs.Remove(s.path); err != nil {
			firstErr = &IOError{Op: "remove", Path: s.path, Err: err}
		}
	}
	s.logger.logResult("delete store", firstErr)
	return firstErr
}

// String implements fmt.Stringer.
func (s *Store) String() string {
	return fmt.Sprintf("gkstore(%s, %s, %d reads)", s.path, s.mode, s.header.NumReads())
}
