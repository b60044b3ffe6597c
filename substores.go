package gkstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/internal/recordfile"
	"github.com/hupe1980/gkstore/internal/resource"
)

type substoreID int

const (
	subPackedIndex substoreID = iota
	subPackedData
	subNormalIndex
	subNormalSeq
	subNormalQlt
	subStrobeIndex
	subStrobeSeq
	subStrobeQlt
	subLibrary
	subUID
	subPlacement

	numSubstores
)

type substoreDef struct {
	name string
	// primary substores open in the caller's mode; the rest are read-only
	// unless the store is being created.
	primary bool
	// resident substores are promoted to memory when opened.
	resident bool
	// metadata substores count toward MetadataSize and are cached by
	// EnableMetadataCaching.
	metadata   bool
	recordSize func(h *Header) int
}

func fixedSize(n int) func(*Header) int { return func(*Header) int { return n } }

var substoreDefs = [numSubstores]substoreDef{
	subPackedIndex: {name: "fpk", primary: true, metadata: true, recordSize: fixedSize(PackedFragmentSize)},
	subPackedData: {name: "qpk", recordSize: func(h *Header) int {
		return 2 * int(h.PackedSequenceSize)
	}},
	subNormalIndex: {name: "fnm", primary: true, metadata: true, recordSize: fixedSize(NormalFragmentSize)},
	subNormalSeq:   {name: "snm", recordSize: fixedSize(1)},
	subNormalQlt:   {name: "qnm", recordSize: fixedSize(1)},
	subStrobeIndex: {name: "fsb", primary: true, metadata: true, recordSize: fixedSize(StrobeFragmentSize)},
	subStrobeSeq:   {name: "ssb", recordSize: fixedSize(1)},
	subStrobeQlt:   {name: "qsb", recordSize: fixedSize(1)},
	subLibrary:     {name: "lib", primary: true, resident: true, recordSize: fixedSize(LibraryRecordSize)},
	subUID:         {name: "uid", recordSize: fixedSize(1)},
	subPlacement:   {name: "plc", primary: true, resident: true, recordSize: fixedSize(PlacementRecordSize)},
}

// registry owns the substore handles of one store directory and accounts
// memory-resident ones against the resource controller.
type registry struct {
	dir    string
	opts   recordfile.Options
	rc     *resource.Controller
	logger *Logger

	files    [numSubstores]*recordfile.File
	reserved [numSubstores]int64
}

func newRegistry(dir string, o *options, rc *resource.Controller, logger *Logger) *registry {
	return &registry{dir: dir, opts: o.recordOptions(), rc: rc, logger: logger}
}

func (r *registry) path(id substoreID) string {
	return filepath.Join(r.dir, substoreDefs[id].name)
}

func (r *registry) get(id substoreID) *recordfile.File { return r.files[id] }

// createAll creates every substore for a new store and promotes the
// resident ones.
func (r *registry) createAll(h *Header) error {
	for id := substoreID(0); id < numSubstores; id++ {
		if err := r.create(id, substoreDefs[id].recordSize(h)); err != nil {
			return err
		}
		if substoreDefs[id].resident {
			if err := r.promoteToMemory(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// openAll opens every substore for mode and checks its record size
// against the header.
func (r *registry) openAll(h *Header, mode Mode) error {
	for id := substoreID(0); id < numSubstores; id++ {
		def := substoreDefs[id]
		m := recordfile.ReadOnly
		if def.primary && mode != ModeReadOnly {
			m = recordfile.ReadWrite
		}
		if err := r.open(id, m); err != nil {
			return err
		}
		if got, want := r.files[id].RecordSize(), def.recordSize(h); got != want {
			return &FormatError{
				Path:   r.path(id),
				Reason: fmt.Sprintf("record size %d doesn't match the header's %d", got, want),
			}
		}
		if def.resident {
			if err := r.promoteToMemory(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *registry) create(id substoreID, recordSize int) error {
	path := r.path(id)
	f, err := recordfile.Create(path, recordSize, r.opts)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return preconditionf(path, "substore already exists")
		}
		return wrapIO("create", path, err)
	}
	r.files[id] = f
	return nil
}

func (r *registry) open(id substoreID, mode recordfile.Mode) error {
	path := r.path(id)
	f, err := recordfile.Open(path, mode, r.opts)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &FormatError{Path: path, Reason: "substore is missing", Err: err}
		}
		return wrapIO("open", path, err)
	}
	r.files[id] = f
	return nil
}

// promoteToMemory loads a substore into memory. A writable substore keeps
// its file and is written back when closed.
func (r *registry) promoteToMemory(id substoreID) error {
	f := r.files[id]
	if f == nil || f.Residency() == recordfile.Memory {
		return nil
	}
	size := f.DataSize()
	if err := r.rc.AcquireMemory(size); err != nil {
		return fmt.Errorf("gkstore: load %s into memory: %w", r.path(id), err)
	}
	mem, err := recordfile.Promote(f)
	if err != nil {
		r.rc.ReleaseMemory(size)
		return wrapIO("load", r.path(id), err)
	}
	r.files[id] = mem
	r.reserved[id] = size
	r.logger.Debug("substore loaded into memory", "substore", substoreDefs[id].name, "bytes", size)
	return nil
}

func (r *registry) closeSubstore(id substoreID) error {
	f := r.files[id]
	if f == nil {
		return nil
	}
	r.files[id] = nil
	if r.reserved[id] > 0 {
		r.rc.ReleaseMemory(r.reserved[id])
		r.reserved[id] = 0
	}
	return wrapIO("close", f.Path(), f.Close())
}

func (r *registry) closeAll() error {
	var firstErr error
	for id := substoreID(0); id < numSubstores; id++ {
		if err := r.closeSubstore(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// removeAll unlinks every substore file. Handles must be closed.
func (r *registry) removeAll(fsys fs.FileSystem) error {
	var firstErr error
	for id := substoreID(0); id < numSubstores; id++ {
		if err := fs.RemoveIfExists(fsys, r.path(id)); err != nil && firstErr == nil {
			firstErr = &IOError{Op: "remove", Path: r.path(id), Err: err}
		}
	}
	return firstErr
}

// metadataSize sums the on-disk size of the fragment indices.
func (r *registry) metadataSize() int64 {
	var n int64
	for id := substoreID(0); id < numSubstores; id++ {
		if substoreDefs[id].metadata && r.files[id] != nil {
			n += r.files[id].Size()
		}
	}
	return n
}
