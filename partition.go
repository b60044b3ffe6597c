package gkstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/gkstore/internal/codec"
	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/internal/recordfile"
	"github.com/hupe1980/gkstore/internal/resource"
)

const (
	partMapName    = "map"
	partMapMagic   = 0x4D504B47 // "GKPM"
	partMapVersion = 1
)

// A partition holds copies of a subset of the reads: per variant, a
// fragment index and one data file. Normal and strobe reads keep sequence
// and quality back to back in the data file.
type partFile int

const (
	partPackedIndex partFile = iota
	partPackedData
	partNormalIndex
	partNormalData
	partStrobeIndex
	partStrobeData

	numPartFiles
)

var partFileNames = [numPartFiles]string{"fpk", "qpk", "fnm", "qnm", "fsb", "qsb"}

func partIndexFile(t FragType) partFile { return partFile(2 * (int(t) - 1)) }

func partFileRecordSize(pf partFile, h *Header) int {
	switch pf {
	case partPackedIndex:
		return PackedFragmentSize
	case partPackedData:
		return 2 * int(h.PackedSequenceSize)
	case partNormalIndex:
		return NormalFragmentSize
	case partStrobeIndex:
		return StrobeFragmentSize
	}
	return 1
}

func partitionPath(dir, name string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%03d", name, id))
}

// partitionIDs lists the partitions materialized in dir, in ascending order.
func partitionIDs(fsys fs.FileSystem, dir string) ([]uint32, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, &IOError{Op: "readdir", Path: dir, Err: err}
	}
	var ids []uint32
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), partMapName+".")
		if !ok || e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(suffix, 10, 32)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, uint32(id))
	}
	slices.Sort(ids)
	return ids, nil
}

// Partitions returns the ids of the partitions materialized in the store at dir.
func Partitions(dir string, optFns ...Option) ([]uint32, error) {
	o := applyOptions(optFns)
	return partitionIDs(o.fs, dir)
}

// DeletePartition removes partition id of the store at dir. No view of it
// may be open.
func DeletePartition(dir string, id uint32, optFns ...Option) error {
	o := applyOptions(optFns)
	mapPath := partitionPath(dir, partMapName, id)
	if ok, err := fs.Exists(o.fs, mapPath); err != nil {
		return &IOError{Op: "stat", Path: mapPath, Err: err}
	} else if !ok {
		return preconditionf(dir, "partition %d doesn't exist", id)
	}
	var firstErr error
	for _, name := range partFileNames {
		p := partitionPath(dir, name, id)
		if err := fs.RemoveIfExists(o.fs, p); err != nil && firstErr == nil {
			firstErr = &IOError{Op: "remove", Path: p, Err: err}
		}
	}
	// The map goes last: a partition is listed until all its files are gone.
	if firstErr == nil {
		if err := o.fs.Remove(mapPath); err != nil {
			firstErr = &IOError{Op: "remove", Path: mapPath, Err: err}
		}
	}
	o.logger.WithPath(dir).WithPartition(id).logResult("delete partition", firstErr)
	return firstErr
}

// MaterializePartition copies the reads in iids into partition id. The
// partition must not exist yet; ids start at 1.
func (s *Store) MaterializePartition(ctx context.Context, id uint32, iids *roaring.Bitmap) error {
	return s.MaterializePartitions(ctx, map[uint32]*roaring.Bitmap{id: iids})
}

// MaterializePartitions writes several partitions concurrently, bounded by
// WithMaterializeWorkers. The read sets must be disjoint. On failure, every
// partition that was not completely written is removed.
func (s *Store) MaterializePartitions(ctx context.Context, parts map[uint32]*roaring.Bitmap) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.ensureIndex(); err != nil {
		return err
	}
	ids := make([]uint32, 0, len(parts))
	for id := range parts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if err := s.validatePartitions(ids, parts); err != nil {
		return err
	}

	// Partition writers only read from the main store; fragment lookups go
	// through a snapshot of the handles.
	rs := s.source()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		iids := parts[id]
		g.Go(func() error {
			if err := s.rc.AcquireWorker(gctx); err != nil {
				return err
			}
			defer s.rc.ReleaseWorker()
			err := s.materialize(gctx, rs, id, iids)
			s.logger.WithPartition(id).logResult("materialize partition", err, "reads", iids.GetCardinality())
			return err
		})
	}
	return g.Wait()
}

func (s *Store) validatePartitions(ids []uint32, parts map[uint32]*roaring.Bitmap) error {
	n := uint64(s.index.len())
	for i, id := range ids {
		iids := parts[id]
		if id == 0 {
			return fmt.Errorf("%w: partition ids start at 1", ErrInvalidArgument)
		}
		if iids == nil {
			return fmt.Errorf("%w: partition %d has no read set", ErrInvalidArgument, id)
		}
		if !iids.IsEmpty() && (iids.Contains(0) || uint64(iids.Maximum()) > n) {
			return fmt.Errorf("%w: partition %d names reads outside 1..%d", ErrInvalidArgument, id, n)
		}
		if ok, err := fs.Exists(s.opts.fs, partitionPath(s.path, partMapName, id)); err != nil {
			return &IOError{Op: "stat", Path: partitionPath(s.path, partMapName, id), Err: err}
		} else if ok {
			return preconditionf(s.path, "partition %d already exists", id)
		}
		for _, other := range ids[:i] {
			if iids.Intersects(parts[other]) {
				return fmt.Errorf("%w: partitions %d and %d share reads", ErrInvalidArgument, other, id)
			}
		}
	}
	return nil
}

// partitionWriter appends reads to the files of one partition.
type partitionWriter struct {
	dir    string
	id     uint32
	header *Header
	opts   recordfile.Options
	fsys   fs.FileSystem
	files  [numPartFiles]*recordfile.File
	types  []byte
}

func (s *Store) materialize(ctx context.Context, rs *readSource, id uint32, iids *roaring.Bitmap) (err error) {
	w := &partitionWriter{
		dir:    s.path,
		id:     id,
		header: &s.header,
		opts:   s.opts.recordOptions(),
		fsys:   s.opts.fs,
		types:  make([]byte, 0, iids.GetCardinality()),
	}
	defer func() {
		if err != nil {
			w.abort()
		}
	}()
	if err := w.create(); err != nil {
		return err
	}

	it := iids.Iterator()
	for it.HasNext() {
		iid := IID(it.Next())
		if err := ctx.Err(); err != nil {
			return err
		}
		t, local, _ := s.index.lookup(iid)
		frag, err := rs.fragment(t, local)
		if err != nil {
			return err
		}
		seq, qlt, err := rs.sequence(frag, local)
		if err != nil {
			return err
		}
		if err := s.rc.AcquireIO(ctx, fragmentSize(t)+2*len(seq)); err != nil {
			return err
		}
		if err := w.add(frag, seq, qlt); err != nil {
			return err
		}
	}
	return w.finish(iids, s.opts.compression)
}

func (w *partitionWriter) create() error {
	for pf := partFile(0); pf < numPartFiles; pf++ {
		path := partitionPath(w.dir, partFileNames[pf], w.id)
		f, err := recordfile.Create(path, partFileRecordSize(pf, w.header), w.opts)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				return preconditionf(w.dir, "partition %d file %s already exists", w.id, filepath.Base(path))
			}
			return wrapIO("create", path, err)
		}
		w.files[pf] = f
	}
	return nil
}

func (w *partitionWriter) add(frag *Fragment, seq, qlt []byte) error {
	index := w.files[partIndexFile(frag.Type)]
	data := w.files[partIndexFile(frag.Type)+1]
	if frag.Type == FragPacked {
		pss := int(w.header.PackedSequenceSize)
		slot := make([]byte, 2*pss)
		copy(slot, seq)
		copy(slot[pss:], qlt)
		if _, err := data.Append(slot); err != nil {
			return wrapIO("write", data.Path(), err)
		}
	} else {
		buf := make([]byte, 0, len(seq)+len(qlt))
		buf = append(append(buf, seq...), qlt...)
		off, err := data.Append(buf)
		if err != nil {
			return wrapIO("write", data.Path(), err)
		}
		frag.seqOffset = off
		frag.qltOffset = off + uint64(len(seq))
	}
	if _, err := index.Append(encodeFragment(frag)); err != nil {
		return wrapIO("write", index.Path(), err)
	}
	w.types = append(w.types, byte(frag.Type))
	return nil
}

// finish closes the data files and writes the membership map, which marks
// the partition complete.
func (w *partitionWriter) finish(iids *roaring.Bitmap, c Compression) error {
	for pf := range w.files {
		f := w.files[pf]
		w.files[pf] = nil
		if err := f.Close(); err != nil {
			return wrapIO("close", f.Path(), err)
		}
	}

	var bm bytes.Buffer
	if _, err := iids.WriteTo(&bm); err != nil {
		return fmt.Errorf("gkstore: encode partition %d: %w", w.id, err)
	}
	payload := binary.LittleEndian.AppendUint32(nil, uint32(bm.Len()))
	payload = append(payload, bm.Bytes()...)
	payload = append(payload, w.types...)

	var buf bytes.Buffer
	if err := codec.WriteFrame(&buf, partMapMagic, partMapVersion, payload, c); err != nil {
		return fmt.Errorf("gkstore: encode partition %d: %w", w.id, err)
	}
	path := partitionPath(w.dir, partMapName, w.id)
	if err := fs.WriteFile(w.fsys, path, buf.Bytes(), filePerm); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (w *partitionWriter) abort() {
	for pf := partFile(0); pf < numPartFiles; pf++ {
		if f := w.files[pf]; f != nil {
			_ = f.Close()
			w.files[pf] = nil
		}
	}
	for _, name := range append(partFileNames[:], partMapName) {
		_ = fs.RemoveIfExists(w.fsys, partitionPath(w.dir, name, w.id))
	}
}

type partitionMember struct {
	typ   FragType
	local uint32
}

// PartitionView is a read-only view of one materialized partition. It
// answers only for its member reads, plus library lookups.
type PartitionView struct {
	dir    string
	id     uint32
	header Header
	logger *Logger
	rc     *resource.Controller

	members map[IID]partitionMember
	iids    *roaring.Bitmap
	files   [numPartFiles]*recordfile.File
	lib     *recordfile.File
	libSize int64
	source  readSource
	closed  bool
}

// OpenPartition opens partition id of the store at dir.
func OpenPartition(dir string, id uint32, optFns ...Option) (*PartitionView, error) {
	o := applyOptions(optFns)
	h, _, err := readInfo(o.fs, infPath(dir), false)
	if err != nil {
		return nil, err
	}
	mapPath := partitionPath(dir, partMapName, id)
	if ok, err := fs.Exists(o.fs, mapPath); err != nil {
		return nil, &IOError{Op: "stat", Path: mapPath, Err: err}
	} else if !ok {
		return nil, preconditionf(dir, "partition %d doesn't exist", id)
	}

	v := &PartitionView{
		dir:    dir,
		id:     id,
		header: *h,
		logger: o.logger.WithPath(dir).WithPartition(id),
		rc:     o.controller(),
	}
	if err := v.open(&o, mapPath); err != nil {
		_ = v.Close()
		v.logger.logResult("open partition", err)
		return nil, err
	}
	v.logger.Info("partition opened", "reads", len(v.members))
	return v, nil
}

func (v *PartitionView) open(o *options, mapPath string) error {
	data, err := fs.ReadFile(o.fs, mapPath)
	if err != nil {
		return &IOError{Op: "read", Path: mapPath, Err: err}
	}
	payload, err := codec.ReadFrame(bytes.NewReader(data), partMapMagic, partMapVersion)
	if err != nil {
		return wrapIO("decode", mapPath, err)
	}
	if len(payload) < 4 {
		return &FormatError{Path: mapPath, Reason: "short partition map"}
	}
	bmLen := int(binary.LittleEndian.Uint32(payload))
	if len(payload) < 4+bmLen {
		return &FormatError{Path: mapPath, Reason: "truncated membership bitmap"}
	}
	v.iids = roaring.New()
	if _, err := v.iids.ReadFrom(bytes.NewReader(payload[4 : 4+bmLen])); err != nil {
		return &FormatError{Path: mapPath, Reason: "membership bitmap: " + err.Error(), Err: err}
	}
	types := payload[4+bmLen:]
	if uint64(len(types)) != v.iids.GetCardinality() {
		return &FormatError{
			Path:   mapPath,
			Reason: fmt.Sprintf("%d member types for %d members", len(types), v.iids.GetCardinality()),
		}
	}

	ropts := o.recordOptions()
	for pf := partFile(0); pf < numPartFiles; pf++ {
		path := partitionPath(v.dir, partFileNames[pf], v.id)
		f, err := recordfile.Open(path, recordfile.ReadOnly, ropts)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &FormatError{Path: path, Reason: "partition file is missing", Err: err}
			}
			return wrapIO("open", path, err)
		}
		v.files[pf] = f
		if want := partFileRecordSize(pf, &v.header); f.RecordSize() != want {
			return &FormatError{Path: path, Reason: fmt.Sprintf("record size %d, want %d", f.RecordSize(), want)}
		}
	}

	v.members = make(map[IID]partitionMember, len(types))
	var counts [numFragTypes + 1]uint32
	it := v.iids.Iterator()
	for i := 0; it.HasNext(); i++ {
		t := FragType(types[i])
		if !t.Valid() {
			return &FormatError{Path: mapPath, Reason: fmt.Sprintf("member %d has invalid type %d", i, types[i])}
		}
		v.members[IID(it.Next())] = partitionMember{typ: t, local: counts[t]}
		counts[t]++
	}
	for t := FragPacked; t <= FragStrobe; t++ {
		if got := v.files[partIndexFile(t)].Len(); got != uint64(counts[t]) {
			return &FormatError{
				Path:   v.files[partIndexFile(t)].Path(),
				Reason: fmt.Sprintf("%d records, partition map lists %d %s reads", got, counts[t], t),
			}
		}
	}

	libPath := filepath.Join(v.dir, substoreDefs[subLibrary].name)
	lib, err := recordfile.Open(libPath, recordfile.ReadOnly, ropts)
	if err != nil {
		return wrapIO("open", libPath, err)
	}
	v.lib = lib
	if err := v.rc.AcquireMemory(lib.DataSize()); err != nil {
		return fmt.Errorf("gkstore: load %s into memory: %w", libPath, err)
	}
	v.libSize = lib.DataSize()
	if v.lib, err = recordfile.Promote(lib); err != nil {
		v.lib = lib
		return wrapIO("load", libPath, err)
	}

	uidPath := filepath.Join(v.dir, substoreDefs[subUID].name)
	uids, err := recordfile.Open(uidPath, recordfile.ReadOnly, ropts)
	if err != nil {
		return wrapIO("open", uidPath, err)
	}

	v.source = readSource{uids: uids, packedSeqSize: int(v.header.PackedSequenceSize)}
	for t := FragPacked; t <= FragStrobe; t++ {
		v.source.index[t] = v.files[partIndexFile(t)]
		v.source.seq[t] = v.files[partIndexFile(t)+1]
		v.source.qlt[t] = v.files[partIndexFile(t)+1]
	}
	return nil
}

// ID returns the partition id.
func (v *PartitionView) ID() uint32 { return v.id }

// Header returns the header of the store the partition belongs to.
func (v *PartitionView) Header() Header { return v.header }

// Len returns the number of member reads.
func (v *PartitionView) Len() int { return len(v.members) }

// Contains reports whether iid is a member.
func (v *PartitionView) Contains(iid IID) bool {
	_, ok := v.members[iid]
	return ok
}

// IIDs returns the member IIDs in ascending order.
func (v *PartitionView) IIDs() []IID {
	out := make([]IID, 0, len(v.members))
	it := v.iids.Iterator()
	for it.HasNext() {
		out = append(out, IID(it.Next()))
	}
	return out
}

func (v *PartitionView) member(iid IID) (partitionMember, error) {
	if v.closed {
		return partitionMember{}, ErrClosed
	}
	m, ok := v.members[iid]
	if !ok {
		return partitionMember{}, fmt.Errorf("%w: iid %d in partition %d", ErrNotInPartition, iid, v.id)
	}
	return m, nil
}

// Fragment returns the metadata record of member iid.
func (v *PartitionView) Fragment(iid IID) (*Fragment, error) {
	m, err := v.member(iid)
	if err != nil {
		return nil, err
	}
	return v.source.fragment(m.typ, m.local)
}

// Read returns member iid with its sequence, quality and UID.
func (v *PartitionView) Read(iid IID) (*Read, error) {
	m, err := v.member(iid)
	if err != nil {
		return nil, err
	}
	return v.source.read(m.typ, m.local)
}

// NumLibraries returns the number of libraries in the store.
func (v *PartitionView) NumLibraries() uint32 { return uint32(v.lib.Len()) }

// Library returns library id of the store.
func (v *PartitionView) Library(id LibraryID) (Library, error) {
	if v.closed {
		return Library{}, ErrClosed
	}
	return readLibrary(v.lib, id)
}

// EnableMetadataCaching is not supported on partitions, whose fragment
// indices are already limited to their members.
func (v *PartitionView) EnableMetadataCaching() error {
	return preconditionf(v.dir, "metadata caching is not supported on partition %d", v.id)
}

// Close releases the partition's files. It is idempotent.
func (v *PartitionView) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	var firstErr error
	closeFile := func(f *recordfile.File) {
		if f == nil {
			return
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = wrapIO("close", f.Path(), err)
		}
	}
	for _, f := range v.files {
		closeFile(f)
	}
	closeFile(v.lib)
	closeFile(v.source.uids)
	if v.libSize > 0 {
		v.rc.ReleaseMemory(v.libSize)
	}
	return firstErr
}
