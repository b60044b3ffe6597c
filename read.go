package gkstore

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/gkstore/internal/recordfile"
)

// readSource names the substores a read is assembled from. The main store
// and partition views fill it with different files.
type readSource struct {
	index [numFragTypes + 1]*recordfile.File
	seq   [numFragTypes + 1]*recordfile.File
	qlt   [numFragTypes + 1]*recordfile.File
	uids  *recordfile.File

	packedSeqSize int
}

func (rs *readSource) fragment(t FragType, local uint32) (*Fragment, error) {
	f := rs.index[t]
	buf := make([]byte, fragmentSize(t))
	if err := f.ReadRecord(uint64(local), buf); err != nil {
		return nil, wrapIO("read", f.Path(), err)
	}
	frag, err := decodeFragment(t, buf)
	if err != nil {
		return nil, &FormatError{Path: f.Path(), Reason: fmt.Sprintf("record %d: %v", local, err)}
	}
	return frag, nil
}

// sequence returns the sequence and quality of frag, stored at local in
// its variant's substores.
func (rs *readSource) sequence(frag *Fragment, local uint32) ([]byte, []byte, error) {
	n := int(frag.SeqLen)
	if frag.Type == FragPacked {
		if n >= rs.packedSeqSize {
			return nil, nil, &FormatError{
				Path:   rs.index[FragPacked].Path(),
				Reason: fmt.Sprintf("packed read %d has length %d, slot is %d", frag.IID, n, rs.packedSeqSize-1),
			}
		}
		f := rs.seq[FragPacked]
		slot := make([]byte, 2*rs.packedSeqSize)
		if err := f.ReadRecord(uint64(local), slot); err != nil {
			return nil, nil, wrapIO("read", f.Path(), err)
		}
		seq := append([]byte(nil), slot[:n]...)
		qlt := append([]byte(nil), slot[rs.packedSeqSize:rs.packedSeqSize+n]...)
		return seq, qlt, nil
	}

	seq := make([]byte, n)
	qlt := make([]byte, n)
	if err := rs.seq[frag.Type].ReadAt(seq, int64(frag.seqOffset)); err != nil {
		return nil, nil, wrapIO("read", rs.seq[frag.Type].Path(), err)
	}
	if err := rs.qlt[frag.Type].ReadAt(qlt, int64(frag.qltOffset)); err != nil {
		return nil, nil, wrapIO("read", rs.qlt[frag.Type].Path(), err)
	}
	return seq, qlt, nil
}

func (rs *readSource) uid(frag *Fragment) (UID, error) {
	if !frag.HasUID() {
		return UID{}, nil
	}
	iid, uid, _, err := readUIDEntry(rs.uids, frag.uidOffset)
	if err != nil {
		return UID{}, wrapIO("read", rs.uids.Path(), err)
	}
	if iid != frag.IID {
		return UID{}, &FormatError{
			Path:   rs.uids.Path(),
			Reason: fmt.Sprintf("uid entry at %d belongs to iid %d, not %d", frag.uidOffset, iid, frag.IID),
		}
	}
	return uid, nil
}

func (rs *readSource) read(t FragType, local uint32) (*Read, error) {
	frag, err := rs.fragment(t, local)
	if err != nil {
		return nil, err
	}
	seq, qlt, err := rs.sequence(frag, local)
	if err != nil {
		return nil, err
	}
	uid, err := rs.uid(frag)
	if err != nil {
		return nil, err
	}
	return &Read{
		IID:         frag.IID,
		UID:         uid,
		Type:        frag.Type,
		Library:     frag.Library,
		Mate:        frag.Mate,
		Deleted:     frag.Deleted,
		NonRandom:   frag.NonRandom,
		Seq:         seq,
		Qlt:         qlt,
		StrobeBegin: frag.StrobeBegin,
		StrobeEnd:   frag.StrobeEnd,
	}, nil
}

func (s *Store) source() *readSource {
	r := s.subs
	return &readSource{
		index: [numFragTypes + 1]*recordfile.File{
			FragPacked: r.get(subPackedIndex),
			FragNormal: r.get(subNormalIndex),
			FragStrobe: r.get(subStrobeIndex),
		},
		seq: [numFragTypes + 1]*recordfile.File{
			FragPacked: r.get(subPackedData),
			FragNormal: r.get(subNormalSeq),
			FragStrobe: r.get(subStrobeSeq),
		},
		qlt: [numFragTypes + 1]*recordfile.File{
			FragPacked: r.get(subPackedData),
			FragNormal: r.get(subNormalQlt),
			FragStrobe: r.get(subStrobeQlt),
		},
		uids:          r.get(subUID),
		packedSeqSize: int(s.header.PackedSequenceSize),
	}
}

// AddRead appends a read and returns its IID. Reads can only be added
// while the store is being created. The variant is chosen from the read:
// a non-empty strobe interval makes it FragStrobe, a sequence that fits the
// packed slot makes it FragPacked, anything else is FragNormal.
func (s *Store) AddRead(r *Read) (IID, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if s.mode != ModeCreating {
		return 0, preconditionf(s.path, "reads can only be added while creating the store")
	}
	if err := s.validateRead(r); err != nil {
		return 0, err
	}
	if !r.UID.IsZero() {
		if prev, dup := s.uids.byUID[r.UID]; dup {
			return 0, preconditionf(s.path, "uid %s already assigned to iid %d", r.UID, prev)
		}
	}

	t := FragNormal
	switch {
	case r.StrobeEnd > r.StrobeBegin:
		t = FragStrobe
	case len(r.Seq) <= s.header.MaxPackedLength():
		t = FragPacked
	}
	iid := IID(s.index.len() + 1)
	tiid := *s.header.count(t)

	frag := &Fragment{
		IID:         iid,
		Type:        t,
		Library:     r.Library,
		Mate:        r.Mate,
		SeqLen:      uint32(len(r.Seq)),
		Deleted:     r.Deleted,
		NonRandom:   r.NonRandom,
		StrobeBegin: r.StrobeBegin,
		StrobeEnd:   r.StrobeEnd,
		uidOffset:   noUIDOffset,
	}
	rs := s.source()
	if t == FragPacked {
		slot := make([]byte, 2*rs.packedSeqSize)
		copy(slot, r.Seq)
		copy(slot[rs.packedSeqSize:], r.Qlt)
		if err := rs.seq[t].WriteRecord(uint64(tiid), slot); err != nil {
			return 0, wrapIO("write", rs.seq[t].Path(), err)
		}
	} else {
		var err error
		if frag.seqOffset, err = rs.seq[t].Append(r.Seq); err != nil {
			return 0, wrapIO("write", rs.seq[t].Path(), err)
		}
		if frag.qltOffset, err = rs.qlt[t].Append(r.Qlt); err != nil {
			return 0, wrapIO("write", rs.qlt[t].Path(), err)
		}
	}
	// The uid entry goes after the data and right before the fragment
	// record that points at it. An entry left by a failed write is never
	// referenced and scanUIDs skips it.
	if !r.UID.IsZero() {
		off, err := appendUIDEntry(rs.uids, iid, r.UID)
		if err != nil {
			return 0, wrapIO("write", rs.uids.Path(), err)
		}
		frag.uidOffset = off
	}
	if err := rs.index[t].WriteRecord(uint64(tiid), encodeFragment(frag)); err != nil {
		return 0, wrapIO("write", rs.index[t].Path(), err)
	}
	if err := s.assign(iid, t, tiid); err != nil {
		return 0, err
	}
	if !r.UID.IsZero() {
		s.uids.byUID[r.UID] = iid
		s.uids.dirty = true
	}
	return iid, nil
}

func (s *Store) validateRead(r *Read) error {
	if len(r.Seq) != len(r.Qlt) {
		return fmt.Errorf("%w: sequence length %d, quality length %d", ErrInvalidArgument, len(r.Seq), len(r.Qlt))
	}
	if len(r.Seq) > MaxReadLength {
		return fmt.Errorf("%w: read length %d exceeds %d", ErrInvalidArgument, len(r.Seq), MaxReadLength)
	}
	if uint32(r.Library) > s.NumLibraries() {
		return fmt.Errorf("%w: library %d, store has %d", ErrInvalidArgument, r.Library, s.NumLibraries())
	}
	if r.StrobeBegin > r.StrobeEnd || int(r.StrobeEnd) > len(r.Seq) {
		return fmt.Errorf("%w: strobe [%d,%d) outside read of length %d", ErrInvalidArgument, r.StrobeBegin, r.StrobeEnd, len(r.Seq))
	}
	return nil
}

// assign records iid in the identifier index and bumps the header count of t.
func (s *Store) assign(iid IID, t FragType, tiid uint32) error {
	if s.mode != ModeCreating {
		return preconditionf(s.path, "identifiers can only be assigned while creating the store")
	}
	if err := s.index.assign(iid, t, tiid); err != nil {
		return err
	}
	*s.header.count(t)++
	return nil
}

// ensureIndex loads the identifier index, rebuilding it from the fragment
// substores when the "inf" file carries none.
func (s *Store) ensureIndex() error {
	if s.index != nil {
		return nil
	}
	idx, err := s.buildIndex()
	if err != nil {
		return err
	}
	s.index = idx
	return nil
}

// buildIndex scans every fragment record. The IIDs found must be exactly
// 1..N with no repeats.
func (s *Store) buildIndex() (*identifierIndex, error) {
	rs := s.source()
	var total uint64
	for t := FragPacked; t <= FragStrobe; t++ {
		total += rs.index[t].Len()
	}
	idx := &identifierIndex{
		typeOf:       make([]FragType, total+1),
		localIndexOf: make([]uint32, total+1),
	}
	var iidBuf [4]byte
	for t := FragPacked; t <= FragStrobe; t++ {
		f := rs.index[t]
		for local := uint64(0); local < f.Len(); local++ {
			if err := f.ReadAt(iidBuf[:], int64(local)*int64(f.RecordSize())); err != nil {
				return nil, wrapIO("read", f.Path(), err)
			}
			iid := uint64(binary.LittleEndian.Uint32(iidBuf[:]))
			if iid == 0 || iid > total || idx.typeOf[iid] != 0 {
				return nil, &FormatError{
					Path:   f.Path(),
					Reason: fmt.Sprintf("record %d has iid %d; identifiers are not dense in 1..%d", local, iid, total),
				}
			}
			idx.typeOf[iid] = t
			idx.localIndexOf[iid] = uint32(local)
		}
	}
	s.header.NumPacked = uint32(rs.index[FragPacked].Len())
	s.header.NumNormal = uint32(rs.index[FragNormal].Len())
	s.header.NumStrobe = uint32(rs.index[FragStrobe].Len())
	s.logger.Debug("identifier index rebuilt", "reads", total)
	return idx, nil
}

// Locate returns the variant and variant-local index of iid.
func (s *Store) Locate(iid IID) (FragType, uint32, error) {
	if err := s.checkOpen(); err != nil {
		return 0, 0, err
	}
	if err := s.ensureIndex(); err != nil {
		return 0, 0, err
	}
	t, local, ok := s.index.lookup(iid)
	if !ok {
		return 0, 0, fmt.Errorf("%w: iid %d, store has %d reads", ErrNotFound, iid, s.index.len())
	}
	return t, local, nil
}

// Fragment returns the metadata record of iid.
func (s *Store) Fragment(iid IID) (*Fragment, error) {
	t, local, err := s.Locate(iid)
	if err != nil {
		return nil, err
	}
	return s.source().fragment(t, local)
}

// Read returns iid with its sequence, quality and UID.
func (s *Store) Read(iid IID) (*Read, error) {
	t, local, err := s.Locate(iid)
	if err != nil {
		return nil, err
	}
	return s.source().read(t, local)
}

// ForEach calls fn for every read in IID order, stopping at the first error.
func (s *Store) ForEach(fn func(*Read) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.ensureIndex(); err != nil {
		return err
	}
	rs := s.source()
	for iid := IID(1); uint32(iid) <= s.index.len(); iid++ {
		t, local, _ := s.index.lookup(iid)
		r, err := rs.read(t, local)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// SetMate links iid to mate. It does not touch the mate's record.
func (s *Store) SetMate(iid, mate IID) error {
	return s.updateFragment(iid, func(f *Fragment) { f.Mate = mate })
}

// SetDeleted marks iid deleted or undeleted.
func (s *Store) SetDeleted(iid IID, deleted bool) error {
	return s.updateFragment(iid, func(f *Fragment) { f.Deleted = deleted })
}

// SetLibraryOf moves iid to library lib.
func (s *Store) SetLibraryOf(iid IID, lib LibraryID) error {
	if uint32(lib) > s.NumLibraries() {
		return fmt.Errorf("%w: library %d, store has %d", ErrInvalidArgument, lib, s.NumLibraries())
	}
	return s.updateFragment(iid, func(f *Fragment) { f.Library = lib })
}

func (s *Store) updateFragment(iid IID, fn func(*Fragment)) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	t, local, err := s.Locate(iid)
	if err != nil {
		return err
	}
	rs := s.source()
	frag, err := rs.fragment(t, local)
	if err != nil {
		return err
	}
	fn(frag)
	if err := rs.index[t].WriteRecord(uint64(local), encodeFragment(frag)); err != nil {
		return wrapIO("write", rs.index[t].Path(), err)
	}
	return nil
}
