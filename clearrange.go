package gkstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/internal/recordfile"
)

// ClearTag names one of the trimming stages that record a clear range.
type ClearTag uint8

const (
	ClearOriginal ClearTag = iota
	ClearQuality
	ClearVector
	ClearMax
	ClearContamination
	ClearOBTInitial
	ClearOBT
	ClearMerge
	ClearChimera
	ClearLatest

	NumClearTags
)

var clearTagNames = [NumClearTags]string{
	"ORIG", "QLT", "VEC", "MAX", "TNT", "OBTINI", "OBT", "MRG", "CHIM", "LATEST",
}

func (t ClearTag) String() string {
	if t < NumClearTags {
		return clearTagNames[t]
	}
	return fmt.Sprintf("ClearTag(%d)", uint8(t))
}

// ParseClearTag maps a tag name such as "OBT" to its ClearTag. Matching
// ignores case.
func ParseClearTag(name string) (ClearTag, error) {
	for i, n := range clearTagNames {
		if strings.EqualFold(n, name) {
			return ClearTag(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown clear range %q", ErrInvalidArgument, name)
}

// ClearRange is the half-open interval [Begin, End) of a read's sequence
// that a trimming stage kept.
type ClearRange struct {
	Begin uint32
	End   uint32
}

// Len returns End - Begin.
func (r ClearRange) Len() uint32 { return r.End - r.Begin }

const unsetClear = math.MaxUint32

// clearRangeTable holds one tag's ranges in its own file, one record per
// IID. A slot written only as padding reads as unset. The file is created
// on the first Set.
type clearRangeTable struct {
	tag   ClearTag
	store *Store
	file  *recordfile.File
}

func (t *clearRangeTable) path() string {
	return filepath.Join(t.store.path, "clr-"+clearTagNames[t.tag])
}

// open opens the table's file if it exists.
func (t *clearRangeTable) open(mode recordfile.Mode) error {
	f, err := recordfile.Open(t.path(), mode, t.store.opts.recordOptions())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return wrapIO("open", t.path(), err)
	}
	if f.RecordSize() != clearRangeRecordSize {
		_ = f.Close()
		return &FormatError{Path: t.path(), Reason: fmt.Sprintf("record size %d, want %d", f.RecordSize(), clearRangeRecordSize)}
	}
	t.file = f
	return nil
}

// get returns the stored range and whether one is set.
func (t *clearRangeTable) get(iid IID) (ClearRange, bool, error) {
	if t.file == nil || uint64(iid) >= t.file.Len() {
		return ClearRange{}, false, nil
	}
	var rec [clearRangeRecordSize]byte
	if err := t.file.ReadRecord(uint64(iid), rec[:]); err != nil {
		return ClearRange{}, false, wrapIO("read", t.path(), err)
	}
	r := ClearRange{
		Begin: binary.LittleEndian.Uint32(rec[0:]),
		End:   binary.LittleEndian.Uint32(rec[4:]),
	}
	if r.Begin == unsetClear && r.End == unsetClear {
		return ClearRange{}, false, nil
	}
	return r, true, nil
}

func (t *clearRangeTable) set(iid IID, r ClearRange) error {
	if t.file == nil {
		f, err := recordfile.Create(t.path(), clearRangeRecordSize, t.store.opts.recordOptions())
		if err != nil {
			return wrapIO("create", t.path(), err)
		}
		t.file = f
	}
	var rec [clearRangeRecordSize]byte
	if n := t.file.Len(); uint64(iid) > n {
		binary.LittleEndian.PutUint32(rec[0:], unsetClear)
		binary.LittleEndian.PutUint32(rec[4:], unsetClear)
		pad := make([]byte, 0, (uint64(iid)-n)*clearRangeRecordSize)
		for i := n; i < uint64(iid); i++ {
			pad = append(pad, rec[:]...)
		}
		if _, err := t.file.Append(pad); err != nil {
			return wrapIO("write", t.path(), err)
		}
	}
	binary.LittleEndian.PutUint32(rec[0:], r.Begin)
	binary.LittleEndian.PutUint32(rec[4:], r.End)
	if err := t.file.WriteRecord(uint64(iid), rec[:]); err != nil {
		return wrapIO("write", t.path(), err)
	}
	return nil
}

func (t *clearRangeTable) close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return wrapIO("close", t.path(), err)
}

// purge closes the table and removes its file.
func (t *clearRangeTable) purge() error {
	if err := t.close(); err != nil {
		return err
	}
	if err := fs.RemoveIfExists(t.store.opts.fs, t.path()); err != nil {
		return &IOError{Op: "remove", Path: t.path(), Err: err}
	}
	return nil
}

func (s *Store) clearTable(tag ClearTag) (*clearRangeTable, error) {
	if tag >= NumClearTags {
		return nil, fmt.Errorf("%w: clear tag %d", ErrInvalidArgument, tag)
	}
	return &s.clear[tag], nil
}

// ClearRange returns the tag's clear range of iid. A read with no range
// set for the tag is clear over its whole length.
func (s *Store) ClearRange(iid IID, tag ClearTag) (ClearRange, error) {
	r, _, err := s.clearRange(iid, tag)
	return r, err
}

// HasClearRange reports whether a range was explicitly set for iid and tag.
func (s *Store) HasClearRange(iid IID, tag ClearTag) (bool, error) {
	_, ok, err := s.clearRange(iid, tag)
	return ok, err
}

func (s *Store) clearRange(iid IID, tag ClearTag) (ClearRange, bool, error) {
	t, err := s.clearTable(tag)
	if err != nil {
		return ClearRange{}, false, err
	}
	frag, err := s.Fragment(iid)
	if err != nil {
		return ClearRange{}, false, err
	}
	r, ok, err := t.get(iid)
	if err != nil || ok {
		return r, ok, err
	}
	return ClearRange{Begin: 0, End: frag.SeqLen}, false, nil
}

// SetClearRange records [begin, end) as the tag's clear range of iid. It
// requires begin <= end <= the read's length.
func (s *Store) SetClearRange(iid IID, tag ClearTag, begin, end uint32) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	t, err := s.clearTable(tag)
	if err != nil {
		return err
	}
	frag, err := s.Fragment(iid)
	if err != nil {
		return err
	}
	if begin > end || end > frag.SeqLen {
		return &RangeError{IID: iid, Tag: tag, Begin: begin, End: end, Length: frag.SeqLen}
	}
	return t.set(iid, ClearRange{Begin: begin, End: end})
}

// PurgeClearRange discards every range stored for tag.
func (s *Store) PurgeClearRange(tag ClearTag) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	t, err := s.clearTable(tag)
	if err != nil {
		return err
	}
	return t.purge()
}
