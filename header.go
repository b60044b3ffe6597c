package gkstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/gkstore/internal/fs"
)

const (
	// FormatMagic identifies a gatekeeper store.
	FormatMagic uint64 = 1
	// FormatVersion is the only store version this code reads and writes.
	FormatVersion uint64 = 10

	// HeaderSize is the encoded size of Header.
	HeaderSize = 64

	infName = "inf"
)

// Header is the fixed-size record at the start of the store's "inf" file.
// It records the format identity, the record sizes the store was written
// with, and how many reads of each variant it holds.
type Header struct {
	Magic   uint64
	Version uint64

	LibrarySize        uint32
	PackedFragmentSize uint32
	NormalFragmentSize uint32
	StrobeFragmentSize uint32
	PlacementSize      uint32

	// PackedSequenceSize is the per-read sequence slot in the packed store,
	// one more than the longest packed sequence.
	PackedSequenceSize uint32
	ReadMaxLenBits     uint32

	NumPacked uint32
	NumNormal uint32
	NumStrobe uint32
}

func newHeader(maxPackedLength int) Header {
	return Header{
		Magic:              FormatMagic,
		Version:            FormatVersion,
		LibrarySize:        LibraryRecordSize,
		PackedFragmentSize: PackedFragmentSize,
		NormalFragmentSize: NormalFragmentSize,
		StrobeFragmentSize: StrobeFragmentSize,
		PlacementSize:      PlacementRecordSize,
		PackedSequenceSize: uint32(maxPackedLength) + 1,
		ReadMaxLenBits:     ReadMaxLenBits,
	}
}

// MaxPackedLength returns the longest sequence stored as FragPacked.
func (h *Header) MaxPackedLength() int { return int(h.PackedSequenceSize) - 1 }

// NumReads returns the total number of reads over all variants.
func (h *Header) NumReads() uint32 { return h.NumPacked + h.NumNormal + h.NumStrobe }

func (h *Header) count(t FragType) *uint32 {
	switch t {
	case FragPacked:
		return &h.NumPacked
	case FragNormal:
		return &h.NumNormal
	case FragStrobe:
		return &h.NumStrobe
	}
	return nil
}

// MarshalBinary encodes the header little-endian.
func (h *Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(b[0:], h.Magic)
	binary.LittleEndian.PutUint64(b[8:], h.Version)
	binary.LittleEndian.PutUint32(b[16:], h.LibrarySize)
	binary.LittleEndian.PutUint32(b[20:], h.PackedFragmentSize)
	binary.LittleEndian.PutUint32(b[24:], h.NormalFragmentSize)
	binary.LittleEndian.PutUint32(b[28:], h.StrobeFragmentSize)
	binary.LittleEndian.PutUint32(b[32:], h.PlacementSize)
	binary.LittleEndian.PutUint32(b[36:], h.PackedSequenceSize)
	binary.LittleEndian.PutUint32(b[40:], h.ReadMaxLenBits)
	binary.LittleEndian.PutUint32(b[44:], h.NumPacked)
	binary.LittleEndian.PutUint32(b[48:], h.NumNormal)
	binary.LittleEndian.PutUint32(b[52:], h.NumStrobe)
	return b, nil
}

// UnmarshalBinary decodes a header. It does not validate it.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("header is %d bytes, want %d", len(b), HeaderSize)
	}
	h.Magic = binary.LittleEndian.Uint64(b[0:])
	h.Version = binary.LittleEndian.Uint64(b[8:])
	h.LibrarySize = binary.LittleEndian.Uint32(b[16:])
	h.PackedFragmentSize = binary.LittleEndian.Uint32(b[20:])
	h.NormalFragmentSize = binary.LittleEndian.Uint32(b[24:])
	h.StrobeFragmentSize = binary.LittleEndian.Uint32(b[28:])
	h.PlacementSize = binary.LittleEndian.Uint32(b[32:])
	h.PackedSequenceSize = binary.LittleEndian.Uint32(b[36:])
	h.ReadMaxLenBits = binary.LittleEndian.Uint32(b[40:])
	h.NumPacked = binary.LittleEndian.Uint32(b[44:])
	h.NumNormal = binary.LittleEndian.Uint32(b[48:])
	h.NumStrobe = binary.LittleEndian.Uint32(b[52:])
	return nil
}

// Validate checks magic, then version, then element sizes, in that order.
// path only labels the error.
func (h *Header) Validate(path string) error {
	if h.Magic != FormatMagic {
		return &FormatError{
			Path:   path,
			Reason: fmt.Sprintf("invalid magic %#x; is this a gatekeeper store?", h.Magic),
		}
	}
	if h.Version != FormatVersion {
		return &FormatError{
			Path:   path,
			Reason: fmt.Sprintf("found version %d, code supports version %d", h.Version, FormatVersion),
			Hint: fmt.Sprintf("back up the store, then run 'upgrade-v%d-to-v%d' from within the store directory",
				h.Version, FormatVersion),
		}
	}

	var details []string
	check := func(what string, got, want uint32) {
		if got != want {
			details = append(details, fmt.Sprintf("%s: store has %d, code has %d", what, got, want))
		}
	}
	check("library record size", h.LibrarySize, LibraryRecordSize)
	check("packed fragment size", h.PackedFragmentSize, PackedFragmentSize)
	check("normal fragment size", h.NormalFragmentSize, NormalFragmentSize)
	check("strobe fragment size", h.StrobeFragmentSize, StrobeFragmentSize)
	check("placement record size", h.PlacementSize, PlacementRecordSize)
	check("read length bits", h.ReadMaxLenBits, ReadMaxLenBits)
	if h.PackedSequenceSize == 0 || h.PackedSequenceSize > MaxPackedLength+1 {
		details = append(details, fmt.Sprintf("packed sequence size: store has %d, code supports 1..%d",
			h.PackedSequenceSize, MaxPackedLength+1))
	}
	if len(details) > 0 {
		return &FormatError{
			Path:    path,
			Reason:  "incorrect element sizes; code and store are incompatible",
			Details: details,
		}
	}
	return nil
}

// ReadHeader reads and validates the header of the store at dir.
func ReadHeader(dir string) (*Header, error) {
	h, _, err := readInfo(fs.Default, infPath(dir), false)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Write replaces the "inf" file of the store at dir with h alone. Any
// persisted identifier index is dropped and will be rebuilt on demand.
func (h *Header) Write(dir string) error {
	return writeInfo(fs.Default, infPath(dir), h, nil)
}

func infPath(dir string) string { return filepath.Join(dir, infName) }

// readInfo reads the header and, if withIndex, the identifier index arrays
// that follow it. A file that ends right after the header has no index and
// yields a nil index.
func readInfo(fsys fs.FileSystem, path string, withIndex bool) (*Header, *identifierIndex, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, preconditionf(path, "store doesn't exist")
		}
		return nil, nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, &IOError{Op: "stat", Path: path, Err: err}
	}

	r := bufio.NewReader(f)
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, &FormatError{Path: path, Reason: "truncated header", Err: err}
		}
		return nil, nil, &IOError{Op: "read", Path: path, Err: err}
	}
	h := new(Header)
	if err := h.UnmarshalBinary(buf); err != nil {
		return nil, nil, &FormatError{Path: path, Reason: err.Error()}
	}
	if err := h.Validate(path); err != nil {
		return nil, nil, err
	}
	if !withIndex {
		return h, nil, nil
	}

	// Sizes are checked against the file before allocating, so corrupt
	// counts cannot trigger huge allocations.
	remaining := info.Size() - HeaderSize
	if remaining == 0 {
		return h, nil, nil
	}
	entries := int64(h.NumReads()) + 1
	if want := entries * identifierEntrySize; remaining != want {
		return nil, nil, &FormatError{
			Path:   path,
			Reason: fmt.Sprintf("identifier index is %d bytes, want %d for %d reads", remaining, want, h.NumReads()),
		}
	}
	data := make([]byte, remaining)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, &FormatError{Path: path, Reason: "couldn't read the identifier index", Err: err}
		}
		return nil, nil, &IOError{Op: "read", Path: path, Err: err}
	}
	idx, err := unmarshalIdentifierIndex(data, h)
	if err != nil {
		return nil, nil, &FormatError{Path: path, Reason: err.Error()}
	}
	return h, idx, nil
}

// writeInfo replaces the "inf" file with h followed by idx, if non-nil.
func writeInfo(fsys fs.FileSystem, path string, h *Header, idx *identifierIndex) error {
	data, _ := h.MarshalBinary()
	if idx != nil {
		data = append(data, idx.marshal()...)
	}
	if err := fs.WriteFile(fsys, path, data, filePerm); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
