package gkstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/gkstore/internal/recordfile"
)

// On-disk record sizes. They are written into the header and a store whose
// sizes differ is refused.
const (
	LibraryRecordSize   = 96
	PackedFragmentSize  = 32
	NormalFragmentSize  = 48
	StrobeFragmentSize  = 56
	PlacementRecordSize = 16

	clearRangeRecordSize = 8
)

// noUIDOffset marks a fragment stored without a UID.
const noUIDOffset uint64 = math.MaxUint64

const (
	fragFlagDeleted uint8 = 1 << iota
	fragFlagNonRandom
)

// Fragment is the fixed-size metadata record of a read. Sequence and
// quality live in companion substores.
type Fragment struct {
	IID       IID
	Type      FragType
	Library   LibraryID
	Mate      IID
	SeqLen    uint32
	Deleted   bool
	NonRandom bool

	StrobeBegin uint32
	StrobeEnd   uint32

	uidOffset uint64
	seqOffset uint64
	qltOffset uint64
}

// HasUID reports whether the read was stored with a UID.
func (f *Fragment) HasUID() bool { return f.uidOffset != noUIDOffset }

func fragmentSize(t FragType) int {
	switch t {
	case FragPacked:
		return PackedFragmentSize
	case FragNormal:
		return NormalFragmentSize
	case FragStrobe:
		return StrobeFragmentSize
	}
	return 0
}

func encodeFragment(f *Fragment) []byte {
	b := make([]byte, fragmentSize(f.Type))
	binary.LittleEndian.PutUint32(b[0:], uint32(f.IID))
	binary.LittleEndian.PutUint32(b[4:], uint32(f.Library))
	binary.LittleEndian.PutUint32(b[8:], uint32(f.Mate))
	binary.LittleEndian.PutUint32(b[12:], f.SeqLen)
	binary.LittleEndian.PutUint64(b[16:], f.uidOffset)
	var flags uint8
	if f.Deleted {
		flags |= fragFlagDeleted
	}
	if f.NonRandom {
		flags |= fragFlagNonRandom
	}
	b[24] = flags
	b[25] = uint8(f.Type)

	if f.Type == FragPacked {
		return b
	}
	binary.LittleEndian.PutUint64(b[32:], f.seqOffset)
	binary.LittleEndian.PutUint64(b[40:], f.qltOffset)
	if f.Type == FragStrobe {
		binary.LittleEndian.PutUint32(b[48:], f.StrobeBegin)
		binary.LittleEndian.PutUint32(b[52:], f.StrobeEnd)
	}
	return b
}

func decodeFragment(t FragType, b []byte) (*Fragment, error) {
	if len(b) != fragmentSize(t) {
		return nil, fmt.Errorf("%s fragment record is %d bytes, want %d", t, len(b), fragmentSize(t))
	}
	if got := FragType(b[25]); got != t {
		return nil, fmt.Errorf("fragment record tagged %s in %s store", got, t)
	}
	f := &Fragment{
		IID:       IID(binary.LittleEndian.Uint32(b[0:])),
		Type:      t,
		Library:   LibraryID(binary.LittleEndian.Uint32(b[4:])),
		Mate:      IID(binary.LittleEndian.Uint32(b[8:])),
		SeqLen:    binary.LittleEndian.Uint32(b[12:]),
		uidOffset: binary.LittleEndian.Uint64(b[16:]),
		Deleted:   b[24]&fragFlagDeleted != 0,
		NonRandom: b[24]&fragFlagNonRandom != 0,
	}
	if t == FragPacked {
		return f, nil
	}
	f.seqOffset = binary.LittleEndian.Uint64(b[32:])
	f.qltOffset = binary.LittleEndian.Uint64(b[40:])
	if t == FragStrobe {
		f.StrobeBegin = binary.LittleEndian.Uint32(b[48:])
		f.StrobeEnd = binary.LittleEndian.Uint32(b[52:])
	}
	return f, nil
}

// Orientation of mated reads in a library.
type Orientation uint8

const (
	OrientUnknown Orientation = iota
	OrientInnie
	OrientOuttie
	OrientNormal
	OrientAnti
)

// Technology that produced a library.
type Technology uint8

const (
	TechUnknown Technology = iota
	TechSanger
	Tech454
	TechIllumina
	TechPacBio
	TechNanopore
)

const (
	libFlagNotRandom uint16 = 1 << iota
	libFlagDoNotTrustHomopolymerRuns
	libFlagDoNotOverlapTrim
	libFlagIsMatePair
)

// Library describes a sequencing library.
type Library struct {
	Name        string
	Technology  Technology
	Orientation Orientation

	MeanInsert   float64
	StdDevInsert float64

	NotRandom                 bool
	DoNotTrustHomopolymerRuns bool
	DoNotOverlapTrim          bool
	IsMatePair                bool
}

func encodeLibrary(l *Library) ([]byte, error) {
	if len(l.Name) > MaxLibraryNameLength {
		return nil, fmt.Errorf("%w: library name %q longer than %d bytes", ErrInvalidArgument, l.Name, MaxLibraryNameLength)
	}
	b := make([]byte, LibraryRecordSize)
	b[0] = uint8(l.Technology)
	b[1] = uint8(l.Orientation)
	var flags uint16
	if l.NotRandom {
		flags |= libFlagNotRandom
	}
	if l.DoNotTrustHomopolymerRuns {
		flags |= libFlagDoNotTrustHomopolymerRuns
	}
	if l.DoNotOverlapTrim {
		flags |= libFlagDoNotOverlapTrim
	}
	if l.IsMatePair {
		flags |= libFlagIsMatePair
	}
	binary.LittleEndian.PutUint16(b[2:], flags)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(l.Name)))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(l.MeanInsert))
	binary.LittleEndian.PutUint64(b[16:], math.Float64bits(l.StdDevInsert))
	copy(b[24:], l.Name)
	return b, nil
}

func decodeLibrary(b []byte) (Library, error) {
	if len(b) != LibraryRecordSize {
		return Library{}, fmt.Errorf("library record is %d bytes, want %d", len(b), LibraryRecordSize)
	}
	nameLen := binary.LittleEndian.Uint32(b[4:])
	if nameLen > MaxLibraryNameLength {
		return Library{}, fmt.Errorf("library name length %d exceeds %d", nameLen, MaxLibraryNameLength)
	}
	flags := binary.LittleEndian.Uint16(b[2:])
	return Library{
		Technology:                Technology(b[0]),
		Orientation:               Orientation(b[1]),
		NotRandom:                 flags&libFlagNotRandom != 0,
		DoNotTrustHomopolymerRuns: flags&libFlagDoNotTrustHomopolymerRuns != 0,
		DoNotOverlapTrim:          flags&libFlagDoNotOverlapTrim != 0,
		IsMatePair:                flags&libFlagIsMatePair != 0,
		MeanInsert:                math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
		StdDevInsert:              math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
		Name:                      string(b[24 : 24+nameLen]),
	}, nil
}

// Placement constrains where a read may be placed: between the reads
// BoundBegin and BoundEnd.
type Placement struct {
	IID        IID
	BoundBegin IID
	BoundEnd   IID
}

func encodePlacement(p *Placement) []byte {
	b := make([]byte, PlacementRecordSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(p.IID))
	binary.LittleEndian.PutUint32(b[4:], uint32(p.BoundBegin))
	binary.LittleEndian.PutUint32(b[8:], uint32(p.BoundEnd))
	return b
}

func decodePlacement(b []byte) Placement {
	return Placement{
		IID:        IID(binary.LittleEndian.Uint32(b[0:])),
		BoundBegin: IID(binary.LittleEndian.Uint32(b[4:])),
		BoundEnd:   IID(binary.LittleEndian.Uint32(b[8:])),
	}
}

func readLibrary(f *recordfile.File, id LibraryID) (Library, error) {
	if id == 0 {
		return Library{}, nil
	}
	if uint64(id) > f.Len() {
		return Library{}, fmt.Errorf("%w: library %d, store has %d", ErrNotFound, id, f.Len())
	}
	buf := make([]byte, LibraryRecordSize)
	if err := f.ReadRecord(uint64(id-1), buf); err != nil {
		return Library{}, wrapIO("read", f.Path(), err)
	}
	lib, err := decodeLibrary(buf)
	if err != nil {
		return Library{}, &FormatError{Path: f.Path(), Reason: fmt.Sprintf("library %d: %v", id, err)}
	}
	return lib, nil
}
