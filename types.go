package gkstore

import "fmt"

// IID is the dense internal identifier of a read. Valid IIDs start at 1;
// 0 is reserved and means "none".
type IID uint32

// LibraryID identifies a library. 0 means "no library".
type LibraryID uint32

// FragType is the storage variant of a read.
type FragType uint8

const (
	// FragPacked stores short reads in fixed-size slots of the packed store.
	FragPacked FragType = iota + 1
	// FragNormal stores sequence and quality in variable-length companion streams.
	FragNormal
	// FragStrobe is a normal read carrying a strobe interval.
	FragStrobe

	numFragTypes = 3
)

func (t FragType) String() string {
	switch t {
	case FragPacked:
		return "packed"
	case FragNormal:
		return "normal"
	case FragStrobe:
		return "strobe"
	default:
		return fmt.Sprintf("FragType(%d)", uint8(t))
	}
}

// Valid reports whether t names one of the three variants.
func (t FragType) Valid() bool { return t >= FragPacked && t <= FragStrobe }

// Mode is the access mode a store was opened with.
type Mode uint8

const (
	ModeReadOnly Mode = iota
	ModeWritable
	// ModeCreating is a writable store that is being populated; only here
	// can reads be added.
	ModeCreating
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "read-only"
	case ModeWritable:
		return "writable"
	case ModeCreating:
		return "creating"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

const (
	// MaxPackedLength is the longest sequence the packed variant can hold.
	MaxPackedLength = 255

	// ReadMaxLenBits is the width of the read-length field the store is
	// compiled for. It is recorded in the header and checked on open.
	ReadMaxLenBits = 16

	// MaxReadLength is the longest read the store accepts.
	MaxReadLength = 1<<ReadMaxLenBits - 1

	// MaxLibraryNameLength bounds Library.Name in bytes.
	MaxLibraryNameLength = 72
)

// Read is a sequencing read as stored: its fragment metadata together with
// sequence and quality bytes.
type Read struct {
	// IID is assigned by AddRead; ignored on input.
	IID IID
	UID UID
	// Type is chosen by AddRead; ignored on input.
	Type      FragType
	Library   LibraryID
	Mate      IID
	Deleted   bool
	NonRandom bool

	Seq []byte
	Qlt []byte

	// StrobeBegin and StrobeEnd delimit the strobe interval of a strobe
	// read. A non-empty interval makes AddRead store the read as FragStrobe.
	StrobeBegin uint32
	StrobeEnd   uint32
}

// Len returns the sequence length.
func (r *Read) Len() int { return len(r.Seq) }
