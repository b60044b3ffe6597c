package gkstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/gkstore/internal/codec"
	"github.com/hupe1980/gkstore/internal/recordfile"
	"github.com/hupe1980/gkstore/internal/resource"
)

var (
	// ErrIO classifies file open/read/write/close failures. See IOError.
	ErrIO = errors.New("i/o error")

	// ErrFormat classifies on-disk format violations: bad magic, version or
	// element-size mismatch, truncated header or index. See FormatError.
	ErrFormat = errors.New("format error")

	// ErrPrecondition classifies calls the store's state does not allow. See PreconditionError.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound is returned when a UID, IID, library or placement has no mapping.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when clear-range bounds violate ordering or read length.
	ErrInvalidRange = errors.New("invalid clear range")

	// ErrNotInPartition is returned when an IID is not a member of an opened partition.
	ErrNotInPartition = errors.New("not in partition")

	// ErrInvalidArgument is returned for malformed arguments (oversized names, bad tags, ...).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned when using a closed store or partition view.
	ErrClosed = errors.New("store closed")

	// ErrMemoryLimitExceeded is returned when loading a substore into memory
	// would exceed WithMemoryLimit.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded

	// ErrReadOnly is returned when mutating a store opened read-only.
	ErrReadOnly = &PreconditionError{Reason: "store is read-only"}
)

// IOError reports a failed file operation. It always names the path and
// carries the underlying OS error.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("gkstore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// FormatError reports a store that is corrupt or written by an incompatible
// version. It is never partially accepted.
type FormatError struct {
	Path   string
	Reason string
	// Details lists individual mismatches, e.g. per-record element sizes.
	Details []string
	// Hint tells the caller how to recover, if there is a known procedure.
	Hint string
	Err  error
}

func (e *FormatError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gkstore: %s: %s", e.Path, e.Reason)
	for _, d := range e.Details {
		b.WriteString("; ")
		b.WriteString(d)
	}
	if e.Hint != "" {
		b.WriteString(". ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFormat, e.Err}
	}
	return []error{ErrFormat}
}

// PreconditionError reports an operation the store's state does not allow,
// such as creating over an existing store or opening a missing one.
type PreconditionError struct {
	Path   string
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Path == "" {
		return "gkstore: " + e.Reason
	}
	return fmt.Sprintf("gkstore: %s: %s", e.Path, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// RangeError reports an invalid clear range.
type RangeError struct {
	IID    IID
	Tag    ClearTag
	Begin  uint32
	End    uint32
	Length uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("gkstore: clear range %s [%d,%d) invalid for iid %d of length %d",
		e.Tag, e.Begin, e.End, e.IID, e.Length)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

func preconditionf(path, format string, args ...any) error {
	return &PreconditionError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func readOnly(path string) error {
	return fmt.Errorf("%w: %s", ErrReadOnly, path)
}

// wrapIO classifies err from a file-level operation on path. Corruption
// detected by the substore or codec layer becomes a FormatError; everything
// else is an IOError.
func wrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, recordfile.ErrCorrupt) ||
		errors.Is(err, recordfile.ErrOutOfRange) ||
		errors.Is(err, codec.ErrCorrupt) ||
		errors.Is(err, codec.ErrBadMagic) ||
		errors.Is(err, codec.ErrBadVersion) ||
		errors.Is(err, codec.ErrUnknownCompression) {
		return &FormatError{Path: path, Reason: op + ": " + err.Error(), Err: err}
	}
	return &IOError{Op: op, Path: path, Err: err}
}
