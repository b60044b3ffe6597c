package recordfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/internal/mmap"
)

const (
	magic      uint32 = 0x46524B47 // "GKRF"
	version    uint32 = 1
	headerSize        = 16

	filePerm os.FileMode = 0o644
)

var (
	// ErrExists is returned by Create when the path already exists.
	ErrExists = fmt.Errorf("recordfile: %w", os.ErrExist)
	// ErrReadOnly is returned when writing to a file opened read-only.
	ErrReadOnly = errors.New("recordfile: read-only")
	// ErrOutOfRange is returned for an index or offset past the end.
	ErrOutOfRange = errors.New("recordfile: out of range")
	// ErrCorrupt is returned when the header or file length is invalid.
	ErrCorrupt = errors.New("recordfile: corrupt")
	// ErrClosed is returned when using a closed file.
	ErrClosed = errors.New("recordfile: closed")
	// ErrRecordSize is returned when a buffer is not a whole number of records.
	ErrRecordSize = errors.New("recordfile: bad record size")
)

// Mode selects read-only or writable access.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "rw"
	}
	return "r"
}

// Residency reports which backend serves a File.
type Residency int

const (
	Disk Residency = iota
	Mapped
	Memory
)

func (r Residency) String() string {
	switch r {
	case Mapped:
		return "mapped"
	case Memory:
		return "memory"
	default:
		return "disk"
	}
}

// Options configures how files are opened.
type Options struct {
	// FS is the filesystem to use; nil means fs.Default.
	FS fs.FileSystem
	// Mmap maps read-only files when FS is the local filesystem.
	Mmap bool
}

func (o Options) fs() fs.FileSystem {
	if o.FS == nil {
		return fs.Default
	}
	return o.FS
}

// File is a fixed-record-size substore.
type File struct {
	path       string
	mode       Mode
	recordSize int
	n          uint64
	residency  Residency

	file    fs.File       // Disk, and the write-back target of a writable Memory file
	mapping *mmap.Mapping // Mapped
	mem     []byte        // Memory; record area only
	dirty   bool
	closed  bool
}

// Create creates an empty file. It fails with ErrExists if path exists.
func Create(path string, recordSize int, opts Options) (*File, error) {
	if recordSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrRecordSize, recordSize)
	}
	f, err := opts.fs().OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrExists
		}
		return nil, err
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], uint32(recordSize))
	if _, err := f.WriteAt(header[:], 0); err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		path:       path,
		mode:       ReadWrite,
		recordSize: recordSize,
		residency:  Disk,
		file:       f,
	}, nil
}

// Open opens an existing file.
func Open(path string, mode Mode, opts Options) (*File, error) {
	fsys := opts.fs()
	if _, local := fsys.(fs.LocalFS); mode == ReadOnly && opts.Mmap && local {
		return openMapped(path)
	}

	flag := os.O_RDONLY
	if mode == ReadWrite {
		flag = os.O_RDWR
	}
	f, err := fsys.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	var header [headerSize]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
		}
		return nil, err
	}
	recordSize, n, err := parseHeader(header[:], fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		path:       path,
		mode:       mode,
		recordSize: recordSize,
		n:          n,
		residency:  Disk,
		file:       f,
	}, nil
}

func openMapped(path string) (*File, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	data := m.Bytes()
	if len(data) < headerSize {
		m.Close()
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	recordSize, n, err := parseHeader(data[:headerSize], int64(len(data)))
	if err != nil {
		m.Close()
		return nil, err
	}
	_ = m.Advise(mmap.AccessRandom)

	return &File{
		path:       path,
		mode:       ReadOnly,
		recordSize: recordSize,
		n:          n,
		residency:  Mapped,
		mapping:    m,
	}, nil
}

func parseHeader(header []byte, size int64) (int, uint64, error) {
	if m := binary.LittleEndian.Uint32(header[0:4]); m != magic {
		return 0, 0, fmt.Errorf("%w: invalid magic %#x", ErrCorrupt, m)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != version {
		return 0, 0, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	recordSize := int(binary.LittleEndian.Uint32(header[8:12]))
	if recordSize <= 0 {
		return 0, 0, fmt.Errorf("%w: record size %d", ErrCorrupt, recordSize)
	}
	body := size - headerSize
	if body%int64(recordSize) != 0 {
		return 0, 0, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, body%int64(recordSize))
	}
	return recordSize, uint64(body / int64(recordSize)), nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Mode returns the access mode.
func (f *File) Mode() Mode { return f.mode }

// RecordSize returns the size of one record in bytes.
func (f *File) RecordSize() int { return f.recordSize }

// Len returns the number of records.
func (f *File) Len() uint64 { return f.n }

// Residency reports the backend serving reads.
func (f *File) Residency() Residency { return f.residency }

// Size returns the file size in bytes, header included.
func (f *File) Size() int64 { return headerSize + int64(f.n)*int64(f.recordSize) }

// DataSize returns the size of the record area in bytes.
func (f *File) DataSize() int64 { return int64(f.n) * int64(f.recordSize) }

// ReadRecord reads record idx into dst, which must hold at least one record.
func (f *File) ReadRecord(idx uint64, dst []byte) error {
	if len(dst) < f.recordSize {
		return fmt.Errorf("%w: buffer %d < record %d", ErrRecordSize, len(dst), f.recordSize)
	}
	if idx >= f.n {
		return fmt.Errorf("%w: record %d of %d", ErrOutOfRange, idx, f.n)
	}
	return f.ReadAt(dst[:f.recordSize], int64(idx)*int64(f.recordSize))
}

// ReadAt fills p from byte offset off of the record area.
// Unlike io.ReaderAt it never returns a short read: the range must be in bounds.
func (f *File) ReadAt(p []byte, off int64) error {
	if f.closed {
		return ErrClosed
	}
	if off < 0 || off+int64(len(p)) > f.DataSize() {
		return fmt.Errorf("%w: [%d,%d) of %d bytes", ErrOutOfRange, off, off+int64(len(p)), f.DataSize())
	}
	if len(p) == 0 {
		return nil
	}

	switch f.residency {
	case Memory:
		copy(p, f.mem[off:])
		return nil
	case Mapped:
		copy(p, f.mapping.Bytes()[headerSize+off:])
		return nil
	default:
		n, err := f.file.ReadAt(p, headerSize+off)
		if n == len(p) {
			return nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: short read", ErrCorrupt)
		}
		return err
	}
}

// WriteRecord writes record idx. idx == Len() appends.
func (f *File) WriteRecord(idx uint64, src []byte) error {
	if len(src) != f.recordSize {
		return fmt.Errorf("%w: buffer %d != record %d", ErrRecordSize, len(src), f.recordSize)
	}
	if idx > f.n {
		return fmt.Errorf("%w: record %d of %d", ErrOutOfRange, idx, f.n)
	}
	return f.write(src, int64(idx)*int64(f.recordSize))
}

// Append writes whole records at the end and returns the index of the first.
func (f *File) Append(p []byte) (uint64, error) {
	if len(p)%f.recordSize != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrRecordSize, len(p), f.recordSize)
	}
	first := f.n
	if err := f.write(p, f.DataSize()); err != nil {
		return 0, err
	}
	return first, nil
}

func (f *File) write(p []byte, off int64) error {
	if f.closed {
		return ErrClosed
	}
	if f.mode != ReadWrite {
		return ErrReadOnly
	}

	end := off + int64(len(p))
	switch f.residency {
	case Memory:
		if end > int64(len(f.mem)) {
			f.mem = append(f.mem, make([]byte, end-int64(len(f.mem)))...)
		}
		copy(f.mem[off:], p)
		f.dirty = true
	default:
		if _, err := f.file.WriteAt(p, headerSize+off); err != nil {
			return err
		}
	}

	if n := uint64(end / int64(f.recordSize)); n > f.n {
		f.n = n
	}
	return nil
}

// Sync flushes a disk-backed writable file.
func (f *File) Sync() error {
	if f.closed {
		return ErrClosed
	}
	if f.mode != ReadWrite || f.residency != Disk {
		return nil
	}
	return f.file.Sync()
}

// Close releases the file. Writable memory-resident contents are written
// back first. Close is idempotent and safe on a nil *File.
func (f *File) Close() error {
	if f == nil || f.closed {
		return nil
	}
	f.closed = true

	var firstErr error
	if f.residency == Memory && f.mode == ReadWrite && f.dirty {
		if _, err := f.file.WriteAt(f.mem, headerSize); err != nil {
			firstErr = err
		}
	}
	if f.mode == ReadWrite && f.file != nil && firstErr == nil {
		if err := f.file.Sync(); err != nil {
			firstErr = err
		}
	}
	if f.file != nil {
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.file = nil
	}
	if f.mapping != nil {
		if err := f.mapping.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.mapping = nil
	}
	f.mem = nil
	return firstErr
}
