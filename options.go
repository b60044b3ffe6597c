package gkstore

import (
	"log/slog"

	"github.com/hupe1980/gkstore/internal/codec"
	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/internal/recordfile"
	"github.com/hupe1980/gkstore/internal/resource"
)

// Compression selects how persisted lookup indices (u2i, f2p, partition
// membership) are compressed.
type Compression = codec.Compression

const (
	CompressionNone = codec.None
	CompressionLZ4  = codec.LZ4
	CompressionZSTD = codec.ZSTD
)

type options struct {
	logger      *Logger
	fs          fs.FileSystem
	locking     bool
	mmap        bool
	compression Compression
	memoryLimit int64
	skipUIDs    bool
	workers     int
	ioLimit     int64
}

func defaultOptions() options {
	return options{
		logger:      NoopLogger(),
		fs:          fs.Default,
		locking:     true,
		mmap:        true,
		compression: CompressionZSTD,
		workers:     1,
	}
}

func applyOptions(optFns []Option) options {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

func (o *options) recordOptions() recordfile.Options {
	return recordfile.Options{FS: o.fs, Mmap: o.mmap}
}

func (o *options) controller() *resource.Controller {
	return resource.NewController(resource.Config{
		MemoryLimitBytes:   o.memoryLimit,
		MaxWorkers:         int64(o.workers),
		IOLimitBytesPerSec: o.ioLimit,
	})
}

// Option configures Create, Open and OpenPartition.
type Option func(*options)

// WithLogger configures structured logging for lifecycle events.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := gkstore.NewJSONLogger(slog.LevelInfo)
//	s, _ := gkstore.Open("asm.gkpStore", false, gkstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithLocking enables or disables the advisory single-writer lock taken by
// writable and creating openers. Enabled by default. When disabled, running
// two writers against one store is undefined.
func WithLocking(enabled bool) Option {
	return func(o *options) {
		o.locking = enabled
	}
}

// WithMmap controls whether read-only substores are memory-mapped.
// Enabled by default.
func WithMmap(enabled bool) Option {
	return func(o *options) {
		o.mmap = enabled
	}
}

// WithIndexCompression sets the compression for persisted lookup indices.
// Readers detect the compression per file, so stores written with different
// settings stay readable. Defaults to CompressionZSTD.
func WithIndexCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMemoryLimit caps the bytes held by memory-resident substores
// (library, placement, and fragment indices after EnableMetadataCaching).
// 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithSkipUIDs opens the store without the UID index. ResolveUID then fails
// with a precondition error; everything else works. Use it for consumers
// that never resolve UIDs.
func WithSkipUIDs() Option {
	return func(o *options) {
		o.skipUIDs = true
	}
}

// WithMaterializeWorkers bounds how many partitions MaterializePartitions
// writes concurrently. Values below 1 mean 1.
func WithMaterializeWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.workers = n
	}
}

// WithIOLimit throttles the bytes copied while materializing partitions.
// 0 means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// withFileSystem swaps the filesystem, for fault injection in tests.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}
