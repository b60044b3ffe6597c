// Package recordfile implements the store's substore primitive: a file of
// fixed-size records with random access by index.
//
// # Format
//
//	Header (16 bytes):
//	  Magic      (4 bytes) - 0x46524B47 ("GKRF")
//	  Version    (4 bytes) - currently 1
//	  RecordSize (4 bytes)
//	  Reserved   (4 bytes)
//	Records:
//	  RecordSize bytes each, densely packed
//
// The record count is derived from the file size; a trailing partial record
// is reported as ErrCorrupt. Variable-length data (sequences, qualities,
// names) uses a record size of 1 and is addressed by byte offset.
//
// # Residency
//
// A File is served from one of three backends:
//
//   - Disk: positional reads and writes through an fs.File
//   - Mapped: read-only mmap of the whole file (local filesystem only)
//   - Memory: a private in-process copy produced by Promote; a writable
//     memory-resident file is written back on Close
//
// Reads behave identically across backends. Reads are safe for concurrent
// use; writes are not and must come from a single goroutine.
package recordfile
