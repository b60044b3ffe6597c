// Package mmap provides read-only memory-mapped file access.
//
// Substores that a store opens read-only (sequence, quality and name data, and
// every substore of a read-only opener) are mapped instead of read through
// positional I/O:
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()           // zero-copy view
//	_ = m.Advise(mmap.AccessRandom)
//
// Unix uses mmap(2) and madvise(2); Windows uses CreateFileMapping and
// MapViewOfFile, where Advise is a no-op.
//
// A Mapping is safe for concurrent reads. Close is idempotent, but callers
// must not touch Bytes() after Close returns.
package mmap
