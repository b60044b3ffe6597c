package recordfile

// Promote returns a memory-resident copy of f and releases f's backend.
// f must not be used afterwards. A writable file keeps its descriptor so
// the copy can be written back on Close; a file already in memory is
// returned unchanged.
func Promote(f *File) (*File, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if f.residency == Memory {
		return f, nil
	}

	mem := make([]byte, f.DataSize())
	if err := f.ReadAt(mem, 0); err != nil {
		return nil, err
	}

	m := &File{
		path:       f.path,
		mode:       f.mode,
		recordSize: f.recordSize,
		n:          f.n,
		residency:  Memory,
		mem:        mem,
	}

	if f.mode == ReadWrite {
		m.file = f.file
		f.file = nil
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return m, nil
}
