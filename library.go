package gkstore

import "fmt"

// NumLibraries returns the number of libraries.
func (s *Store) NumLibraries() uint32 {
	if f := s.subs.get(subLibrary); f != nil {
		return uint32(f.Len())
	}
	return 0
}

// AddLibrary appends lib and returns its id. Ids start at 1.
func (s *Store) AddLibrary(lib *Library) (LibraryID, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	rec, err := encodeLibrary(lib)
	if err != nil {
		return 0, err
	}
	f := s.subs.get(subLibrary)
	idx, err := f.Append(rec)
	if err != nil {
		return 0, wrapIO("write", f.Path(), err)
	}
	return LibraryID(idx + 1), nil
}

// Library returns library id. Id 0 is the empty library every read
// without one belongs to.
func (s *Store) Library(id LibraryID) (Library, error) {
	if err := s.checkOpen(); err != nil {
		return Library{}, err
	}
	return readLibrary(s.subs.get(subLibrary), id)
}

// SetLibrary replaces library id.
func (s *Store) SetLibrary(id LibraryID, lib *Library) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if id == 0 || uint32(id) > s.NumLibraries() {
		return fmt.Errorf("%w: library %d, store has %d", ErrNotFound, id, s.NumLibraries())
	}
	rec, err := encodeLibrary(lib)
	if err != nil {
		return err
	}
	f := s.subs.get(subLibrary)
	if err := f.WriteRecord(uint64(id-1), rec); err != nil {
		return wrapIO("write", f.Path(), err)
	}
	return nil
}
