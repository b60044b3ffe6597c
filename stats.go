package gkstore

import "github.com/hupe1980/gkstore/internal/recordfile"

// SubstoreStats describes one open substore.
type SubstoreStats struct {
	Name       string
	Records    uint64
	RecordSize int
	// Bytes is the on-disk size including the file header.
	Bytes     int64
	Residency string
	Writable  bool
}

// Stats summarizes an open store.
type Stats struct {
	Path       string
	Mode       Mode
	NumPacked  uint32
	NumNormal  uint32
	NumStrobe  uint32
	Libraries  uint32
	Placements int

	Substores []SubstoreStats
	// ClearRanges lists the clear-range tables that have a file.
	ClearRanges []SubstoreStats

	MetadataBytes int64
	ResidentBytes int64
	// MemoryLimit is the budget for resident substores, 0 if unlimited.
	MemoryLimit        int64
	MaterializeWorkers int
	MetadataCached     bool
	UIDIndexBuilt      bool
}

// Stats returns a snapshot of the store's contents and residency.
func (s *Store) Stats() (Stats, error) {
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}
	st := Stats{
		Path:               s.path,
		Mode:               s.mode,
		NumPacked:          s.header.NumPacked,
		NumNormal:          s.header.NumNormal,
		NumStrobe:          s.header.NumStrobe,
		Libraries:          s.NumLibraries(),
		Placements:         len(s.placements),
		MetadataBytes:      s.MetadataSize(),
		ResidentBytes:      s.rc.MemoryUsage(),
		MemoryLimit:        s.rc.MemoryLimit(),
		MaterializeWorkers: s.rc.MaxWorkers(),
		MetadataCached:     s.metadataCached,
		UIDIndexBuilt:      s.uids.built,
	}
	for id := substoreID(0); id < numSubstores; id++ {
		f := s.subs.get(id)
		if f == nil {
			continue
		}
		st.Substores = append(st.Substores, SubstoreStats{
			Name:       substoreDefs[id].name,
			Records:    f.Len(),
			RecordSize: f.RecordSize(),
			Bytes:      f.Size(),
			Residency:  f.Residency().String(),
			Writable:   f.Mode() == recordfile.ReadWrite,
		})
	}
	for tag := range s.clear {
		f := s.clear[tag].file
		if f == nil {
			continue
		}
		st.ClearRanges = append(st.ClearRanges, SubstoreStats{
			Name:       "clr-" + ClearTag(tag).String(),
			Records:    f.Len(),
			RecordSize: f.RecordSize(),
			Bytes:      f.Size(),
			Residency:  f.Residency().String(),
			Writable:   f.Mode() == recordfile.ReadWrite,
		})
	}
	return st, nil
}
