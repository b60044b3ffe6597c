package gkstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/gkstore/internal/codec"
	"github.com/hupe1980/gkstore/internal/fs"
)

const (
	f2pName    = "f2p"
	f2pMagic   = 0x50464B47 // "GKFP"
	f2pVersion = 1
)

func f2pPath(dir string) string { return filepath.Join(dir, f2pName) }

// loadPlacements restores the IID to placement-record map, from f2p when
// it matches the placement store and by scanning the store otherwise.
func (s *Store) loadPlacements() error {
	plc := s.subs.get(subPlacement)
	m, ok, err := loadF2P(s.opts.fs, f2pPath(s.path), plc.Len())
	if err != nil {
		s.logger.Warn("ignoring unreadable placement index", "file", f2pPath(s.path), "error", err)
	}
	if ok {
		s.placements = m
		return nil
	}

	m = make(map[IID]uint32, plc.Len())
	buf := make([]byte, PlacementRecordSize)
	for i := uint64(0); i < plc.Len(); i++ {
		if err := plc.ReadRecord(i, buf); err != nil {
			return wrapIO("read", plc.Path(), err)
		}
		m[decodePlacement(buf).IID] = uint32(i)
	}
	s.placements = m
	s.placementsDirty = true
	return nil
}

func loadF2P(fsys fs.FileSystem, path string, plcLen uint64) (map[IID]uint32, bool, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	payload, err := codec.ReadFrame(f, f2pMagic, f2pVersion)
	if err != nil {
		return nil, false, err
	}
	if len(payload) < 12 {
		return nil, false, fmt.Errorf("%w: short f2p payload", codec.ErrCorrupt)
	}
	if binary.LittleEndian.Uint64(payload) != plcLen {
		return nil, false, nil
	}
	count := binary.LittleEndian.Uint32(payload[8:])
	entries := payload[12:]
	if uint64(len(entries)) != uint64(count)*8 {
		return nil, false, fmt.Errorf("%w: f2p has %d bytes for %d entries", codec.ErrCorrupt, len(entries), count)
	}
	m := make(map[IID]uint32, count)
	for i := 0; i < int(count); i++ {
		m[IID(binary.LittleEndian.Uint32(entries[8*i:]))] = binary.LittleEndian.Uint32(entries[8*i+4:])
	}
	return m, true, nil
}

func saveF2P(fsys fs.FileSystem, path string, m map[IID]uint32, plcLen uint64, c Compression) error {
	payload := binary.LittleEndian.AppendUint64(nil, plcLen)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(m)))
	for iid, idx := range m {
		payload = binary.LittleEndian.AppendUint32(payload, uint32(iid))
		payload = binary.LittleEndian.AppendUint32(payload, idx)
	}
	var buf bytes.Buffer
	if err := codec.WriteFrame(&buf, f2pMagic, f2pVersion, payload, c); err != nil {
		return err
	}
	return fs.WriteFile(fsys, path, buf.Bytes(), filePerm)
}

// AddPlacement records a placement constraint for p.IID, replacing any
// earlier one. All three reads must exist.
func (s *Store) AddPlacement(p *Placement) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	for _, iid := range []IID{p.IID, p.BoundBegin, p.BoundEnd} {
		if _, _, err := s.Locate(iid); err != nil {
			return err
		}
	}
	plc := s.subs.get(subPlacement)
	rec := encodePlacement(p)
	if idx, ok := s.placements[p.IID]; ok {
		if err := plc.WriteRecord(uint64(idx), rec); err != nil {
			return wrapIO("write", plc.Path(), err)
		}
		return nil
	}
	idx, err := plc.Append(rec)
	if err != nil {
		return wrapIO("write", plc.Path(), err)
	}
	s.placements[p.IID] = uint32(idx)
	s.placementsDirty = true
	return nil
}

// Placement returns the placement constraint of iid.
func (s *Store) Placement(iid IID) (Placement, error) {
	if err := s.checkOpen(); err != nil {
		return Placement{}, err
	}
	idx, ok := s.placements[iid]
	if !ok {
		return Placement{}, fmt.Errorf("%w: no placement for iid %d", ErrNotFound, iid)
	}
	plc := s.subs.get(subPlacement)
	buf := make([]byte, PlacementRecordSize)
	if err := plc.ReadRecord(uint64(idx), buf); err != nil {
		return Placement{}, wrapIO("read", plc.Path(), err)
	}
	return decodePlacement(buf), nil
}

// NumPlacements returns the number of reads with a placement constraint.
func (s *Store) NumPlacements() int { return len(s.placements) }
