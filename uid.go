package gkstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hupe1980/gkstore/internal/codec"
	"github.com/hupe1980/gkstore/internal/fs"
	"github.com/hupe1980/gkstore/internal/recordfile"
)

const (
	u2iName    = "u2i"
	u2iMagic   = 0x49554B47 // "GKUI"
	u2iVersion = 1

	uidEntryHeaderSize = 7
	maxUIDStringLength = math.MaxUint16
)

type uidKind uint8

const (
	uidNone uidKind = iota
	uidNumeric
	uidString
)

// UID is the external identifier of a read: a number or a string. The
// zero UID means "none". UIDs are comparable and usable as map keys.
type UID struct {
	kind uidKind
	num  uint64
	str  string
}

// NumericUID returns a numeric UID.
func NumericUID(n uint64) UID { return UID{kind: uidNumeric, num: n} }

// StringUID returns a string UID. The empty string is the zero UID.
func StringUID(s string) UID {
	if s == "" {
		return UID{}
	}
	return UID{kind: uidString, str: s}
}

// ParseUID returns a numeric UID if s is a decimal number, a string UID otherwise.
func ParseUID(s string) UID {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return NumericUID(n)
	}
	return StringUID(s)
}

// IsZero reports whether u is the "no UID" value.
func (u UID) IsZero() bool { return u.kind == uidNone }

// Uint64 returns the numeric value of a numeric UID.
func (u UID) Uint64() (uint64, bool) { return u.num, u.kind == uidNumeric }

func (u UID) String() string {
	switch u.kind {
	case uidNumeric:
		return strconv.FormatUint(u.num, 10)
	case uidString:
		return u.str
	}
	return ""
}

func (u UID) appendBinary(b []byte) []byte {
	b = append(b, byte(u.kind))
	switch u.kind {
	case uidNumeric:
		b = binary.LittleEndian.AppendUint16(b, 8)
		b = binary.LittleEndian.AppendUint64(b, u.num)
	default:
		b = binary.LittleEndian.AppendUint16(b, uint16(len(u.str)))
		b = append(b, u.str...)
	}
	return b
}

// decodeUID decodes kind, length and value; it returns the bytes consumed.
func decodeUID(b []byte) (UID, int, error) {
	if len(b) < 3 {
		return UID{}, 0, errors.New("short uid entry")
	}
	kind := uidKind(b[0])
	n := int(binary.LittleEndian.Uint16(b[1:]))
	if len(b) < 3+n {
		return UID{}, 0, errors.New("short uid entry")
	}
	v := b[3 : 3+n]
	switch kind {
	case uidNumeric:
		if n != 8 {
			return UID{}, 0, fmt.Errorf("numeric uid of %d bytes", n)
		}
		return NumericUID(binary.LittleEndian.Uint64(v)), 3 + n, nil
	case uidString:
		if n == 0 {
			return UID{}, 0, errors.New("empty string uid")
		}
		return StringUID(string(v)), 3 + n, nil
	}
	return UID{}, 0, fmt.Errorf("unknown uid kind %d", kind)
}

// uidIndex resolves UIDs to IIDs. It is built once, from the persisted
// u2i file when that is current, otherwise by scanning the uid store.
type uidIndex struct {
	byUID map[UID]IID
	built bool
	// dirty means byUID differs from the persisted u2i file.
	dirty bool
}

// appendUIDEntry writes an iid/uid entry to the uid store and returns its offset.
func appendUIDEntry(f *recordfile.File, iid IID, uid UID) (uint64, error) {
	if uid.kind == uidString && len(uid.str) > maxUIDStringLength {
		return 0, fmt.Errorf("%w: uid longer than %d bytes", ErrInvalidArgument, maxUIDStringLength)
	}
	b := binary.LittleEndian.AppendUint32(nil, uint32(iid))
	b = uid.appendBinary(b)
	return f.Append(b)
}

// readUIDEntry reads the entry at off.
func readUIDEntry(f *recordfile.File, off uint64) (IID, UID, int, error) {
	var hdr [uidEntryHeaderSize]byte
	if err := f.ReadAt(hdr[:], int64(off)); err != nil {
		return 0, UID{}, 0, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[5:]))
	entry := make([]byte, uidEntryHeaderSize+n)
	copy(entry, hdr[:])
	if err := f.ReadAt(entry[uidEntryHeaderSize:], int64(off)+uidEntryHeaderSize); err != nil {
		return 0, UID{}, 0, err
	}
	uid, _, err := decodeUID(entry[4:])
	if err != nil {
		return 0, UID{}, 0, fmt.Errorf("%w: uid entry at %d: %v", recordfile.ErrCorrupt, off, err)
	}
	return IID(binary.LittleEndian.Uint32(entry)), uid, len(entry), nil
}

// scanUIDs rebuilds the index from the entries of the uid store. Entries
// that owns rejects are skipped.
func scanUIDs(f *recordfile.File, owns func(iid IID, off uint64) (bool, error)) (map[UID]IID, error) {
	m := make(map[UID]IID)
	for off := uint64(0); off < f.Len(); {
		iid, uid, n, err := readUIDEntry(f, off)
		if err != nil {
			return nil, err
		}
		ok, err := owns(iid, off)
		if err != nil {
			return nil, err
		}
		if ok {
			m[uid] = iid
		}
		off += uint64(n)
	}
	return m, nil
}

// ownsUIDEntry reports whether the fragment of iid points at the uid entry
// at off. Entries written by a failed AddRead belong to no fragment.
func (s *Store) ownsUIDEntry(iid IID, off uint64) (bool, error) {
	t, local, ok := s.index.lookup(iid)
	if !ok {
		return false, nil
	}
	frag, err := s.source().fragment(t, local)
	if err != nil {
		return false, err
	}
	return frag.uidOffset == off, nil
}

func u2iPath(dir string) string { return filepath.Join(dir, u2iName) }

// loadU2I reads the persisted index. It reports ok=false, without error,
// when the file is missing or was written for a different uid store.
func loadU2I(fsys fs.FileSystem, path string, uidStoreLen uint64) (map[UID]IID, bool, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	payload, err := codec.ReadFrame(f, u2iMagic, u2iVersion)
	if err != nil {
		return nil, false, err
	}
	if len(payload) < 12 {
		return nil, false, fmt.Errorf("%w: short u2i payload", codec.ErrCorrupt)
	}
	if binary.LittleEndian.Uint64(payload) != uidStoreLen {
		return nil, false, nil
	}
	count := binary.LittleEndian.Uint32(payload[8:])
	m := make(map[UID]IID, count)
	b := payload[12:]
	for i := uint32(0); i < count; i++ {
		uid, n, err := decodeUID(b)
		if err != nil || len(b) < n+4 {
			return nil, false, fmt.Errorf("%w: u2i entry %d", codec.ErrCorrupt, i)
		}
		m[uid] = IID(binary.LittleEndian.Uint32(b[n:]))
		b = b[n+4:]
	}
	if len(b) != 0 {
		return nil, false, fmt.Errorf("%w: trailing u2i data", codec.ErrCorrupt)
	}
	return m, true, nil
}

func saveU2I(fsys fs.FileSystem, path string, m map[UID]IID, uidStoreLen uint64, c Compression) error {
	payload := binary.LittleEndian.AppendUint64(nil, uidStoreLen)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(m)))
	for uid, iid := range m {
		payload = uid.appendBinary(payload)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(iid))
	}
	var buf bytes.Buffer
	if err := codec.WriteFrame(&buf, u2iMagic, u2iVersion, payload, c); err != nil {
		return err
	}
	return fs.WriteFile(fsys, path, buf.Bytes(), filePerm)
}

// ensureUIDs builds the UID index on first use.
func (s *Store) ensureUIDs() error {
	if s.uids.built {
		return nil
	}
	f := s.subs.get(subUID)
	path := u2iPath(s.path)
	m, ok, err := loadU2I(s.opts.fs, path, f.Len())
	if err != nil {
		s.logger.Warn("ignoring unreadable uid index", "file", path, "error", err)
	}
	if !ok {
		if err := s.ensureIndex(); err != nil {
			return err
		}
		if m, err = scanUIDs(f, s.ownsUIDEntry); err != nil {
			var fe *FormatError
			if errors.As(err, &fe) {
				return err
			}
			return wrapIO("scan", f.Path(), err)
		}
		s.uids.dirty = true
		s.logger.Debug("uid index rebuilt", "uids", len(m))
	}
	s.uids.byUID = m
	s.uids.built = true
	return nil
}

// ResolveUID returns the IID of the read with the given UID.
func (s *Store) ResolveUID(uid UID) (IID, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if s.opts.skipUIDs {
		return 0, preconditionf(s.path, "store was opened without the uid index")
	}
	if err := s.ensureUIDs(); err != nil {
		return 0, err
	}
	iid, ok := s.uids.byUID[uid]
	if !ok {
		return 0, fmt.Errorf("%w: uid %s", ErrNotFound, uid)
	}
	return iid, nil
}

// UID returns the UID of iid, or the zero UID if it was stored without one.
func (s *Store) UID(iid IID) (UID, error) {
	frag, err := s.Fragment(iid)
	if err != nil {
		return UID{}, err
	}
	return s.source().uid(frag)
}
