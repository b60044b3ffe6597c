package gkstore

import (
	"encoding/binary"
	"fmt"
)

// identifierEntrySize is the persisted size of one index entry: a type
// byte plus a 32-bit local index.
const identifierEntrySize = 5

// identifierIndex maps an IID to its variant and its index inside that
// variant's fragment substore. Entry 0 is the reserved IID and stays zero.
type identifierIndex struct {
	typeOf       []FragType
	localIndexOf []uint32
}

func newIdentifierIndex(capacity int) *identifierIndex {
	x := &identifierIndex{
		typeOf:       make([]FragType, 1, capacity+1),
		localIndexOf: make([]uint32, 1, capacity+1),
	}
	return x
}

// len returns the number of assigned IIDs.
func (x *identifierIndex) len() uint32 { return uint32(len(x.typeOf) - 1) }

// assign records iid as local index tiid of variant t. IIDs are dense, so
// iid must be exactly one past the last assigned IID.
func (x *identifierIndex) assign(iid IID, t FragType, tiid uint32) error {
	if !t.Valid() {
		return fmt.Errorf("%w: fragment type %d", ErrInvalidArgument, t)
	}
	if want := IID(len(x.typeOf)); iid != want {
		return fmt.Errorf("%w: iid %d assigned out of order, next is %d", ErrInvalidArgument, iid, want)
	}
	x.typeOf = append(x.typeOf, t)
	x.localIndexOf = append(x.localIndexOf, tiid)
	return nil
}

func (x *identifierIndex) lookup(iid IID) (FragType, uint32, bool) {
	if iid == 0 || int(iid) >= len(x.typeOf) {
		return 0, 0, false
	}
	return x.typeOf[iid], x.localIndexOf[iid], true
}

// marshal lays out all type bytes, then all local indices, entry 0 first.
func (x *identifierIndex) marshal() []byte {
	n := len(x.typeOf)
	b := make([]byte, n*identifierEntrySize)
	for i, t := range x.typeOf {
		b[i] = byte(t)
	}
	locals := b[n:]
	for i, l := range x.localIndexOf {
		binary.LittleEndian.PutUint32(locals[4*i:], l)
	}
	return b
}

// unmarshalIdentifierIndex decodes arrays sized for h's read counts and
// checks every entry against them.
func unmarshalIdentifierIndex(b []byte, h *Header) (*identifierIndex, error) {
	n := int(h.NumReads()) + 1
	if len(b) != n*identifierEntrySize {
		return nil, fmt.Errorf("identifier index is %d bytes, want %d", len(b), n*identifierEntrySize)
	}
	x := &identifierIndex{
		typeOf:       make([]FragType, n),
		localIndexOf: make([]uint32, n),
	}
	locals := b[n:]
	var seen [numFragTypes + 1]uint32
	for i := 0; i < n; i++ {
		t := FragType(b[i])
		l := binary.LittleEndian.Uint32(locals[4*i:])
		if i == 0 {
			if t != 0 || l != 0 {
				return nil, fmt.Errorf("reserved iid 0 is mapped to %s/%d", t, l)
			}
			continue
		}
		if !t.Valid() {
			return nil, fmt.Errorf("iid %d has invalid type %d", i, b[i])
		}
		if l >= *h.count(t) {
			return nil, fmt.Errorf("iid %d maps to %s index %d, store has %d", i, t, l, *h.count(t))
		}
		seen[t]++
		x.typeOf[i] = t
		x.localIndexOf[i] = l
	}
	for _, t := range []FragType{FragPacked, FragNormal, FragStrobe} {
		if seen[t] != *h.count(t) {
			return nil, fmt.Errorf("identifier index has %d %s reads, header has %d", seen[t], t, *h.count(t))
		}
	}
	return x, nil
}
