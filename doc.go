// Package gkstore implements the gatekeeper store: the on-disk database of
// sequencing reads, libraries, placement constraints and clear ranges that
// every stage of a genome assembler reads from.
//
// # Layout
//
// A store is a directory. The "inf" file holds a fixed-size Header followed
// by the identifier index. Each other concern lives in its own substore:
//
//	fpk qpk            packed fragments and their fixed-size seq/qlt slots
//	fnm snm qnm        normal fragments, sequence stream, quality stream
//	fsb ssb qsb        strobe fragments, sequence stream, quality stream
//	lib uid plc        libraries, UID entries, placement constraints
//	u2i f2p            persisted UID and placement lookup indices
//	clr-<TAG>          clear ranges of one trimming stage
//	<name>.NNN map.NNN materialized partition NNN
//
// # Lifecycle
//
// Create makes a new store; only then can reads be added:
//
//	s, _ := gkstore.Create("asm.gkpStore", 128)
//	lib, _ := s.AddLibrary(&gkstore.Library{Name: "frags"})
//	iid, _ := s.AddRead(&gkstore.Read{Library: lib, Seq: seq, Qlt: qlt})
//	_ = s.Close()
//
// Open reopens it read-only or writable. Writable stores may update
// libraries, mates, deletion flags, placements and clear ranges:
//
//	s, _ := gkstore.Open("asm.gkpStore", true)
//	_ = s.SetClearRange(iid, gkstore.ClearOBT, 5, 90)
//
// # Partitions
//
// MaterializePartitions copies disjoint subsets of reads into compact
// per-partition files. OpenPartition then answers lookups for those reads
// only, which keeps per-job working sets small:
//
//	_ = s.MaterializePartitions(ctx, map[uint32]*roaring.Bitmap{1: first, 2: second})
//	p, _ := gkstore.OpenPartition("asm.gkpStore", 1)
//	r, _ := p.Read(iid)
//
// # Errors
//
// Every error is classified by one of the sentinels ErrIO, ErrFormat,
// ErrPrecondition, ErrNotFound, ErrInvalidRange or ErrNotInPartition; use
// errors.Is to test and errors.As to reach IOError, FormatError,
// PreconditionError or RangeError.
package gkstore
