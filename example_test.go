package gkstore_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/gkstore"
)

// Example demonstrates creating a store, reopening it and reading a read back.
func Example() {
	tmp, err := os.MkdirTemp("", "gkstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmp)
	dir := filepath.Join(tmp, "asm.gkpStore")

	s, err := gkstore.Create(dir, 100)
	if err != nil {
		log.Fatal(err)
	}
	lib, _ := s.AddLibrary(&gkstore.Library{Name: "frags", Technology: gkstore.TechSanger})
	iid, err := s.AddRead(&gkstore.Read{
		UID:     gkstore.StringUID("FRAG_1"),
		Library: lib,
		Seq:     []byte("ACGTACGTAC"),
		Qlt:     []byte("5555566666"),
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Close(); err != nil {
		log.Fatal(err)
	}

	s, err = gkstore.Open(dir, false)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	r, _ := s.Read(iid)
	found, _ := s.ResolveUID(gkstore.StringUID("FRAG_1"))
	fmt.Println(r.IID, r.Type, string(r.Seq), found)
	// Output: 1 packed ACGTACGTAC 1
}

// Example_partitions demonstrates materializing a partition and reading from it.
func Example_partitions() {
	tmp, err := os.MkdirTemp("", "gkstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmp)
	dir := filepath.Join(tmp, "asm.gkpStore")

	s, err := gkstore.Create(dir, 4)
	if err != nil {
		log.Fatal(err)
	}
	for _, seq := range []string{"AC", "ACGTACGT", "GG"} {
		if _, err := s.AddRead(&gkstore.Read{Seq: []byte(seq), Qlt: []byte(seq)}); err != nil {
			log.Fatal(err)
		}
	}
	if err := s.MaterializePartition(context.Background(), 1, roaring.BitmapOf(2, 3)); err != nil {
		log.Fatal(err)
	}
	if err := s.Close(); err != nil {
		log.Fatal(err)
	}

	p, err := gkstore.OpenPartition(dir, 1)
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	r, _ := p.Read(2)
	_, err = p.Read(1)
	fmt.Println(p.Len(), string(r.Seq), err != nil)
	// Output: 2 ACGTACGT true
}
