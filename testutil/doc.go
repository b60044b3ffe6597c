// Package testutil provides testing utilities for gkstore.
//
// This package is intended for use in tests and benchmarks only.
// It generates reproducible synthetic sequencing data.
//
// # Random Reads
//
//	rng := testutil.NewRNG(seed)
//	seq := rng.Sequence(120)  // bases from ACGT
//	qlt := rng.Quality(120)   // phred+'0' quality values
//
// # Read Length Mixes
//
//	lengths := rng.ReadLengths(1000, 30, 800)
package testutil
