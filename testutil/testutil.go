package testutil

import (
	"math/rand"
	"sync"
)

const bases = "ACGT"

// MaxQuality is the highest quality value Quality emits, before the '0' offset.
const MaxQuality = 60

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random 64-bit value.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Sequence returns n random bases.
func (r *RNG) Sequence(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := make([]byte, n)
	for i := range seq {
		seq[i] = bases[r.rand.Intn(len(bases))]
	}
	return seq
}

// Quality returns n random quality values encoded as '0'+phred.
func (r *RNG) Quality(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	qlt := make([]byte, n)
	for i := range qlt {
		qlt[i] = '0' + byte(r.rand.Intn(MaxQuality+1))
	}
	return qlt
}

// ReadLengths returns num lengths drawn uniformly from [minLen, maxLen].
func (r *RNG) ReadLengths(num, minLen, maxLen int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, num)
	for i := range out {
		out[i] = minLen + r.rand.Intn(maxLen-minLen+1)
	}
	return out
}

// Subset returns each of 1..n with probability p, in ascending order.
func (r *RNG) Subset(n int, p float64) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint32
	for i := 1; i <= n; i++ {
		if r.rand.Float64() < p {
			out = append(out, uint32(i))
		}
	}
	return out
}
