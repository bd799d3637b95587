package optimization

import (
	"math"
	"math/rand"
	"time"
)

// RNG is the single randomness source carried through every algorithm.
// Each optimizer instance owns exactly one stream, so a fixed seed makes an
// entire run reproducible. A zero seed falls back to the wall clock.
type RNG struct {
	src  *rand.Rand
	seed int64
}

// NewRNG creates a seeded generator. Seed 0 selects a time-based seed.
func NewRNG(seed int64) *RNG {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RNG{src: rand.New(rand.NewSource(seed)), seed: seed}
}

// Seed returns the effective seed, useful for reporting and replay.
func (r *RNG) Seed() int64 { return r.seed }

// Float64 returns a uniform draw in [0, 1).
func (r *RNG) Float64() float64 { return r.src.Float64() }

// Intn returns a uniform draw in [0, n).
func (r *RNG) Intn(n int) int { return r.src.Intn(n) }

// NormFloat64 returns a standard normal draw.
func (r *RNG) NormFloat64() float64 { return r.src.NormFloat64() }

// CauchyFloat64 returns a standard Cauchy draw via the inverse CDF, keeping
// the draw on the same stream as every other operator.
func (r *RNG) CauchyFloat64() float64 {
	return math.Tan(math.Pi * (r.src.Float64() - 0.5))
}

// Perm returns a random permutation of [0, n).
func (r *RNG) Perm(n int) []int { return r.src.Perm(n) }

// Shuffle randomizes the order of n elements.
func (r *RNG) Shuffle(n int, swap func(i, j int)) { r.src.Shuffle(n, swap) }
