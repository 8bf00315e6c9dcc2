// Package sampler draws account pairs and transfer amounts.
//
// The Zipf table is built once and never written again, so a single Sampler
// is shared by every worker. Each worker brings its own *rand.Rand.
package sampler

import (
	"math"
	"math/rand/v2"
	"sort"

	"xferbench/internal/runerr"
)

// Zipf draws ranks 1..n with probability proportional to rank^-s.
// s = 0 is uniform.
type Zipf struct {
	cdf []float64
}

func NewZipf(n int, s float64) (*Zipf, error) {
	if n < 1 {
		return nil, runerr.Configf("zipf: key space must be >= 1, got %d", n)
	}
	if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return nil, runerr.Configf("zipf: exponent must be finite and >= 0, got %g", s)
	}
	cdf := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += math.Pow(float64(i+1), -s)
		cdf[i] = sum
	}
	for i := range cdf {
		cdf[i] /= sum
	}
	cdf[n-1] = 1
	return &Zipf{cdf: cdf}, nil
}

func (z *Zipf) N() int { return len(z.cdf) }

// Index returns rank-1, i.e. a value in [0, n).
func (z *Zipf) Index(rng *rand.Rand) int {
	return z.indexFor(rng.Float64())
}

// indexFor maps u in [0, 1) onto the table. Index i owns [cdf[i-1], cdf[i]),
// so the answer is the first entry strictly above u.
func (z *Zipf) indexFor(u float64) int {
	i := sort.Search(len(z.cdf), func(i int) bool { return z.cdf[i] > u })
	if i >= len(z.cdf) {
		i = len(z.cdf) - 1
	}
	return i
}

// Probability returns the probability of index i.
func (z *Zipf) Probability(i int) float64 {
	if i == 0 {
		return z.cdf[0]
	}
	return z.cdf[i] - z.cdf[i-1]
}
