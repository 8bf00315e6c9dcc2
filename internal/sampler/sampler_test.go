package sampler

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xferbench/internal/runerr"
)

func TestUniformWhenExponentZero(t *testing.T) {
	const n = 20
	const draws = 200000
	z, err := NewZipf(n, 0)
	require.NoError(t, err)

	rng := NewRand(42, 0)
	counts := make([]int, n)
	for i := 0; i < draws; i++ {
		counts[z.Index(rng)]++
	}

	expected := float64(draws) / n
	chi2 := 0.0
	for _, c := range counts {
		d := float64(c) - expected
		chi2 += d * d / expected
	}
	// 19 degrees of freedom, p = 0.001 critical value is 43.82
	assert.Less(t, chi2, 43.82)
}

func TestSkewFavorsRankOne(t *testing.T) {
	const n = 1000
	const draws = 50000
	uniform, err := NewZipf(n, 0)
	require.NoError(t, err)
	skewed, err := NewZipf(n, 1.2)
	require.NoError(t, err)

	count := func(z *Zipf) int {
		rng := NewRand(7, 0)
		hits := 0
		for i := 0; i < draws; i++ {
			if z.Index(rng) == 0 {
				hits++
			}
		}
		return hits
	}
	assert.Greater(t, count(skewed), 10*count(uniform)+100)
	assert.Greater(t, skewed.Probability(0), skewed.Probability(1))
}

func TestZipfTableSumsToOne(t *testing.T) {
	z, err := NewZipf(100, 0.99)
	require.NoError(t, err)
	sum := 0.0
	for i := 0; i < z.N(); i++ {
		sum += z.Probability(i)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestIndexBucketBoundaries(t *testing.T) {
	z, err := NewZipf(4, 0)
	require.NoError(t, err)
	// cdf is 0.25, 0.5, 0.75, 1
	assert.Equal(t, 0, z.indexFor(0))
	assert.Equal(t, 0, z.indexFor(0.2499))
	assert.Equal(t, 1, z.indexFor(0.25))
	assert.Equal(t, 2, z.indexFor(0.5))
	assert.Equal(t, 3, z.indexFor(0.75))
	assert.Equal(t, 3, z.indexFor(math.Nextafter(1, 0)))
	assert.Equal(t, 3, z.indexFor(1))
}

func TestPairIsDistinct(t *testing.T) {
	s, err := New(2, 0, 1, 10)
	require.NoError(t, err)
	rng := NewRand(1, 3)
	for i := 0; i < 10000; i++ {
		p, err := s.Pair(rng)
		require.NoError(t, err)
		assert.NotEqual(t, p.Source, p.Destination)
		assert.True(t, p.Source >= 0 && p.Source < 2)
	}
}

func TestAmountInclusiveRange(t *testing.T) {
	s, err := New(10, 0, 5, 7)
	require.NoError(t, err)
	rng := NewRand(9, 0)
	seen := map[int64]bool{}
	for i := 0; i < 1000; i++ {
		a := s.Amount(rng)
		require.True(t, a >= 5 && a <= 7)
		seen[a] = true
	}
	assert.Len(t, seen, 3)
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		exponent float64
		min, max int64
	}{
		{"single account", 1, 0, 1, 10},
		{"negative exponent", 10, -1, 1, 10},
		{"nan exponent", 10, math.NaN(), 1, 10},
		{"inverted amounts", 10, 0, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.n, tt.exponent, tt.min, tt.max)
			require.Error(t, err)
			assert.True(t, errors.Is(err, runerr.ErrConfig))
		})
	}
}

func TestPairFailsLoudlyOnDegenerateSkew(t *testing.T) {
	// nearly all mass on rank 1
	s, err := New(2, 60, 1, 1)
	require.NoError(t, err)
	_, err = s.Pair(NewRand(1, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrConfig))
}
