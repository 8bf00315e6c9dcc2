package sampler

import (
	"math/rand/v2"

	"xferbench/internal/runerr"
)

// MaxRedraws bounds the attempts to find a destination distinct from the
// source.
const MaxRedraws = 100

type AccountPair struct {
	Source      int
	Destination int
}

type Sampler struct {
	zipf      *Zipf
	minAmount int64
	maxAmount int64
}

// New builds the distribution table for numAccounts keys.
func New(numAccounts int, exponent float64, minAmount, maxAmount int64) (*Sampler, error) {
	if numAccounts < 2 {
		return nil, runerr.Configf("sampler: key space must contain at least 2 accounts, got %d", numAccounts)
	}
	if minAmount > maxAmount {
		return nil, runerr.Configf("sampler: min amount %d > max amount %d", minAmount, maxAmount)
	}
	z, err := NewZipf(numAccounts, exponent)
	if err != nil {
		return nil, err
	}
	return &Sampler{zipf: z, minAmount: minAmount, maxAmount: maxAmount}, nil
}

// Pair draws two independent ranks and re-draws the destination on a
// collision. Exhausting the redraws means the distribution is too skewed for
// its key space, which is a configuration problem.
func (s *Sampler) Pair(rng *rand.Rand) (AccountPair, error) {
	src := s.zipf.Index(rng)
	for i := 0; i < MaxRedraws; i++ {
		dst := s.zipf.Index(rng)
		if dst != src {
			return AccountPair{Source: src, Destination: dst}, nil
		}
	}
	return AccountPair{}, runerr.Configf(
		"sampler: no distinct destination for account %d after %d draws", src, MaxRedraws)
}

// Amount is uniform over [min, max] inclusive.
func (s *Sampler) Amount(rng *rand.Rand) int64 {
	return s.minAmount + rng.Int64N(s.maxAmount-s.minAmount+1)
}

// NewRand returns a worker-local generator.
func NewRand(seed uint64, worker int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(worker)+1))
}
