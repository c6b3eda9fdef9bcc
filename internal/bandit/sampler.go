package bandit

import (
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// Source is the uniform bit stream behind Beta sampling. rand.PCG and
// rand.ChaCha8 from math/rand/v2 satisfy it.
type Source = rand.Source

// NewSeededSource returns a deterministic source for tests and replays.
func NewSeededSource(seed uint64) Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// NewRandomSource returns a source seeded from the runtime.
func NewRandomSource() Source {
	return rand.NewPCG(rand.Uint64(), rand.Uint64())
}

// BetaSampler draws from Beta distributions. Safe for concurrent use;
// the underlying sources are not.
type BetaSampler struct {
	mu  sync.Mutex
	src Source
}

// NewBetaSampler wraps src. A nil src uses a random source.
func NewBetaSampler(src Source) *BetaSampler {
	if src == nil {
		src = NewRandomSource()
	}

	return &BetaSampler{src: src}
}

// Sample draws one value from Beta(alpha, beta). Degenerate parameters
// collapse onto the side that still carries mass.
func (s *BetaSampler) Sample(alpha, beta float64) float64 {
	switch {
	case alpha <= 0 && beta <= 0:
		return 0.5
	case alpha <= 0:
		return 0
	case beta <= 0:
		return 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return distuv.Beta{Alpha: alpha, Beta: beta, Src: s.src}.Rand()
}
