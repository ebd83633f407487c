// Package randsrc provides the random sources used by the simulation and the
// synthetic data generators.
package randsrc

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source yields floats in [0, 1).
type Source interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// New returns a Source seeded with seed. A zero seed uses the current time.
func New(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
}

// Sequence replays a fixed list of values, cycling when exhausted.
// An empty Sequence always returns 0.
type Sequence struct {
	Values []float64
	next   int
}

func (s *Sequence) Float64() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.next%len(s.Values)]
	s.next++
	return v
}

// Constant always returns the same value.
type Constant float64

func (c Constant) Float64() float64 { return float64(c) }

// Between maps a draw from src onto [lo, hi).
func Between(src Source, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}

// Jitter scales base by a uniform factor in [1-frac, 1+frac).
func Jitter(src Source, base, frac float64) float64 {
	return base * (1 + (src.Float64()*2-1)*frac)
}
