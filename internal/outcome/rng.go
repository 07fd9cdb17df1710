package outcome

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

// RNG produces rolls in [0,100).
type RNG interface {
	Roll() float64
}

// SeededRNG is a deterministic, goroutine-safe RNG. Tests inject a fixed seed
// to reproduce exact roll sequences; production seeds from crypto/rand.
type SeededRNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRNG returns an RNG that replays the same roll sequence for the
// same seed.
func NewSeededRNG(seed int64) *SeededRNG {
	return &SeededRNG{r: rand.New(rand.NewSource(seed))}
}

// NewRNG returns an RNG seeded from the OS entropy pool.
func NewRNG() *SeededRNG {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// Entropy read failing is effectively impossible; fall back to a
		// fixed seed rather than crash the resolver.
		return NewSeededRNG(1)
	}
	return NewSeededRNG(int64(binary.LittleEndian.Uint64(b[:])))
}

func (s *SeededRNG) Roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64() * 100
}

// FixedRNG returns a preset sequence of rolls, cycling when exhausted.
// Test helper for forcing specific outcomes.
type FixedRNG struct {
	mu    sync.Mutex
	rolls []float64
	idx   int
}

func NewFixedRNG(rolls ...float64) *FixedRNG {
	return &FixedRNG{rolls: rolls}
}

func (f *FixedRNG) Roll() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.rolls[f.idx%len(f.rolls)]
	f.idx++
	return v
}
