// Package randx routes all stochastic behaviour through one seeded root
// source. Each component derives an independent sub-stream by name, so
// drift, generation, and jitter stay reproducible even when they run on
// different goroutines.
package randx

import (
	"hash/fnv"
	"math/rand"
)

// Source is the root of the simulation's randomness.
type Source struct {
	seed int64
}

// New creates a root source from a seed.
func New(seed int64) *Source {
	return &Source{seed: seed}
}

// Seed returns the root seed, for snapshot persistence.
func (s *Source) Seed() int64 {
	return s.seed
}

// Stream derives an independent *rand.Rand for the named consumer. The
// same (seed, name) pair always yields the same stream.
func (s *Source) Stream(name string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(name))
	sub := s.seed ^ int64(h.Sum64())
	return rand.New(rand.NewSource(sub))
}
