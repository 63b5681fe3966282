package execution

import (
	"hash/fnv"
	"math/rand"
	"sync"
)

// Subsystem names used to derive isolated random streams.
const (
	// SubsystemAcquisition drives candidate pool sampling and Thompson draws.
	SubsystemAcquisition = "acquisition"

	// SubsystemDecode drives stochastic decoding in codecs.
	SubsystemDecode = "decode"
)

// PartitionedRNG hands out deterministic, isolated RNG instances per subsystem.
//
// Derivation: masterSeed XOR fnv1a64(subsystemName). Two runs with the same
// master seed draw identical sequences from every subsystem regardless of how
// often the other subsystems were consumed.
//
// ForSubsystem is safe for concurrent use; the returned *rand.Rand is not and
// must stay on the goroutine that owns the phase using it.
type PartitionedRNG struct {
	mu         sync.Mutex
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:       seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the cached RNG for name, creating it on first use.
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.subsystems[name] = rng

	return rng
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))

	return int64(h.Sum64())
}
