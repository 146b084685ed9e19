package sim

import (
	"hash/fnv"
	"math/rand"
)

// SimulationKey is the seed a run is reproduced from. The same key, topology
// and configuration yield the same sequence of tick reports.
type SimulationKey int64

func NewSimulationKey(seed int64) SimulationKey { return SimulationKey(seed) }

// Random streams. Each concern of the tick draws from its own stream so that
// a change in how often one concern draws leaves the others untouched.
const (
	// SubsystemSpawn picks request types, origin regions and root ids.
	SubsystemSpawn = "spawn"
	// SubsystemRouter breaks ties in weighted and uniform edge selection.
	SubsystemRouter = "router"
	// SubsystemCache decides hits for db-queries reaching a cache.
	SubsystemCache = "cache"
	// SubsystemTelemetry decides log-entry emission and picks the source node.
	SubsystemTelemetry = "telemetry"
)

// PartitionedRNG hands out one *rand.Rand per stream, created on first use.
// The spawn stream is seeded with the key itself; every other stream with the
// key XOR the FNV-1a hash of its name. Not safe for concurrent use; the
// simulator only draws from the tick goroutine.
type PartitionedRNG struct {
	key     SimulationKey
	streams map[string]*rand.Rand
}

func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, streams: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if r, ok := p.streams[name]; ok {
		return r
	}
	seed := int64(p.key)
	if name != SubsystemSpawn {
		seed ^= streamHash(name)
	}
	r := rand.New(rand.NewSource(seed))
	p.streams[name] = r
	return r
}

func (p *PartitionedRNG) Key() SimulationKey { return p.key }

func streamHash(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
