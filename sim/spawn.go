package sim

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// requestTypes fixes the iteration order of the spawn mix.
var requestTypes = []PacketType{PacketHTTPCompute, PacketHTTPDB, PacketHTTPStorage}

// newRootID draws a UUID from r so ids are reproducible under a seed.
func newRootID(r io.Reader) string {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		// math/rand readers never fail; keep ids unique regardless.
		return uuid.NewString()
	}
	return id.String()
}

// spawnTraffic emits one packet per origin edge once the spawn interval has
// elapsed, plus an occasional telemetry entry when a monitor is present.
func (s *Simulator) spawnTraffic(d *tickDelta) {
	if s.clock >= s.nextSpawnAt {
		s.spawnWave(d)
		s.nextSpawnAt = s.clock + s.spawn.IntervalMs
	}
	s.spawnTelemetry(d)
}

func (s *Simulator) spawnWave(d *tickDelta) {
	rng := s.rng.ForSubsystem(SubsystemSpawn)
	for _, id := range s.topo.NodeOrder {
		node := s.topo.Nodes[id]
		if !node.Kind.IsOrigin() {
			continue
		}
		for _, e := range s.topo.Outgoing(id) {
			t := PacketHTTPAttack
			if rng.Float64() >= s.spawn.AttackRate {
				t = drawRequestType(rng, s.spawn.Mix)
			}
			origin := node.TrafficOrigin
			if origin == "" && len(s.spawn.Origins) > 0 {
				origin = s.spawn.Origins[rng.Intn(len(s.spawn.Origins))]
			}
			d.dispatch(s.newPacket(rng, id, e, t, origin), e.Target)
			d.report.Spawned++
		}
	}
}

// newPacket creates a packet on edge e leaving origin node id. The route
// stack starts as [origin, first hop]; the spawn counts as a forward hop.
func (s *Simulator) newPacket(rng *rand.Rand, id string, e *Edge, t PacketType, origin string) *Packet {
	root := newRootID(rng)
	return &Packet{
		ID:           root,
		RootID:       root,
		Type:         t,
		EdgeID:       e.ID,
		Speed:        s.cfg.PacketSpeed,
		RouteStack:   []string{id, e.Target},
		OriginRegion: origin,
		ForwardHops:  1,
		SpawnedAt:    s.clock,
	}
}

// drawRequestType picks a request type in proportion to the mix weights.
func drawRequestType(rng *rand.Rand, mix map[PacketType]float64) PacketType {
	total := 0.0
	for _, t := range requestTypes {
		total += mix[t]
	}
	if total <= 0 {
		return PacketHTTPCompute
	}
	r := rng.Float64() * total
	for _, t := range requestTypes {
		if r < mix[t] {
			return t
		}
		r -= mix[t]
	}
	return requestTypes[len(requestTypes)-1]
}

// spawnTelemetry emits at most one log entry per tick from a random
// non-origin node straight to the monitor.
func (s *Simulator) spawnTelemetry(d *tickDelta) {
	monitor, ok := s.topo.MonitorID()
	if !ok {
		return
	}
	rng := s.rng.ForSubsystem(SubsystemTelemetry)
	if rng.Float64() >= s.cfg.TelemetryChance {
		return
	}
	var sources []string
	for _, id := range s.topo.NodeOrder {
		if k := s.topo.Nodes[id].Kind; !k.IsOrigin() && !k.IsMonitoring() {
			sources = append(sources, id)
		}
	}
	if len(sources) == 0 {
		return
	}
	src := sources[rng.Intn(len(sources))]
	root := fmt.Sprintf("log-%s", newRootID(rng))
	d.keep(&Packet{
		ID:           root,
		RootID:       root,
		Type:         PacketLogEntry,
		Speed:        s.cfg.TelemetrySpeed,
		RouteStack:   []string{src},
		TargetNodeID: monitor,
		SpawnedAt:    s.clock,
	})
	logrus.Debugf("[spawn] telemetry %s from %s to %s", root, src, monitor)
}

// Inject places a packet of type t on the outgoing edge of an origin node,
// as an external spawn request would. The packet departs on the next tick.
func (s *Simulator) Inject(originID string, t PacketType, originRegion string) (*Packet, error) {
	node, ok := s.topo.Nodes[originID]
	if !ok {
		return nil, fmt.Errorf("inject at %q: %w", originID, ErrUnknownNode)
	}
	if !node.Kind.IsOrigin() {
		return nil, fmt.Errorf("inject at %q: %s is not an origin kind", originID, node.Kind)
	}
	if !validPacketTypes[t] {
		return nil, fmt.Errorf("inject packet type %q: unknown type", t)
	}
	out := s.topo.Outgoing(originID)
	if len(out) == 0 {
		return nil, fmt.Errorf("inject at %q: %w", originID, ErrNoOutgoingEdge)
	}
	p := s.newPacket(s.rng.ForSubsystem(SubsystemSpawn), originID, out[0], t, originRegion)
	s.packets = append(s.packets, p)
	return p, nil
}
