package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/theczechguy/cloudgame/sim/trace"
)

// candidate is one legal way out of a node: an edge plus the direction the
// packet would travel it.
type candidate struct {
	EdgeID   string
	Reversed bool   // true = traveling Target -> Source of the declared edge
	Target   string // node the packet arrives at
}

// loadView is the same-tick node state routing reads. tickDelta implements it.
type loadView interface {
	peek(id string) *Node
	liveQueue(id string) int
}

// routeContext carries the inputs of a single routing decision.
type routeContext struct {
	node    *Node // staged node; strategies may advance its cursor
	packet  *Packet
	next    PacketType
	topo    *Topology
	catalog *Catalog
	view    loadView
	rng     *rand.Rand

	weights map[string]float64 // edge id -> weight, set by weighing strategies
}

// routingStrategy selects one candidate or declines so the next strategy in
// the chain is consulted.
type routingStrategy interface {
	Name() string
	Select(rc *routeContext, cands []candidate) (candidate, bool)
}

// Routing strategy names, in default evaluation order.
const (
	StrategyRegionAware      = "region-aware"
	StrategyLocalAffinity    = "local-affinity"
	StrategyCapacityWeighted = "capacity-weighted"
	StrategyRoundRobin       = "round-robin"
	StrategyUniform          = "uniform"

	// strategyReturnPath labels forced response-phase hops in traces.
	strategyReturnPath = "return-path"
)

// DefaultStrategyOrder is the chain used by NewSimulator.
var DefaultStrategyOrder = []string{
	StrategyRegionAware,
	StrategyLocalAffinity,
	StrategyCapacityWeighted,
	StrategyRoundRobin,
	StrategyUniform,
}

var validRoutingStrategies = map[string]bool{
	StrategyRegionAware:      true,
	StrategyLocalAffinity:    true,
	StrategyCapacityWeighted: true,
	StrategyRoundRobin:       true,
	StrategyUniform:          true,
}

// IsValidRoutingStrategy returns true if name is a recognized strategy.
func IsValidRoutingStrategy(name string) bool { return validRoutingStrategies[name] }

// newRoutingStrategy creates a strategy by name.
// Panics on unrecognized names; callers validate first.
func newRoutingStrategy(name string) routingStrategy {
	switch name {
	case StrategyRegionAware:
		return regionAware{}
	case StrategyLocalAffinity:
		return localAffinity{}
	case StrategyCapacityWeighted:
		return capacityWeighted{}
	case StrategyRoundRobin:
		return roundRobin{}
	case StrategyUniform:
		return uniform{}
	default:
		panic(fmt.Sprintf("unknown routing strategy %q", name))
	}
}

// newStrategyChain builds the chain for names, or the default chain when
// names is empty.
func newStrategyChain(names ...string) []routingStrategy {
	if len(names) == 0 {
		names = DefaultStrategyOrder
	}
	chain := make([]routingStrategy, len(names))
	for i, name := range names {
		chain[i] = newRoutingStrategy(name)
	}
	return chain
}

// forwardCandidates returns the outgoing edges of nodeID whose target kind is
// legal for t. Request-phase packets never travel an edge backwards.
func forwardCandidates(topo *Topology, nodeID string, t PacketType) []candidate {
	var out []candidate
	for _, eid := range topo.EdgeOrder {
		e := topo.Edges[eid]
		if e.Source != nodeID {
			continue
		}
		target, ok := topo.Nodes[e.Target]
		if !ok || !t.AcceptsTarget(target.Kind) {
			continue
		}
		out = append(out, candidate{EdgeID: e.ID, Target: e.Target})
	}
	return out
}

// returnCandidate finds the edge that carries a response-phase packet from
// nodeID to the previous entry of its route stack, in either declared
// direction. ok is false when the stack is exhausted, its top is not nodeID,
// or no edge joins the two nodes any more.
func returnCandidate(topo *Topology, nodeID string, p *Packet) (candidate, bool) {
	if p.Current() != nodeID {
		return candidate{}, false
	}
	hop, ok := p.ReturnHop()
	if !ok {
		return candidate{}, false
	}
	if _, exists := topo.Nodes[hop]; !exists {
		return candidate{}, false
	}
	for _, eid := range topo.EdgeOrder {
		if e := topo.Edges[eid]; e.Source == nodeID && e.Target == hop {
			return candidate{EdgeID: e.ID, Target: hop}, true
		}
	}
	for _, eid := range topo.EdgeOrder {
		if e := topo.Edges[eid]; e.Target == nodeID && e.Source == hop {
			return candidate{EdgeID: e.ID, Reversed: true, Target: hop}, true
		}
	}
	return candidate{}, false
}

// choose runs the strategy chain over cands. The first strategy that makes a
// selection wins.
func choose(chain []routingStrategy, rc *routeContext, cands []candidate) (candidate, string, bool) {
	for _, s := range chain {
		if c, ok := s.Select(rc, cands); ok {
			return c, s.Name(), true
		}
	}
	return candidate{}, "", false
}

// route picks the next hop for a packet leaving node as type next.
// Response-phase packets have exactly one legal hop and skip the chain.
func (s *Simulator) route(d *tickDelta, node *Node, p *Packet, next PacketType) (candidate, bool) {
	rc := &routeContext{
		node:    node,
		packet:  p,
		next:    next,
		topo:    s.topo,
		catalog: s.catalog,
		view:    d,
		rng:     s.rng.ForSubsystem(SubsystemRouter),
	}

	var (
		cands    []candidate
		chosen   candidate
		strategy string
		ok       bool
	)
	if next.IsResponsePhase() {
		chosen, ok = returnCandidate(s.topo, node.ID, p)
		if ok {
			cands = []candidate{chosen}
			strategy = strategyReturnPath
		}
	} else {
		cands = forwardCandidates(s.topo, node.ID, next)
		chosen, strategy, ok = choose(s.strategies, rc, cands)
	}
	if !ok {
		return candidate{}, false
	}

	logrus.Debugf("[route] %s at %s -> %s via %s (%s, %d candidates)", p.ID, node.ID, chosen.Target, chosen.EdgeID, strategy, len(cands))
	if s.trace.Enabled() {
		s.recordRouting(d, rc, cands, chosen, strategy)
	}
	return chosen, true
}

func (s *Simulator) recordRouting(d *tickDelta, rc *routeContext, cands []candidate, chosen candidate, strategy string) {
	scores := make([]trace.CandidateScore, len(cands))
	for i, c := range cands {
		scores[i] = trace.CandidateScore{
			EdgeID:    c.EdgeID,
			TargetID:  c.Target,
			Weight:    rc.weights[c.EdgeID],
			LiveQueue: d.liveQueue(c.Target),
		}
	}
	s.trace.RecordRouting(trace.RoutingRecord{
		PacketID:   rc.packet.ID,
		PacketType: string(rc.next),
		NodeID:     rc.node.ID,
		Clock:      s.clock,
		Strategy:   strategy,
		ChosenEdge: chosen.EdgeID,
		ChosenNode: chosen.Target,
		Candidates: scores,
	})
}

// === Strategies ===

// regionAware sends traffic from a gateway to a target whose region is
// located where the packet originated.
type regionAware struct{}

func (regionAware) Name() string { return StrategyRegionAware }

func (regionAware) Select(rc *routeContext, cands []candidate) (candidate, bool) {
	if !rc.node.Kind.IsGateway() || rc.packet.OriginRegion == "" {
		return candidate{}, false
	}
	var matches []candidate
	for _, c := range cands {
		loc, ok := rc.topo.RegionLocation(rc.view.peek(c.Target))
		if ok && loc == rc.packet.OriginRegion {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return candidate{}, false
	}
	return matches[rc.rng.Intn(len(matches))], true
}

// localAffinity keeps traffic at a distribution node inside the node's own
// region when only some of the candidates are local.
type localAffinity struct{}

func (localAffinity) Name() string { return StrategyLocalAffinity }

func (localAffinity) Select(rc *routeContext, cands []candidate) (candidate, bool) {
	if !rc.node.Kind.IsDistribution() || len(cands) < 2 || rc.node.RegionID == "" {
		return candidate{}, false
	}
	var local []candidate
	for _, c := range cands {
		if t := rc.view.peek(c.Target); t != nil && t.RegionID == rc.node.RegionID {
			local = append(local, c)
		}
	}
	// All-local and all-remote sets give no preference.
	if len(local) == 0 || len(local) == len(cands) {
		return candidate{}, false
	}
	return local[rc.rng.Intn(len(local))], true
}

// capacityWeighted draws a candidate with probability proportional to
// capacityWeight. Only active on nodes with the weighted-routing upgrade.
type capacityWeighted struct{}

func (capacityWeighted) Name() string { return StrategyCapacityWeighted }

func (capacityWeighted) Select(rc *routeContext, cands []candidate) (candidate, bool) {
	if !rc.node.HasUpgrade(UpgradeWeightedRouting) || len(cands) == 0 {
		return candidate{}, false
	}
	weights := make([]float64, len(cands))
	rc.weights = make(map[string]float64, len(cands))
	total := 0.0
	for i, c := range cands {
		t := rc.view.peek(c.Target)
		lim := rc.catalog.Limits(t)
		weights[i] = capacityWeight(lim.Speed, t.MaxQueueSize, rc.view.liveQueue(c.Target), t.Utilization)
		rc.weights[c.EdgeID] = weights[i]
		total += weights[i]
	}
	r := rc.rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return cands[i], true
		}
		r -= w
	}
	return cands[len(cands)-1], true
}

// capacityWeight dampens free queue capacity with a square root and an
// additive floor so small targets are never starved and large ones never
// dominate on speed alone. A target at least 10% full has its weight density
// halved.
func capacityWeight(speed float64, maxQueue, liveQueue int, utilization float64) float64 {
	free := max(0, maxQueue-liveQueue)
	cpuFactor := math.Max(0.1, 1.1-utilization)
	queuePenalty := 1.0
	if maxQueue > 0 && float64(liveQueue)/float64(maxQueue) >= 0.1 {
		queuePenalty = 0.5
	}
	return speed*math.Sqrt(float64(free))*cpuFactor*queuePenalty + 2.0
}

// roundRobin rotates through candidates sorted by edge id, advancing the
// node's persistent cursor once per dispatch.
type roundRobin struct{}

func (roundRobin) Name() string { return StrategyRoundRobin }

func (roundRobin) Select(rc *routeContext, cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EdgeID < sorted[j].EdgeID })
	c := sorted[rc.node.RoundRobinCursor%len(sorted)]
	rc.node.RoundRobinCursor++
	return c, true
}

// uniform picks any candidate at random.
type uniform struct{}

func (uniform) Name() string { return StrategyUniform }

func (uniform) Select(rc *routeContext, cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	return cands[rc.rng.Intn(len(cands))], true
}
