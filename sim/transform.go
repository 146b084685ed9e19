package sim

// Outcome classifies what processing at a node did to a packet.
type Outcome int

const (
	// OutcomeForward: the packet continues as the returned type.
	OutcomeForward Outcome = iota
	// OutcomeAbsorbed: an attack was terminated at a firewall.
	OutcomeAbsorbed
	// OutcomeCapabilityMissing: a db or storage request reached a compute
	// node with nowhere to send the follow-up operation.
	OutcomeCapabilityMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeForward:
		return "forward"
	case OutcomeAbsorbed:
		return "absorbed"
	case OutcomeCapabilityMissing:
		return "capability-missing"
	default:
		return "unknown"
	}
}

// Transition is the transformation table: the type a packet of type t
// becomes after processing at a node of kind k. cacheHit is only consulted
// for db-query packets at cache nodes. Pairs not listed pass through
// unchanged. The capability check is applied by the caller because it needs
// the topology.
func Transition(t PacketType, k ServiceKind, cacheHit bool) (PacketType, Outcome) {
	switch {
	case k.IsFirewall():
		if t.IsAttack() {
			return t, OutcomeAbsorbed
		}
	case k.IsCompute():
		switch t {
		case PacketHTTPCompute, PacketDBResult, PacketStorageResult:
			return PacketHTTPResponse, OutcomeForward
		case PacketHTTPDB:
			return PacketDBQuery, OutcomeForward
		case PacketHTTPStorage:
			return PacketStorageOp, OutcomeForward
		}
	case k.IsDatabase():
		if t == PacketDBQuery {
			return PacketDBResult, OutcomeForward
		}
	case k.IsCache():
		if t == PacketDBQuery && cacheHit {
			return PacketDBResult, OutcomeForward
		}
	case k.IsBlobStore():
		if t == PacketStorageOp {
			return PacketStorageResult, OutcomeForward
		}
	}
	return t, OutcomeForward
}

// needsDownstream reports whether turning t into its follow-up type at kind
// k requires a downstream resource.
func needsDownstream(t PacketType, k ServiceKind) bool {
	return k.IsCompute() && (t == PacketHTTPDB || t == PacketHTTPStorage)
}

// hasDownstream reports whether an outgoing edge of nodeID leads to a node
// that provides the resource request t needs.
func hasDownstream(topo *Topology, nodeID string, t PacketType) bool {
	for _, e := range topo.Outgoing(nodeID) {
		if target, ok := topo.Nodes[e.Target]; ok && t.ProvidedBy(target.Kind) {
			return true
		}
	}
	return false
}

// transform applies Transition for a packet completing at node, drawing the
// cache outcome and checking downstream capability.
func (s *Simulator) transform(d *tickDelta, node *Node, p *Packet) (PacketType, Outcome) {
	hit := false
	if p.Type == PacketDBQuery && node.Kind.IsCache() {
		hit = s.rng.ForSubsystem(SubsystemCache).Float64() < s.cfg.CacheHitRate
	}
	next, outcome := Transition(p.Type, node.Kind, hit)
	if outcome == OutcomeForward && needsDownstream(p.Type, node.Kind) &&
		!hasDownstream(s.topo, node.ID, p.Type) {
		return p.Type, OutcomeCapabilityMissing
	}
	if hit {
		d.report.CacheHits = append(d.report.CacheHits, CacheHitEvent{At: s.clock, NodeID: node.ID, PacketID: p.ID})
	}
	return next, outcome
}
