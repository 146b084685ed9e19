package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theczechguy/cloudgame/sim/trace"
)

// never is far enough in the future that a schedule keyed on it does not fire
// during a test.
const never = int64(1) << 50

// quietConfig returns the default constants with spawning, telemetry and
// upkeep switched off, so a test controls every packet and ledger entry.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Spawn.IntervalMs = never
	cfg.UpkeepIntervalMs = never
	cfg.TelemetryChance = 0
	return cfg
}

// topoBuilder assembles a topology and fails the test on the first error.
type topoBuilder struct {
	t       *testing.T
	topo    *Topology
	catalog *Catalog
}

func newTopoBuilder(t *testing.T) *topoBuilder {
	t.Helper()
	return &topoBuilder{t: t, topo: NewTopology(), catalog: DefaultCatalog()}
}

func (b *topoBuilder) region(id, location string) *topoBuilder {
	b.t.Helper()
	require.NoError(b.t, b.topo.AddRegion(&Region{ID: id, Label: id, Location: location}))
	return b
}

func (b *topoBuilder) node(id string, kind ServiceKind, region string) *topoBuilder {
	b.t.Helper()
	n := NewNode(id, kind, b.catalog)
	n.RegionID = region
	require.NoError(b.t, b.topo.AddNode(n))
	return b
}

// edge adds src->dst with the id "src->dst".
func (b *topoBuilder) edge(src, dst string) *topoBuilder {
	b.t.Helper()
	require.NoError(b.t, b.topo.AddEdge(&Edge{ID: edgeID(src, dst), Source: src, Target: dst}))
	return b
}

func (b *topoBuilder) upgrade(id string) *topoBuilder {
	b.t.Helper()
	require.NoError(b.t, b.topo.InstallUpgrade(id, UpgradeWeightedRouting, b.catalog))
	return b
}

func (b *topoBuilder) build() *Topology { return b.topo }

func edgeID(src, dst string) string { return src + "->" + dst }

func newTestSimulator(t *testing.T, topo *Topology, cfg Config, seed int64) *Simulator {
	t.Helper()
	s, err := NewSimulator(topo, DefaultCatalog(), cfg, seed)
	require.NoError(t, err)
	return s
}

// packetAt builds a packet whose route stack ends at the node it is at.
func packetAt(root string, pt PacketType, stack ...string) *Packet {
	return &Packet{
		ID:          root,
		RootID:      root,
		Type:        pt,
		Speed:       DefaultConfig().PacketSpeed,
		RouteStack:  append([]string(nil), stack...),
		ForwardHops: max(0, len(stack)-1),
	}
}

// arriving places p on edge about to reach the end of its segment on the
// next tick.
func arriving(p *Packet, edge string, reversed bool) *Packet {
	p.EdgeID = edge
	p.Reversed = reversed
	p.Progress = 0.999
	return p
}

// finishNow puts p into a concurrency slot of node that completes on the
// next tick.
func finishNow(s *Simulator, node string, p *Packet) {
	n := s.topo.Nodes[node]
	n.ActiveTasks = append(n.ActiveTasks, Task{CompletesAt: 0, Packet: p})
}

// queueN fills node's committed queue with n request packets.
func queueN(s *Simulator, node string, n int) {
	q := s.topo.Nodes[node].Queue
	for i := 0; i < n; i++ {
		q.Enqueue(packetAt(fmt.Sprintf("%s-q%d", node, i), PacketHTTPCompute, "internet", node))
	}
}

// dropsByReason counts a report's drops per reason.
func dropsByReason(r *TickReport) map[DropReason]int {
	out := make(map[DropReason]int)
	for _, d := range r.Drops {
		out[d.Reason]++
	}
	return out
}

func traceDecisions() trace.TraceConfig {
	return trace.TraceConfig{Level: trace.TraceLevelDecisions}
}
