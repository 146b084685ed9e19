package sim

import "sort"

// UpgradeWeightedRouting enables capacity-weighted routing on distribution nodes.
const UpgradeWeightedRouting = "smart-routing"

// Position is a node's board location. The core only uses it to normalize
// telemetry flight time.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Task is a packet occupying one concurrency slot until CompletesAt.
type Task struct {
	CompletesAt int64 // Clock (ms)
	Packet      *Packet
}

// Node is a simulated infrastructure unit. Zero-valued overrides
// (ProcessingSpeed, ProcessingMultiplier, MaxConcurrent) defer to the catalog.
type Node struct {
	ID       string
	Kind     ServiceKind
	Label    string
	Position Position
	RegionID string // empty when not placed in a region

	Queue        *PacketQueue
	MaxQueueSize int

	ProcessingSpeed      float64
	ProcessingMultiplier float64
	MaxConcurrent        int

	ActiveTasks []Task
	Utilization float64 // smoothed gauge in [0,1]

	FreeRequestsRemaining int // serverless allowance before per-unit billing

	DroppedPackets   map[PacketType]int
	Upgrades         map[string]bool
	RoundRobinCursor int

	TrafficOrigin string // forced origin region for packets spawned here
}

// NewNode creates a node of the given kind with queue size and serverless
// allowance taken from the catalog.
func NewNode(id string, kind ServiceKind, catalog *Catalog) *Node {
	n := &Node{
		ID:             id,
		Kind:           kind,
		Label:          id,
		Queue:          &PacketQueue{},
		DroppedPackets: make(map[PacketType]int),
		Upgrades:       make(map[string]bool),
	}
	if spec, ok := catalog.Spec(kind); ok {
		n.Label = spec.Label
		n.MaxQueueSize = spec.MaxQueueSize
		n.FreeRequestsRemaining = spec.FreeRequests
	}
	return n
}

// HasUpgrade reports whether the named capability is installed.
func (n *Node) HasUpgrade(name string) bool { return n.Upgrades[name] }

// InstalledUpgrades returns the installed capability names, sorted.
func (n *Node) InstalledUpgrades() []string {
	names := make([]string, 0, len(n.Upgrades))
	for name, on := range n.Upgrades {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TotalDropped sums the per-type drop counters.
func (n *Node) TotalDropped() int {
	total := 0
	for _, c := range n.DroppedPackets {
		total += c
	}
	return total
}

// Clone deep-copies the node's mutable state. Packets are shared; they are
// never mutated once queued.
func (n *Node) Clone() *Node {
	c := *n
	c.Queue = n.Queue.Clone()
	c.ActiveTasks = make([]Task, len(n.ActiveTasks))
	copy(c.ActiveTasks, n.ActiveTasks)
	c.DroppedPackets = make(map[PacketType]int, len(n.DroppedPackets))
	for k, v := range n.DroppedPackets {
		c.DroppedPackets[k] = v
	}
	c.Upgrades = make(map[string]bool, len(n.Upgrades))
	for k, v := range n.Upgrades {
		c.Upgrades[k] = v
	}
	return &c
}

// Edge is a directed connection. Travel direction is reinterpreted per
// packet phase; see candidate.
type Edge struct {
	ID     string
	Source string
	Target string
}

// Region groups nodes. Location is the logical geo tag compared against a
// packet's OriginRegion; empty means the region makes no location claim.
type Region struct {
	ID       string
	Label    string
	Location string
}
