package sim

import (
	"fmt"
	"slices"
)

// Topology holds the node, edge and region maps the simulation reads each
// tick. The *Order slices record insertion order; every phase iterates them
// so runs are reproducible.
type Topology struct {
	Nodes   map[string]*Node
	Edges   map[string]*Edge
	Regions map[string]*Region

	NodeOrder   []string
	EdgeOrder   []string
	RegionOrder []string
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{
		Nodes:   make(map[string]*Node),
		Edges:   make(map[string]*Edge),
		Regions: make(map[string]*Region),
	}
}

// AddNode inserts a node. The id must be unique.
func (t *Topology) AddNode(n *Node) error {
	if _, exists := t.Nodes[n.ID]; exists {
		return fmt.Errorf("node %q: %w", n.ID, ErrDuplicateID)
	}
	if !validServiceKinds[n.Kind] {
		return fmt.Errorf("node %q kind %q: %w", n.ID, n.Kind, ErrUnknownKind)
	}
	if n.RegionID != "" {
		if _, ok := t.Regions[n.RegionID]; !ok {
			return fmt.Errorf("node %q region %q: %w", n.ID, n.RegionID, ErrUnknownRegion)
		}
	}
	if n.Queue == nil {
		n.Queue = &PacketQueue{}
	}
	if n.DroppedPackets == nil {
		n.DroppedPackets = make(map[PacketType]int)
	}
	if n.Upgrades == nil {
		n.Upgrades = make(map[string]bool)
	}
	t.Nodes[n.ID] = n
	t.NodeOrder = append(t.NodeOrder, n.ID)
	return nil
}

// RemoveNode deletes a node and every edge touching it. Packets already in
// flight toward it are dropped as invalid-path on arrival.
func (t *Topology) RemoveNode(id string) error {
	if _, ok := t.Nodes[id]; !ok {
		return fmt.Errorf("node %q: %w", id, ErrUnknownNode)
	}
	for _, eid := range slices.Clone(t.EdgeOrder) {
		e := t.Edges[eid]
		if e.Source == id || e.Target == id {
			_ = t.RemoveEdge(eid)
		}
	}
	delete(t.Nodes, id)
	t.NodeOrder = slices.DeleteFunc(t.NodeOrder, func(s string) bool { return s == id })
	return nil
}

// AddEdge inserts a directed edge. Both endpoints must exist and an origin
// node admits at most one outgoing edge.
func (t *Topology) AddEdge(e *Edge) error {
	if _, exists := t.Edges[e.ID]; exists {
		return fmt.Errorf("edge %q: %w", e.ID, ErrDuplicateID)
	}
	src, ok := t.Nodes[e.Source]
	if !ok {
		return fmt.Errorf("edge %q source %q: %w", e.ID, e.Source, ErrUnknownNode)
	}
	if _, ok := t.Nodes[e.Target]; !ok {
		return fmt.Errorf("edge %q target %q: %w", e.ID, e.Target, ErrUnknownNode)
	}
	if e.Source == e.Target {
		return fmt.Errorf("edge %q: %w", e.ID, ErrSelfLoop)
	}
	if src.Kind.IsOrigin() && len(t.Outgoing(src.ID)) > 0 {
		return fmt.Errorf("edge %q from %q: %w", e.ID, src.ID, ErrOriginFanout)
	}
	t.Edges[e.ID] = e
	t.EdgeOrder = append(t.EdgeOrder, e.ID)
	return nil
}

// RemoveEdge deletes an edge. Packets on it are dropped as invalid-path on
// their next transit step.
func (t *Topology) RemoveEdge(id string) error {
	if _, ok := t.Edges[id]; !ok {
		return fmt.Errorf("edge %q: %w", id, ErrUnknownEdge)
	}
	delete(t.Edges, id)
	t.EdgeOrder = slices.DeleteFunc(t.EdgeOrder, func(s string) bool { return s == id })
	return nil
}

// AddRegion inserts a region.
func (t *Topology) AddRegion(r *Region) error {
	if _, exists := t.Regions[r.ID]; exists {
		return fmt.Errorf("region %q: %w", r.ID, ErrDuplicateID)
	}
	t.Regions[r.ID] = r
	t.RegionOrder = append(t.RegionOrder, r.ID)
	return nil
}

// AssignRegion places a node in a region; an empty regionID clears it.
func (t *Topology) AssignRegion(nodeID, regionID string) error {
	n, ok := t.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %q: %w", nodeID, ErrUnknownNode)
	}
	if regionID != "" {
		if _, ok := t.Regions[regionID]; !ok {
			return fmt.Errorf("region %q: %w", regionID, ErrUnknownRegion)
		}
	}
	n.RegionID = regionID
	return nil
}

// InstallUpgrade enables a capability on a node if the catalog allows it for
// the node's kind.
func (t *Topology) InstallUpgrade(nodeID, upgrade string, catalog *Catalog) error {
	n, ok := t.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %q: %w", nodeID, ErrUnknownNode)
	}
	if !catalog.CanInstall(n.Kind, upgrade) {
		return fmt.Errorf("upgrade %q on %s: %w", upgrade, n.Kind, ErrInvalidUpgrade)
	}
	n.Upgrades[upgrade] = true
	return nil
}

// Outgoing returns the edges whose source is nodeID, in insertion order.
func (t *Topology) Outgoing(nodeID string) []*Edge {
	var out []*Edge
	for _, eid := range t.EdgeOrder {
		if e := t.Edges[eid]; e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// RegionLocation returns the logical location of the node's region.
// ok is false when the node has no region or the region has no location.
func (t *Topology) RegionLocation(n *Node) (string, bool) {
	if n == nil || n.RegionID == "" {
		return "", false
	}
	r, found := t.Regions[n.RegionID]
	if !found || r.Location == "" {
		return "", false
	}
	return r.Location, true
}

// MonitorID returns the first monitoring node in insertion order.
func (t *Topology) MonitorID() (string, bool) {
	for _, id := range t.NodeOrder {
		if t.Nodes[id].Kind.IsMonitoring() {
			return id, true
		}
	}
	return "", false
}
