package sim

// tickDelta collects every mutation made during one tick. Nodes are cloned on
// first write; reads go through peek so later phases of the same tick see
// earlier decisions. Nothing reaches the Topology until commit.
type tickDelta struct {
	topo   *Topology
	staged map[string]*Node

	// inbound counts packets dispatched toward a node during this tick that
	// have not arrived yet. Routing and backpressure add it to the staged
	// queue length so a burst cannot overflow a target before commit.
	inbound map[string]int

	packets []*Packet // in-flight packets after this tick
	report  *TickReport
}

func newTickDelta(topo *Topology, clock int64) *tickDelta {
	return &tickDelta{
		topo:    topo,
		staged:  make(map[string]*Node),
		inbound: make(map[string]int),
		report:  &TickReport{Clock: clock},
	}
}

// peek returns the staged node if one exists, else the committed node.
// Returns nil for unknown ids.
func (d *tickDelta) peek(id string) *Node {
	if n, ok := d.staged[id]; ok {
		return n
	}
	return d.topo.Nodes[id]
}

// stage returns a writable clone of the node, creating it on first use.
// Returns nil for unknown ids.
func (d *tickDelta) stage(id string) *Node {
	if n, ok := d.staged[id]; ok {
		return n
	}
	n, ok := d.topo.Nodes[id]
	if !ok {
		return nil
	}
	c := n.Clone()
	d.staged[id] = c
	return c
}

// liveQueue is the queue length of id as routing must see it: the staged
// queue plus packets already dispatched toward it this tick.
func (d *tickDelta) liveQueue(id string) int {
	return d.peek(id).Queue.Len() + d.inbound[id]
}

// keep carries an in-flight packet over to the next tick.
func (d *tickDelta) keep(p *Packet) {
	d.packets = append(d.packets, p)
}

// dispatch puts a packet on an edge toward target.
func (d *tickDelta) dispatch(p *Packet, target string) {
	d.packets = append(d.packets, p)
	d.inbound[target]++
}

// commit writes staged nodes back and returns the new packet collection.
func (d *tickDelta) commit() []*Packet {
	for _, id := range d.topo.NodeOrder {
		if n, ok := d.staged[id]; ok {
			d.topo.Nodes[id] = n
		}
	}
	return d.packets
}
