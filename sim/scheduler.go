package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/theczechguy/cloudgame/sim/ledger"
)

// completeTasks retires every task on the node whose completion time has
// passed and hands each packet to transformation and routing.
func (s *Simulator) completeTasks(d *tickDelta, id string) {
	if n := d.peek(id); n == nil || len(n.ActiveTasks) == 0 {
		return
	}
	node := d.stage(id)
	var (
		completed []*Packet
		remaining = node.ActiveTasks[:0:0]
	)
	for _, t := range node.ActiveTasks {
		if t.CompletesAt <= s.clock {
			completed = append(completed, t.Packet)
		} else {
			remaining = append(remaining, t)
		}
	}
	node.ActiveTasks = remaining
	for _, p := range completed {
		s.finish(d, node, p)
	}
}

// finish processes one completed packet: SLA tainting, transformation,
// routing, backpressure and dispatch.
func (s *Simulator) finish(d *tickDelta, node *Node, p *Packet) {
	if node.Kind.IsCompute() && p.Type.IsRequest() && !p.SLAViolated && s.violatesSLA(node, p) {
		tainted := *p
		tainted.SLAViolated = true
		p = &tainted
	}

	next, outcome := s.transform(d, node, p)
	switch outcome {
	case OutcomeAbsorbed:
		logrus.Debugf("[sched] attack %s absorbed at %s", p.ID, node.ID)
		d.report.Absorbed = append(d.report.Absorbed, AbsorbEvent{At: s.clock, NodeID: node.ID, PacketID: p.ID})
		return
	case OutcomeCapabilityMissing:
		s.drop(d, node.ID, p, DropCapabilityMissing)
		return
	}

	c, ok := s.route(d, node, p, next)
	if !ok {
		switch {
		case next.IsResponsePhase():
			logrus.Warnf("[sched] %s at %s has no return hop (stack %v)", p.ID, node.ID, p.RouteStack)
			s.drop(d, node.ID, p, DropInvalidPath)
		case next.IsCustomer():
			s.drop(d, node.ID, p, DropNoRoute)
		default:
			logrus.Debugf("[sched] %s %s discarded at %s: no route", next, p.ID, node.ID)
		}
		return
	}

	if node.Kind.IsQueue() && s.blocked(d, c.Target) {
		node.ActiveTasks = append(node.ActiveTasks, Task{CompletesAt: s.clock + s.cfg.BackpressureRetryMs, Packet: p})
		d.report.BackpressureRetries++
		return
	}
	d.dispatch(p.nextHop(next, c), c.Target)
}

// violatesSLA reports whether node's region is located somewhere other than
// where the packet originated. Nodes without a located region never taint.
func (s *Simulator) violatesSLA(node *Node, p *Packet) bool {
	if p.OriginRegion == "" {
		return false
	}
	loc, ok := s.topo.RegionLocation(node)
	return ok && loc != p.OriginRegion
}

// admitTasks moves queued packets into free concurrency slots and updates
// the utilization gauge.
func (s *Simulator) admitTasks(d *tickDelta, id string) {
	node := d.stage(id)
	if node == nil {
		return
	}
	lim := s.catalog.Limits(node)
	if lim.Speed*lim.Multiplier > 0 {
		for len(node.ActiveTasks) < lim.MaxConcurrent && node.Queue.Len() > 0 {
			p := node.Queue.Dequeue()
			s.bill(d, node, p)
			node.ActiveTasks = append(node.ActiveTasks, Task{
				CompletesAt: s.clock + s.execDuration(node, lim, p),
				Packet:      p,
			})
		}
	}
	target := math.Min(1, float64(len(node.ActiveTasks))/float64(max(1, lim.MaxConcurrent)))
	node.Utilization += (target - node.Utilization) * s.cfg.UtilizationSmoothing
}

// execDuration is the processing time of p at node in milliseconds.
// Compute and database work for a packet from another location takes longer,
// except on globally distributed databases.
func (s *Simulator) execDuration(node *Node, lim Limits, p *Packet) int64 {
	ms := max(s.cfg.MinExecMs, int64(math.Round(1000/(lim.Speed*lim.Multiplier))))
	if !(node.Kind.IsCompute() || node.Kind.IsDatabase()) || node.Kind.IsGloballyDistributed() {
		return ms
	}
	if p.OriginRegion == "" || node.RegionID == "" {
		return ms
	}
	if loc, ok := s.topo.RegionLocation(node); !ok || loc != p.OriginRegion {
		ms = int64(math.Round(float64(ms) * s.cfg.CrossRegionExecFactor))
	}
	return ms
}

// bill draws down the serverless allowance, charging per execution once it
// is exhausted. Only request kinds are billed.
func (s *Simulator) bill(d *tickDelta, node *Node, p *Packet) {
	if !node.Kind.IsServerless() || !p.Type.IsRequest() {
		return
	}
	if node.FreeRequestsRemaining > 0 {
		node.FreeRequestsRemaining--
		return
	}
	if spec, ok := s.catalog.Spec(node.Kind); ok && spec.PerRequestCost > 0 {
		s.charge(d, ledger.CauseBilling, -spec.PerRequestCost, node.ID, p.RootID)
	}
}
