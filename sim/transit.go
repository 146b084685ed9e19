package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/theczechguy/cloudgame/sim/ledger"
	"github.com/theczechguy/cloudgame/sim/trace"
)

// advancePackets moves every in-flight packet along its segment and resolves
// arrivals into queues, deliveries or drops.
func (s *Simulator) advancePackets(d *tickDelta, dt float64) {
	for _, p := range s.packets {
		if p.Type.IsTelemetry() {
			s.advanceTelemetry(d, p, dt)
			continue
		}
		e, ok := s.topo.Edges[p.EdgeID]
		if !ok {
			s.drop(d, "", p, DropInvalidPath)
			continue
		}
		next := *p
		next.Progress += p.Speed * s.segmentFactor(e) * dt
		if next.Progress < 1 {
			d.keep(&next)
			continue
		}
		next.Progress = 1
		arrival := e.Target
		if p.Reversed {
			arrival = e.Source
		}
		s.arrive(d, arrival, &next)
	}
}

// segmentFactor slows travel between nodes placed in different regions.
func (s *Simulator) segmentFactor(e *Edge) float64 {
	src, dst := s.topo.Nodes[e.Source], s.topo.Nodes[e.Target]
	if src == nil || dst == nil || src.RegionID == "" || dst.RegionID == "" || src.RegionID == dst.RegionID {
		return 1
	}
	return s.cfg.CrossRegionSpeedFactor
}

// advanceTelemetry flies a log entry straight to the monitor. Progress is
// normalized by the straight-line distance so all entries travel at the same
// absolute speed. Entries whose endpoints vanished are discarded.
func (s *Simulator) advanceTelemetry(d *tickDelta, p *Packet, dt float64) {
	if len(p.RouteStack) == 0 {
		return
	}
	src, dst := s.topo.Nodes[p.RouteStack[0]], s.topo.Nodes[p.TargetNodeID]
	if src == nil || dst == nil {
		return
	}
	next := *p
	dist := math.Hypot(dst.Position.X-src.Position.X, dst.Position.Y-src.Position.Y)
	if dist <= 0 {
		next.Progress = 1
	} else {
		next.Progress += p.Speed * dt / dist
	}
	if next.Progress >= 1 {
		d.report.TelemetryConsumed++
		return
	}
	d.keep(&next)
}

// arrive resolves a packet reaching nodeID: a response at an origin is
// delivered, anything else is admitted to the queue if there is capacity.
func (s *Simulator) arrive(d *tickDelta, nodeID string, p *Packet) {
	node := d.peek(nodeID)
	if node == nil {
		s.drop(d, "", p, DropInvalidPath)
		return
	}
	if node.Kind.IsOrigin() && p.Type == PacketHTTPResponse {
		s.deliver(d, node, p)
		return
	}
	lim := s.catalog.Limits(node)
	capacity := node.MaxQueueSize + max(0, lim.MaxConcurrent-len(node.ActiveTasks))
	if node.Queue.Len() >= capacity {
		s.recordAdmission(p, nodeID, false, DropCapacityExceeded)
		s.drop(d, nodeID, p, DropCapacityExceeded)
		return
	}
	d.stage(nodeID).Queue.Enqueue(p)
	s.recordAdmission(p, nodeID, true, "")
}

func (s *Simulator) recordAdmission(p *Packet, nodeID string, admitted bool, reason DropReason) {
	if !s.trace.Enabled() {
		return
	}
	s.trace.RecordAdmission(trace.AdmissionRecord{
		PacketID: p.ID,
		NodeID:   nodeID,
		Clock:    s.clock,
		Admitted: admitted,
		Reason:   string(reason),
	})
}

// deliver pays the terminal reward for a response reaching an origin node.
func (s *Simulator) deliver(d *tickDelta, node *Node, p *Packet) {
	reward, cause := s.cfg.Reward, ledger.CauseReward
	if p.SLAViolated {
		reward, cause = s.cfg.Reward*s.cfg.SLARewardFactor, ledger.CauseSLAReward
	}
	s.charge(d, cause, reward, node.ID, p.RootID)
	d.report.Deliveries = append(d.report.Deliveries, Delivery{
		At:          s.clock,
		NodeID:      node.ID,
		RootID:      p.RootID,
		SLAViolated: p.SLAViolated,
		Reward:      reward,
		FinalStack:  p.RouteStack,
		ForwardHops: p.ForwardHops,
		ReturnHops:  p.ReturnHops,
		LatencyMs:   s.clock - p.SpawnedAt,
	})
}

// drop removes a packet from the simulation. Customer traffic is penalized
// once per logical request within the cooldown.
func (s *Simulator) drop(d *tickDelta, nodeID string, p *Packet, reason DropReason) {
	if nodeID != "" {
		if n := d.stage(nodeID); n != nil {
			n.DroppedPackets[p.Type]++
		}
	}
	ev := DropEvent{
		At:       s.clock,
		NodeID:   nodeID,
		PacketID: p.ID,
		RootID:   p.RootID,
		Type:     p.Type,
		Reason:   reason,
	}
	if p.Type.IsCustomer() && s.penalties.ShouldCharge(p.RootID, s.clock) {
		ev.Penalized = true
		s.charge(d, ledger.CausePenalty, -s.cfg.FailurePenalty, nodeID, p.RootID)
	}
	logrus.Debugf("[drop] %s (%s) at %q: %s penalized=%v", p.ID, p.Type, nodeID, reason, ev.Penalized)
	d.report.Drops = append(d.report.Drops, ev)
}

// charge stages a ledger entry; it is applied at commit.
func (s *Simulator) charge(d *tickDelta, cause ledger.Cause, amount float64, nodeID, rootID string) {
	d.report.Ledger = append(d.report.Ledger, ledger.Entry{
		At:     s.clock,
		Cause:  cause,
		Amount: amount,
		NodeID: nodeID,
		RootID: rootID,
	})
}
