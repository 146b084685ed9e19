// Defines the Packet struct that models one unit of simulated traffic.
// Tracks the current transit segment, the route stack used for strict return
// routing, and the region tags used for SLA accounting.

package sim

import (
	"fmt"
	"strings"
)

// Packet models a single traffic unit. A packet keeps its RootID across every
// transformation hop so a logical request can be identified end to end.
type Packet struct {
	ID     string     // Per-hop identifier: RootID for the first hop, RootID-hop-N afterwards
	RootID string     // Stable logical-request identifier
	Type   PacketType // Current protocol stage

	EdgeID   string  // Edge the packet is currently traveling on (empty for telemetry)
	Reversed bool    // true = traveling Target -> Source
	Progress float64 // 0.0 to 1.0 along the current segment
	Speed    float64 // Progress per second (distance units per second for telemetry)

	RouteStack []string // Visited node ids; second-to-last entry is the return hop

	OriginRegion string // Logical location tag of the client, empty if unknown
	SLAViolated  bool   // Sticky: set once a foreign-region compute node served the request

	TargetNodeID string // Telemetry direct-flight target

	ForwardHops int   // Pushes onto RouteStack, the spawn hop included
	ReturnHops  int   // Pops from RouteStack
	SpawnedAt   int64 // Clock (ms) when the logical request entered the system
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet: (ID: %s, Type: %s, Edge: %s, Progress: %.2f, Stack: [%s])",
		p.ID, p.Type, p.EdgeID, p.Progress, strings.Join(p.RouteStack, " "))
}

// Current returns the node id at the top of the route stack, or "" if empty.
func (p *Packet) Current() string {
	if len(p.RouteStack) == 0 {
		return ""
	}
	return p.RouteStack[len(p.RouteStack)-1]
}

// ReturnHop returns the node a response-phase packet must travel to next.
// ok is false when the stack holds fewer than two entries.
func (p *Packet) ReturnHop() (string, bool) {
	if len(p.RouteStack) < 2 {
		return "", false
	}
	return p.RouteStack[len(p.RouteStack)-2], true
}

// nextHop builds the packet that leaves the current node on edge e as type t.
// Request-phase travel pushes the target onto the stack, response-phase
// travel pops the current node. The receiver is not modified.
func (p *Packet) nextHop(t PacketType, e candidate) *Packet {
	next := *p
	next.Type = t
	next.EdgeID = e.EdgeID
	next.Reversed = e.Reversed
	next.Progress = 0
	stack := make([]string, len(p.RouteStack), len(p.RouteStack)+1)
	copy(stack, p.RouteStack)
	if t.IsResponsePhase() {
		stack = stack[:len(stack)-1]
		next.ReturnHops++
	} else {
		stack = append(stack, e.Target)
		next.ForwardHops++
	}
	next.RouteStack = stack
	next.ID = fmt.Sprintf("%s-hop-%d", p.RootID, next.ForwardHops+next.ReturnHops)
	return &next
}
