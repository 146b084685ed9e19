package sim

import (
	"github.com/theczechguy/cloudgame/sim/ledger"
)

// DropEvent records a packet leaving the simulation without delivery.
type DropEvent struct {
	At        int64
	NodeID    string // empty when the packet was lost on a removed edge
	PacketID  string
	RootID    string
	Type      PacketType
	Reason    DropReason
	Penalized bool // false for attacks, telemetry and suppressed repeats
}

// CacheHitEvent records a db-query short-circuited at a cache node.
type CacheHitEvent struct {
	At       int64
	NodeID   string
	PacketID string
}

// AbsorbEvent records an attack terminated at a firewall node.
type AbsorbEvent struct {
	At       int64
	NodeID   string
	PacketID string
}

// Delivery records a response reaching an origin node.
type Delivery struct {
	At          int64
	NodeID      string
	RootID      string
	SLAViolated bool
	Reward      float64
	FinalStack  []string
	ForwardHops int
	ReturnHops  int
	LatencyMs   int64 // spawn to delivery
}

// TickReport is the observable output of one tick, intended for an external
// rendering or metrics layer.
type TickReport struct {
	Clock      int64
	Ledger     []ledger.Entry
	Drops      []DropEvent
	CacheHits  []CacheHitEvent
	Absorbed   []AbsorbEvent
	Deliveries []Delivery

	Spawned             int
	TelemetryConsumed   int
	BackpressureRetries int
}

// Net returns the sum of this tick's ledger entries.
func (r *TickReport) Net() float64 {
	total := 0.0
	for _, e := range r.Ledger {
		total += e.Amount
	}
	return total
}
