// Tracks run-wide totals and the rolling drop/cache-hit state read by an
// observability layer.

package sim

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/theczechguy/cloudgame/sim/ledger"
)

// Metrics aggregates statistics about the simulation
// for final reporting.
type Metrics struct {
	Ticks               int
	Spawned             int
	Delivered           int
	SLAViolations       int   // deliveries paid at the reduced rate
	TotalLatencyMs      int64 // sum of spawn-to-delivery latencies
	CacheHits           int
	AttacksAbsorbed     int
	TelemetryConsumed   int
	BackpressureRetries int
	Penalized           int

	DropsByReason map[DropReason]int
	DropsByType   map[PacketType]int
	DropsByNode   map[string]int
	Revenue       map[ledger.Cause]float64 // lifetime ledger totals by cause
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		DropsByReason: make(map[DropReason]int),
		DropsByType:   make(map[PacketType]int),
		DropsByNode:   make(map[string]int),
		Revenue:       make(map[ledger.Cause]float64),
	}
}

// Observe folds one tick report into the totals.
func (m *Metrics) Observe(r *TickReport) {
	m.Ticks++
	m.Spawned += r.Spawned
	m.CacheHits += len(r.CacheHits)
	m.AttacksAbsorbed += len(r.Absorbed)
	m.TelemetryConsumed += r.TelemetryConsumed
	m.BackpressureRetries += r.BackpressureRetries
	for _, dl := range r.Deliveries {
		m.Delivered++
		m.TotalLatencyMs += dl.LatencyMs
		if dl.SLAViolated {
			m.SLAViolations++
		}
	}
	for _, dr := range r.Drops {
		m.DropsByReason[dr.Reason]++
		m.DropsByType[dr.Type]++
		if dr.NodeID != "" {
			m.DropsByNode[dr.NodeID]++
		}
		if dr.Penalized {
			m.Penalized++
		}
	}
	for _, e := range r.Ledger {
		m.Revenue[e.Cause] += e.Amount
	}
}

// TotalDrops sums drops over all reasons.
func (m *Metrics) TotalDrops() int {
	total := 0
	for _, c := range m.DropsByReason {
		total += c
	}
	return total
}

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print(balance float64) {
	m.Fprint(os.Stdout, balance)
}

// Fprint writes the summary to w.
func (m *Metrics) Fprint(w io.Writer, balance float64) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Ticks                : %d\n", m.Ticks)
	fmt.Fprintf(w, "Spawned Packets      : %d\n", m.Spawned)
	fmt.Fprintf(w, "Delivered Responses  : %d\n", m.Delivered)
	if m.Delivered > 0 {
		fmt.Fprintf(w, "Average Latency      : %.2f ms\n", float64(m.TotalLatencyMs)/float64(m.Delivered))
		fmt.Fprintf(w, "SLA Violations       : %d (%.1f%%)\n", m.SLAViolations, 100*float64(m.SLAViolations)/float64(m.Delivered))
	}
	fmt.Fprintf(w, "Cache Hits           : %d\n", m.CacheHits)
	fmt.Fprintf(w, "Attacks Absorbed     : %d\n", m.AttacksAbsorbed)
	fmt.Fprintf(w, "Backpressure Retries : %d\n", m.BackpressureRetries)
	fmt.Fprintf(w, "Dropped Packets      : %d (%d penalized)\n", m.TotalDrops(), m.Penalized)
	reasons := make([]string, 0, len(m.DropsByReason))
	for r := range m.DropsByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  %-19s: %d\n", r, m.DropsByReason[DropReason(r)])
	}
	for _, c := range ledger.Causes {
		if v, ok := m.Revenue[c]; ok {
			fmt.Fprintf(w, "Ledger %-13s : %.2f\n", c, v)
		}
	}
	fmt.Fprintf(w, "Final Balance        : %.2f\n", balance)
}

// DropStats keeps the recent drop events and the last drop and cache hit per
// node, for visual feedback layers.
type DropStats struct {
	windowMs     int64
	recent       []DropEvent
	LastDrop     map[string]int64 // node id -> clock of last drop
	LastCacheHit map[string]int64 // node id -> clock of last cache hit
}

// NewDropStats creates drop stats retaining events for windowMs.
func NewDropStats(windowMs int64) *DropStats {
	return &DropStats{
		windowMs:     windowMs,
		LastDrop:     make(map[string]int64),
		LastCacheHit: make(map[string]int64),
	}
}

// Observe records a tick's drops and cache hits and expires old events.
func (ds *DropStats) Observe(r *TickReport) {
	for _, d := range r.Drops {
		ds.recent = append(ds.recent, d)
		if d.NodeID != "" {
			ds.LastDrop[d.NodeID] = d.At
		}
	}
	for _, h := range r.CacheHits {
		ds.LastCacheHit[h.NodeID] = h.At
	}
	cutoff := r.Clock - ds.windowMs
	i := sort.Search(len(ds.recent), func(i int) bool { return ds.recent[i].At >= cutoff })
	ds.recent = append(ds.recent[:0], ds.recent[i:]...)
}

// Recent returns drops newer than now-sinceMs, bounded by the retention window.
func (ds *DropStats) Recent(now, sinceMs int64) []DropEvent {
	cutoff := now - sinceMs
	i := sort.Search(len(ds.recent), func(i int) bool { return ds.recent[i].At >= cutoff })
	out := make([]DropEvent, len(ds.recent)-i)
	copy(out, ds.recent[i:])
	return out
}
