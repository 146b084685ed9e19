// Package ledger turns simulation events into monetary entries and keeps a
// rolling window of them for per-second reporting.
// This package has no dependencies on sim/; it stores pure data types.
package ledger

import "sort"

// Cause classifies a monetary entry.
type Cause string

const (
	CauseUpkeep    Cause = "upkeep"     // recurring infrastructure cost
	CauseBilling   Cause = "billing"    // serverless per-execution cost
	CauseReward    Cause = "reward"     // response delivered
	CauseSLAReward Cause = "sla-reward" // response delivered with an SLA violation
	CausePenalty   Cause = "penalty"    // failed logical request
)

// Causes lists every cause in reporting order.
var Causes = []Cause{CauseUpkeep, CauseBilling, CauseReward, CauseSLAReward, CausePenalty}

// Entry is one timestamped monetary delta. Amount is negative for costs.
type Entry struct {
	At     int64 // simulation clock (ms)
	Cause  Cause
	Amount float64
	NodeID string // node the entry is attributed to, if any
	RootID string // logical request, for rewards and penalties
}

// Snapshot is the windowed view of the ledger at a point in time.
type Snapshot struct {
	Balance   float64
	PerSecond float64           // net flow per second over the window
	ByCause   map[Cause]float64 // per-second flow by cause over the window
}

// Ledger accumulates entries into a balance and a rolling window.
//
// Thread-safety: NOT thread-safe. Owned by the simulator goroutine.
type Ledger struct {
	balance  float64
	windowMs int64
	window   []Entry // sorted by At, pruned lazily
	totals   map[Cause]float64
	count    int
}

// New creates a ledger with a starting balance and a rolling window length.
func New(initialBalance float64, windowMs int64) *Ledger {
	if windowMs <= 0 {
		panic("ledger.New: windowMs must be positive")
	}
	return &Ledger{
		balance:  initialBalance,
		windowMs: windowMs,
		totals:   make(map[Cause]float64),
	}
}

// Record applies an entry to the balance and the window.
func (l *Ledger) Record(e Entry) {
	l.balance += e.Amount
	l.totals[e.Cause] += e.Amount
	l.count++
	// Entries normally arrive in clock order; keep the window sorted anyway.
	i := sort.Search(len(l.window), func(i int) bool { return l.window[i].At > e.At })
	l.window = append(l.window, Entry{})
	copy(l.window[i+1:], l.window[i:])
	l.window[i] = e
}

// Balance returns the current balance.
func (l *Ledger) Balance() float64 { return l.balance }

// Count returns the number of entries ever recorded.
func (l *Ledger) Count() int { return l.count }

// Total returns the lifetime sum of entries with the given cause.
func (l *Ledger) Total(c Cause) float64 { return l.totals[c] }

// Snapshot prunes entries older than the window and returns the windowed view.
func (l *Ledger) Snapshot(now int64) Snapshot {
	l.prune(now)
	seconds := float64(l.windowMs) / 1000
	s := Snapshot{Balance: l.balance, ByCause: make(map[Cause]float64, len(Causes))}
	for _, e := range l.window {
		s.PerSecond += e.Amount
		s.ByCause[e.Cause] += e.Amount
	}
	s.PerSecond /= seconds
	for c := range s.ByCause {
		s.ByCause[c] /= seconds
	}
	return s
}

// Recent returns the entries currently inside the window.
func (l *Ledger) Recent(now int64) []Entry {
	l.prune(now)
	out := make([]Entry, len(l.window))
	copy(out, l.window)
	return out
}

// Insolvent reports whether the balance has crossed below threshold.
// The decision to end a run is left to the caller.
func (l *Ledger) Insolvent(threshold float64) bool { return l.balance < threshold }

func (l *Ledger) prune(now int64) {
	cutoff := now - l.windowMs
	i := sort.Search(len(l.window), func(i int) bool { return l.window[i].At >= cutoff })
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}
