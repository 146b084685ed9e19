package ledger

// PenaltyTracker charges each logical request at most once per cooldown, so
// repeated drop attempts of the same request across hops are not billed twice.
type PenaltyTracker struct {
	cooldownMs int64
	last       map[string]int64 // root id -> clock of last charge
}

// NewPenaltyTracker creates a tracker with the given suppression window.
func NewPenaltyTracker(cooldownMs int64) *PenaltyTracker {
	return &PenaltyTracker{cooldownMs: cooldownMs, last: make(map[string]int64)}
}

// ShouldCharge reports whether rootID may be penalized at now, and if so
// records the charge.
func (p *PenaltyTracker) ShouldCharge(rootID string, now int64) bool {
	if at, seen := p.last[rootID]; seen && now-at <= p.cooldownMs {
		return false
	}
	p.last[rootID] = now
	return true
}

// Prune forgets charges older than the cooldown.
func (p *PenaltyTracker) Prune(now int64) {
	for id, at := range p.last {
		if now-at > p.cooldownMs {
			delete(p.last, id)
		}
	}
}

// Len returns the number of tracked requests.
func (p *PenaltyTracker) Len() int { return len(p.last) }
