package sim

// blocked reports whether a queue node must hold back a packet for target
// because the target cannot take more work, counting same-tick dispatches.
func (s *Simulator) blocked(d *tickDelta, target string) bool {
	t := d.peek(target)
	if t == nil {
		return false
	}
	lim := s.catalog.Limits(t)
	capacity := t.MaxQueueSize + max(0, lim.MaxConcurrent-len(t.ActiveTasks))
	return d.liveQueue(target) >= capacity
}
