package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDecisions     int
	AdmittedCount      int
	RejectedCount      int
	RejectReasons      map[string]int // drop reason → count
	UniqueTargets      int
	TargetDistribution map[string]int // node ID → count of packets routed to it
	StrategyCounts     map[string]int // strategy name → decisions it produced
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		RejectReasons:      make(map[string]int),
		TargetDistribution: make(map[string]int),
		StrategyCounts:     make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalDecisions = len(st.Admissions)
	for _, a := range st.Admissions {
		if a.Admitted {
			summary.AdmittedCount++
		} else {
			summary.RejectedCount++
			summary.RejectReasons[a.Reason]++
		}
	}

	for _, r := range st.Routings {
		summary.TargetDistribution[r.ChosenNode]++
		summary.StrategyCounts[r.Strategy]++
	}

	summary.UniqueTargets = len(summary.TargetDistribution)

	return summary
}
