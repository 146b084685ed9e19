// Package trace provides decision-trace recording for routing and admission analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// AdmissionRecord captures a single arrival decision at a node.
type AdmissionRecord struct {
	PacketID string
	NodeID   string
	Clock    int64
	Admitted bool
	Reason   string // drop reason when not admitted
}

// CandidateScore captures one candidate edge considered by a routing decision.
type CandidateScore struct {
	EdgeID    string
	TargetID  string
	Weight    float64 // capacity weight; 0 for strategies that do not weigh
	LiveQueue int     // target queue length including same-tick dispatches
}

// RoutingRecord captures a single routing decision at a node.
type RoutingRecord struct {
	PacketID   string
	PacketType string
	NodeID     string
	Clock      int64
	Strategy   string // name of the strategy that produced the selection
	ChosenEdge string
	ChosenNode string
	Candidates []CandidateScore // every legal candidate, in evaluation order
}
