// Package sim provides the per-tick traffic simulation engine for cloudgame.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - packet.go: Packet fields, the route stack and how a hop is built
//   - transform.go: the (packet type, node kind) transformation table
//   - simulator.go: Tick and the fixed phase order
//
// # Tick phases
//
// Every Tick runs the same phases in the same order, iterating nodes in
// Topology.NodeOrder:
//   - transit.go: advance packets, deliver responses, admit or drop arrivals
//   - scheduler.go: retire finished tasks, transform, route, dispatch; then
//     admit queued packets into free concurrency slots
//   - spawn.go: origin traffic and telemetry
//   - economy.go: recurring upkeep
//
// All node writes go through a tickDelta (delta.go) and are committed at the
// end of the tick. Routing and backpressure read the delta, so decisions made
// earlier in a tick are visible to later ones.
//
// # Routing
//
// routing.go holds the strategy chain: region-aware, local-affinity,
// capacity-weighted, round-robin, uniform. The first strategy that selects a
// candidate wins. Response-phase packets bypass the chain and retrace their
// route stack.
//
// # Sub-packages
//   - sim/ledger/: monetary entries, rolling window, penalty cooldown
//   - sim/trace/: optional routing and admission decision records
//   - sim/scenario/: YAML scenario files and topology construction
//   - sim/observability/: Prometheus collector and OpenTelemetry setup
package sim
