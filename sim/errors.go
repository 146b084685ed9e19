package sim

import "errors"

// Structural errors returned by Topology mutators and loaders.
var (
	ErrDuplicateID    = errors.New("duplicate id")
	ErrUnknownNode    = errors.New("unknown node")
	ErrUnknownEdge    = errors.New("unknown edge")
	ErrUnknownRegion  = errors.New("unknown region")
	ErrUnknownKind    = errors.New("unknown service kind")
	ErrOriginFanout   = errors.New("origin node already has an outgoing edge")
	ErrSelfLoop       = errors.New("edge source and target are the same node")
	ErrInvalidUpgrade = errors.New("upgrade not installable on this kind")
	ErrNoOutgoingEdge = errors.New("origin node has no outgoing edge")
)

// DropReason classifies why a packet left the simulation without being
// delivered. None of these are fatal to the tick.
type DropReason string

const (
	// DropCapacityExceeded: the arrival node's queue and free slots were full.
	DropCapacityExceeded DropReason = "capacity-exceeded"
	// DropCapabilityMissing: a db/storage request reached a compute node with
	// no downstream resource able to serve it.
	DropCapabilityMissing DropReason = "capability-missing"
	// DropInvalidPath: a response-phase hop with an exhausted or inconsistent
	// route stack, or a reference to a removed edge or node.
	DropInvalidPath DropReason = "invalid-path"
	// DropNoRoute: a request-phase packet finished processing on a node with
	// no legal outgoing edge.
	DropNoRoute DropReason = "no-route"
)
