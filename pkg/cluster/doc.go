// Package cluster implements the cluster controller: worker and client
// registry, placement of new clients onto workers, and the broadcast
// commands (tracing, workload, discovery) that drive the fleet. It also
// carries the ClientGroup convenience type the experiment daemon and the
// CLI build on top of single-client operations.
//
// State lives entirely in the coordination substrate; the controller
// itself holds no authoritative in-memory state. There is a single
// authoritative store (Redis) instead of a replicated log, because load
// generation has no split-brain hazard worth paying a consensus
// protocol's complexity for.
package cluster
