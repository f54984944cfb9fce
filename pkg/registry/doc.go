/*
Package registry provides the agent-facing surface of corral:
registration, heartbeats, status changes, draining deregistration, and
team/specialization lookups.

The registry owns no state of its own. Mutations delegate to the claim
engine so that workload accounting (an agent's current_workload always
equals its held items) has exactly one writer; reads take store
snapshots and sort for stable output.
*/
package registry
