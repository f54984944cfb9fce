/*
Package maintenance keeps a coordination directory healthy over time.

Eight idempotent jobs cover the upkeep surface:

	health_check           compute and record the health score
	archive_completed      move old completed records to dated archives
	rotate_span_log        rotate the span log past its size threshold
	reality_verify         cross-check the state documents
	stale_heartbeat_sweep  deregister agents that stopped heartbeating
	rebalance              recommend moving backlog between teams
	optimize_work_queue    rewrite documents compacted, in claim order
	status_report          record the daily operational summary

Jobs run one at a time, gated by a file-based token with a TTL; a
token left by a crashed holder is force-released once expired and the
takeover is recorded as an error span. Every run emits a
maintenance.<job> span. The Scheduler runs each job on its configured
cadence, tightened by the degraded factor while health is below the
threshold; RunJob executes a single job for one-shot CLI use.

Health history and status reports land in a bbolt cache next to the
state documents. The cache is derived data and safe to delete.
*/
package maintenance
