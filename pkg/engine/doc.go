/*
Package engine implements the claim engine, the single writer of
corral's coordination state.

Every mutating transition lives here: agent registration and
heartbeats, work creation, targeted and next-claim acquisition,
progress and block/unblock, and the terminal transitions complete,
fail and cancel. The read-only projections live in pkg/queue; the
maintenance jobs in pkg/maintenance call back into this package for
any mutation so there is exactly one write path.

# Transaction shape

Each operation runs as:

	span := tracer.StartSpan(operation, attrs)
	store.Update(scope, func(st *State) error {
	    // validate preconditions against the locked snapshot
	    // mutate claims / agents / completed in memory
	    return nil // or an error to roll back
	})
	span.End(status, ...)

The store holds the combined exclusive lock for the duration of the
callback and commits every touched document atomically, so a claim's
twin mutation of active-claims and the agent registry is indivisible.
A callback error discards the in-memory state; nothing partial ever
reaches disk.

# Ordering

Next-claim scans pending items matching the work_type/team/priority
filters and takes them in priority order (critical > high > medium >
low), ties broken by ascending created_at and then ascending work_id.
Work IDs embed their mint instant, so the final tie-break is
deterministic even within one timestamp.

# Concurrency

BUSY from lock contention is retried internally with jittered
exponential backoff up to the configured budget, then surfaced. A
candidate that stopped being pending between scan and commit cannot
occur within one transaction; between transactions next-claim simply
no longer sees it, and a targeted claim reports STATE_CONFLICT.

Spans are emitted for failed operations too, carrying status=error and
an error_kind attribute, so the span log remains a complete record.
*/
package engine
