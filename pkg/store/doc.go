/*
Package store provides corral's shared state: three JSON documents in a
coordination directory, mutated only under an exclusive lock.

	┌──────────────── COORDINATION DIR ─────────────────┐
	│                                                     │
	│  active-claims.json    array of WorkItem            │
	│  agent-registry.json   map agent_id → Agent         │
	│  completed-log.json    array of CompletedWorkRecord │
	│                                                     │
	│  coordination.lock     combined exclusive lock      │
	│  *.json.bak            pre-image backups            │
	│  *.json.tmp.<pid>      in-flight commits            │
	└─────────────────────────────────────────────────────┘

# Lock discipline

A single combined lock covers every document. A logical state change
that spans documents (a claim touches both active-claims and the agent
registry) therefore commits atomically with no lock-ordering concerns.
Acquisition is bounded by a configured wait (default 5s) and reports
BUSY on timeout; the claim engine retries BUSY with jittered backoff.

Two lock implementations exist, selected once per process at Open:

  - fast: OS advisory lock via flock on coordination.lock. Valid
    across hosts when the filesystem honors advisory locks.
  - safe: lock-file-with-PID created O_CREAT|O_EXCL. Stale locks from
    dead or wedged holders are broken by PID probe or age; the file
    carries a holder token and release is ownership-verified, so a
    superseded holder cannot release its successor's lock. Correct for
    a single host only; Open logs single_host_only=true.

COORDINATION_MODE=fast|safe forces the choice; otherwise Open probes
flock support on the directory. Switching mid-run is not permitted.

# Commit discipline

Update reads the scoped documents, hands a mutable State to the
callback, validates the result against the document schemas, and
replaces each file via write-temp-fsync-rename in the same directory.
If the callback or validation fails, nothing reaches disk: the
operation fully rolls back by discarding the in-memory state.

Open runs crash recovery first: orphaned temp files are deleted and a
corrupt or missing document is restored from its .bak pre-image.

# Reads

Snapshot takes the lock only long enough to read, then returns a
private copy. Readers tolerate a momentarily stale view; the span log,
not these documents, is the authoritative operation record. The same
schema check that gates commits also runs on every read, so a
tampered-but-parseable document surfaces CORRUPT_STATE instead of
flowing into the engine.
*/
package store
