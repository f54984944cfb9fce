/*
Package trace implements corral's span log, the authoritative
append-only record of every operation.

Spans are newline-delimited JSON, one record per completed operation,
written to spans.jsonl in the coordination directory. A record carries
(trace_id, span_id, parent_span_id, operation_name, service_name,
start_time, end_time, duration_ms, status, attributes). Both start and
end are written as a single record at operation completion.

# Write discipline

Each record is emitted in a single write call to an O_APPEND handle.
On a partial write the writer re-seeks to end and rewrites the record;
readers tolerate one truncated final line. Writer failures never abort
the calling operation: they go to stderr and the
corral_span_write_failures_total counter.

# Context propagation

Trace context flows through context.Context within a process and
through TRACE_ID / PARENT_SPAN_ID environment variables across process
boundaries. FromEnv seeds a root context at startup; Env renders the
assignments for subprocesses spawned by maintenance jobs.

# Rotation

The maintenance scheduler rotates the log by renaming it to
spans-YYYYMMDD-HHMMSS.jsonl and letting the writer reopen a fresh
file. LogFiles returns rotated files plus the active log in
lexicographic (= chronological) order for readers.
*/
package trace
