/*
Package types defines the core data structures used throughout corral.

This package contains the fundamental types of the coordination domain:
work items, agents, completed-work records, spans, and the error
classification shared by every other package. All other packages depend
on it and it depends on nothing but the standard library.

# Core Types

Work lifecycle:
  - WorkItem: one unit of work with a claim lifecycle
  - WorkStatus: pending, active, blocked, completed, failed, cancelled
  - Priority: critical, high, medium, low (claim order)
  - CompletedWorkRecord: terminal WorkItem plus duration bookkeeping

Agents:
  - Agent: a registered worker identity with capacity accounting
  - AgentStatus: registering, active, busy, idle, maintenance, offline

Tracing:
  - Span: one record of one operation in the append-only span log
  - SpanStatus: started, ok, error, timeout

Errors:
  - Error / ErrorKind: behavior-classed failures (BUSY, NOT_FOUND, ...)
    that the CLI maps onto exit codes

All types are designed to be:
  - Serializable (JSON state documents and the span log)
  - Validated (validator struct tags checked by the state store)
  - Self-documenting (string-typed enums with const blocks)

# Invariants encoded here

WorkStatus.Terminal gates every mutation: a terminal item refuses all
further transitions. WorkStatus.Held defines which items count against
an agent's CurrentWorkload; the store and the verification job both use
it so the accounting rule has a single definition.
*/
package types
