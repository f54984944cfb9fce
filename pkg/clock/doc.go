/*
Package clock provides monotonic timestamps and collision-free
identifier minting for corral.

Two properties carry the coordination protocol:

  - NowMonotonicNS never goes backwards within a process run, so claim
    and span timestamps order correctly even across wall-clock steps.
  - Entity IDs embed a zero-padded nanosecond instant, so plain string
    comparison of two IDs minted in one process agrees with mint order.
    They act as tie-breakers when two claims land in the same instant.

Trace IDs are 128-bit hex and span IDs 64-bit hex, drawn from
crypto/rand. If the random source fails the clock switches to a counter
seeded from the monotonic clock for the rest of the run; IDs stay
unique within the host, and UsingFallback lets callers record the
degradation on their spans.
*/
package clock
