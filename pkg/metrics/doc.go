/*
Package metrics provides Prometheus metrics for corral.

All collectors are defined as package variables and registered at init
against the default registry. Metric categories:

  - Work queue: items by status, agents by status
  - Claim engine: claim attempts by outcome, terminal transitions,
    per-operation duration
  - State store: lock wait duration, lock timeouts
  - Span writer: spans written, write failures
  - Maintenance: job runs by outcome, job duration, health score

CLI invocations are short-lived processes, so counters matter mostly in
the maintenance daemon, which can expose them through Handler on a
scrape endpoint. The Timer helper standardizes duration observation:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "claim")
*/
package metrics
