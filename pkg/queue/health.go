package queue

import (
	"context"
	"time"

	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

// Health score weights. The score starts at 100 and each signal
// deducts up to its weight proportionally.
const (
	weightStaleAgents = 30
	weightBlocked     = 25
	weightBacklog     = 25
	weightFailures    = 20
)

// HealthScore computes the 0-100 coordination health score from one
// snapshot and publishes it as a gauge.
func (v *View) HealthScore(ctx context.Context) (int, error) {
	st, err := v.store.Snapshot(ctx, store.ScopeAll)
	if err != nil {
		return 0, err
	}
	score := healthScore(st, time.Now().UTC(), v.heartbeatTimeout)
	metrics.HealthScore.Set(float64(score))
	return score, nil
}

// healthScore is deterministic given a state and a clock reading, so
// maintenance and the dashboard agree on the number.
func healthScore(st *store.State, now time.Time, heartbeatTimeout time.Duration) int {
	score := 100.0

	// Registered agents that stopped heartbeating
	if len(st.Agents) > 0 {
		staleAgents := 0
		for _, a := range st.Agents {
			if stale(a, now, heartbeatTimeout) {
				staleAgents++
			}
		}
		score -= weightStaleAgents * float64(staleAgents) / float64(len(st.Agents))
	}

	// Held work stuck in blocked
	live, blocked, pending := 0, 0, 0
	for _, w := range st.Claims {
		live++
		switch w.Status {
		case types.WorkStatusBlocked:
			blocked++
		case types.WorkStatusPending:
			pending++
		}
	}
	if live > 0 {
		score -= weightBlocked * float64(blocked) / float64(live)
	}

	// Backlog beyond what the fleet can absorb
	free := 0
	for _, a := range st.Agents {
		if a.Available() {
			free += a.RemainingCapacity()
		}
	}
	if pending > free {
		excess := float64(pending-free) / float64(pending)
		score -= weightBacklog * excess
	}

	// Failure rate over the recent completion window
	completed, failed := 0, 0
	for _, r := range st.Completed {
		if r.CompletedAt == nil || now.Sub(*r.CompletedAt) > completionWindow {
			continue
		}
		switch r.Status {
		case types.WorkStatusCompleted:
			completed++
		case types.WorkStatusFailed:
			failed++
		}
	}
	if terminal := completed + failed; terminal > 0 {
		score -= weightFailures * float64(failed) / float64(terminal)
	}

	if score < 0 {
		score = 0
	}
	return int(score + 0.5)
}
