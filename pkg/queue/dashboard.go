package queue

import (
	"context"
	"sort"
	"time"

	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

const (
	// staleBlockedLimit caps how many blocked items the dashboard lists
	staleBlockedLimit = 5

	// completionWindow is the lookback for throughput figures
	completionWindow = 24 * time.Hour
)

// TeamLoad summarizes one team's supply and demand
type TeamLoad struct {
	Team        string `json:"team"`
	Agents      int    `json:"agents"`
	CapacityMax int    `json:"capacity_max"`
	Workload    int    `json:"workload"`
	QueueDepth  int    `json:"queue_depth"`
}

// Dashboard is a point-in-time operational summary of the queue
type Dashboard struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	CountsByStatus map[types.WorkStatus]int `json:"counts_by_status"`
	Teams          []TeamLoad              `json:"teams"`
	StaleBlocked   []*types.WorkItem       `json:"stale_blocked,omitempty"`
	AgentsTotal    int                     `json:"agents_total"`
	AgentsStale    int                     `json:"agents_stale"`
	CompletedLast  int                     `json:"completed_last_24h"`
	FailedLast     int                     `json:"failed_last_24h"`
	CompletionRate float64                 `json:"completion_rate"`
	HealthScore    int                     `json:"health_score"`
}

// Dashboard builds the operational summary from one snapshot
func (v *View) Dashboard(ctx context.Context) (*Dashboard, error) {
	st, err := v.store.Snapshot(ctx, store.ScopeAll)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	d := &Dashboard{
		GeneratedAt:    now,
		CountsByStatus: map[types.WorkStatus]int{},
		AgentsTotal:    len(st.Agents),
	}

	loads := map[string]*TeamLoad{}
	teamLoad := func(team string) *TeamLoad {
		tl, ok := loads[team]
		if !ok {
			tl = &TeamLoad{Team: team}
			loads[team] = tl
		}
		return tl
	}

	var blocked []*types.WorkItem
	for _, w := range st.Claims {
		d.CountsByStatus[w.Status]++
		if w.Status == types.WorkStatusPending {
			teamLoad(w.Team).QueueDepth++
		}
		if w.Status == types.WorkStatusBlocked {
			blocked = append(blocked, w)
		}
	}

	for _, a := range st.Agents {
		tl := teamLoad(a.Team)
		tl.Agents++
		tl.CapacityMax += a.CapacityMax
		tl.Workload += a.CurrentWorkload
		if stale(a, now, v.heartbeatTimeout) {
			d.AgentsStale++
		}
	}

	for _, r := range st.Completed {
		if r.CompletedAt == nil || now.Sub(*r.CompletedAt) > completionWindow {
			continue
		}
		switch r.Status {
		case types.WorkStatusCompleted:
			d.CompletedLast++
		case types.WorkStatusFailed:
			d.FailedLast++
		}
	}
	if terminal := d.CompletedLast + d.FailedLast; terminal > 0 {
		d.CompletionRate = float64(d.CompletedLast) / float64(terminal)
	}

	// Oldest blocked first: those are the ones a human should look at
	sort.Slice(blocked, func(i, j int) bool {
		return claimedAt(blocked[i]).Before(claimedAt(blocked[j]))
	})
	if len(blocked) > staleBlockedLimit {
		blocked = blocked[:staleBlockedLimit]
	}
	d.StaleBlocked = blocked

	d.Teams = make([]TeamLoad, 0, len(loads))
	for _, tl := range loads {
		d.Teams = append(d.Teams, *tl)
	}
	sort.Slice(d.Teams, func(i, j int) bool {
		return d.Teams[i].Team < d.Teams[j].Team
	})

	d.HealthScore = healthScore(st, now, v.heartbeatTimeout)
	return d, nil
}

func claimedAt(w *types.WorkItem) time.Time {
	if w.ClaimedAt != nil {
		return *w.ClaimedAt
	}
	return w.CreatedAt
}

func stale(a *types.Agent, now time.Time, timeout time.Duration) bool {
	return a.Status != types.AgentStatusOffline && now.Sub(a.LastHeartbeatAt) > timeout
}
