package queue

import (
	"context"
	"sort"
	"time"

	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

// View computes read-only projections over state store snapshots.
// Every query takes one consistent snapshot and does all work on the
// private copy, so mutating operations are blocked no longer than the
// snapshot read itself.
type View struct {
	store            *store.Store
	heartbeatTimeout time.Duration
}

// New creates a view. The heartbeat timeout feeds the staleness and
// health computations.
func New(st *store.Store, heartbeatTimeout time.Duration) *View {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 10 * time.Minute
	}
	return &View{store: st, heartbeatTimeout: heartbeatTimeout}
}

// Filter narrows a work listing. Zero values match everything.
type Filter struct {
	Status          types.WorkStatus
	Priority        types.Priority
	Team            string
	AssignedAgentID string
	WorkType        string
}

// matches reports whether a work item passes every set filter field
func (f Filter) matches(w *types.WorkItem) bool {
	if f.Status != "" && w.Status != f.Status {
		return false
	}
	if f.Priority != "" && w.Priority != f.Priority {
		return false
	}
	if f.Team != "" && w.Team != f.Team {
		return false
	}
	if f.AssignedAgentID != "" && w.AssignedAgentID != f.AssignedAgentID {
		return false
	}
	if f.WorkType != "" && w.WorkType != f.WorkType {
		return false
	}
	return true
}

// ListWork returns work items matching the filter, live items first.
// Terminal statuses are served from the completed-log; an unfiltered
// listing spans both. Output is ordered by created_at then work_id.
func (v *View) ListWork(ctx context.Context, f Filter) ([]*types.WorkItem, error) {
	scope := store.ScopeClaims | store.ScopeCompleted
	if f.Status != "" {
		if f.Status.Terminal() {
			scope = store.ScopeCompleted
		} else {
			scope = store.ScopeClaims
		}
	}

	st, err := v.store.Snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}

	var out []*types.WorkItem
	for _, w := range st.Claims {
		if f.matches(w) {
			out = append(out, w)
		}
	}
	for _, r := range st.Completed {
		item := r.WorkItem
		if f.matches(&item) {
			out = append(out, &item)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].WorkID < out[j].WorkID
	})
	return out, nil
}

// QueueDepth returns the number of pending items, optionally for one team
func (v *View) QueueDepth(ctx context.Context, team string) (int, error) {
	st, err := v.store.Snapshot(ctx, store.ScopeClaims)
	if err != nil {
		return 0, err
	}
	depth := 0
	for _, w := range st.Claims {
		if w.Status != types.WorkStatusPending {
			continue
		}
		if team != "" && w.Team != team {
			continue
		}
		depth++
	}
	return depth, nil
}
