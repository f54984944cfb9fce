package engine

import (
	"context"

	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

// Progress updates the completion percentage of a held item. Progress
// is clamped to [0,100]; a regression is accepted only when the caller
// explicitly downgrades via sub_status.
func (e *Engine) Progress(ctx context.Context, workID string, percent int, subStatus string) (*types.WorkItem, error) {
	if workID == "" {
		return nil, types.NewError(types.ErrInvalidArg, "work_id is required")
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	var result *types.WorkItem
	err := e.traced(ctx, "claim_engine.progress", map[string]string{
		"work_id": workID,
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeClaims|store.ScopeCompleted, func(st *store.State) error {
			item, err := locateHeld(st, workID)
			if err != nil {
				return err
			}
			if percent < item.ProgressPercent && subStatus == "" {
				return types.NewError(types.ErrInvalidArg,
					"progress regression %d -> %d requires an explicit sub_status",
					item.ProgressPercent, percent)
			}
			item.ProgressPercent = percent
			if subStatus != "" {
				item.SubStatus = subStatus
			}
			result = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Block moves an active item to blocked. Blocking an already-blocked
// item is idempotent. The item keeps counting against its agent's
// workload.
func (e *Engine) Block(ctx context.Context, workID, reason string) (*types.WorkItem, error) {
	if workID == "" {
		return nil, types.NewError(types.ErrInvalidArg, "work_id is required")
	}

	var result *types.WorkItem
	err := e.traced(ctx, "claim_engine.block", map[string]string{
		"work_id": workID,
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeClaims|store.ScopeCompleted, func(st *store.State) error {
			item, err := locateHeld(st, workID)
			if err != nil {
				return err
			}
			if item.Status == types.WorkStatusBlocked {
				result = item
				return nil
			}
			item.Status = types.WorkStatusBlocked
			item.BlockedReason = reason
			result = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Unblock moves a blocked item back to active. Unblocking an active
// item is idempotent.
func (e *Engine) Unblock(ctx context.Context, workID string) (*types.WorkItem, error) {
	if workID == "" {
		return nil, types.NewError(types.ErrInvalidArg, "work_id is required")
	}

	var result *types.WorkItem
	err := e.traced(ctx, "claim_engine.unblock", map[string]string{
		"work_id": workID,
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeClaims|store.ScopeCompleted, func(st *store.State) error {
			item, err := locateHeld(st, workID)
			if err != nil {
				return err
			}
			if item.Status == types.WorkStatusActive {
				result = item
				return nil
			}
			item.Status = types.WorkStatusActive
			item.BlockedReason = ""
			result = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Complete terminates a held item successfully: progress forced to
// 100, the agent's workload decremented, the item moved from
// active-claims to the completed-log in one atomic commit.
func (e *Engine) Complete(ctx context.Context, workID, result string, velocityPoints int) (*types.CompletedWorkRecord, error) {
	return e.terminate(ctx, "claim_engine.complete", workID, types.WorkStatusCompleted, result, velocityPoints, nil)
}

// Fail terminates a held item unsuccessfully, recording the reason
func (e *Engine) Fail(ctx context.Context, workID, reason string) (*types.CompletedWorkRecord, error) {
	if reason == "" {
		return nil, types.NewError(types.ErrInvalidArg, "a failure reason is required")
	}
	return e.terminate(ctx, "claim_engine.fail", workID, types.WorkStatusFailed, reason, 0, nil)
}

// Cancel terminates an item from pending or, as the privileged path,
// from active/blocked. A cancelled held item is dropped rather than
// reassigned; the span records the policy.
func (e *Engine) Cancel(ctx context.Context, workID string) (*types.CompletedWorkRecord, error) {
	return e.terminate(ctx, "claim_engine.cancel", workID, types.WorkStatusCancelled, "cancelled", 0,
		map[string]string{"cancel_policy": "drop"})
}

func (e *Engine) terminate(ctx context.Context, operation, workID string, terminal types.WorkStatus, result string, velocityPoints int, extraAttrs map[string]string) (*types.CompletedWorkRecord, error) {
	if workID == "" {
		return nil, types.NewError(types.ErrInvalidArg, "work_id is required")
	}

	attrs := map[string]string{"work_id": workID}
	for k, v := range extraAttrs {
		attrs[k] = v
	}

	var record *types.CompletedWorkRecord
	err := e.traced(ctx, operation, attrs, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeAll, func(st *store.State) error {
			item := st.FindClaim(workID)
			if item == nil {
				if findCompleted(st, workID) != nil {
					return types.NewError(types.ErrInvalidState, "work item %s is already terminal", workID)
				}
				return types.NewError(types.ErrNotFound, "work item %s not found", workID)
			}

			fromPending := item.Status == types.WorkStatusPending
			if fromPending && terminal != types.WorkStatusCancelled {
				return types.NewError(types.ErrInvalidState,
					"work item %s is pending; only cancel applies", workID)
			}

			now := e.now()
			item.Status = terminal
			item.CompletedAt = &now
			item.Result = result
			if terminal == types.WorkStatusCompleted {
				item.ProgressPercent = 100
				item.VelocityPoints = velocityPoints
			}

			var durationMS int64
			if item.StartedAt != nil {
				durationMS = now.Sub(*item.StartedAt).Milliseconds()
			}

			if !fromPending && item.AssignedAgentID != "" {
				if agent, ok := st.Agents[item.AssignedAgentID]; ok && agent.CurrentWorkload > 0 {
					agent.CurrentWorkload--
					if agent.Status == types.AgentStatusBusy && agent.CurrentWorkload < agent.CapacityMax {
						agent.Status = types.AgentStatusActive
					}
				}
			}

			record = &types.CompletedWorkRecord{WorkItem: *item, DurationMS: durationMS}
			st.RemoveClaim(workID)
			st.Completed = append(st.Completed, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.CompletionsTotal.WithLabelValues(string(terminal)).Inc()
	return record, nil
}

// locateHeld finds a non-terminal item that is currently held
// (active or blocked), distinguishing missing from terminal from
// not-yet-claimed for error reporting.
func locateHeld(st *store.State, workID string) (*types.WorkItem, error) {
	item := st.FindClaim(workID)
	if item == nil {
		if findCompleted(st, workID) != nil {
			return nil, types.NewError(types.ErrInvalidState, "work item %s is already terminal", workID)
		}
		return nil, types.NewError(types.ErrNotFound, "work item %s not found", workID)
	}
	if !item.Status.Held() {
		return nil, types.NewError(types.ErrStateConflict, "work item %s is %s", workID, item.Status)
	}
	return item, nil
}

func findCompleted(st *store.State, workID string) *types.CompletedWorkRecord {
	for _, r := range st.Completed {
		if r.WorkID == workID {
			return r
		}
	}
	return nil
}
