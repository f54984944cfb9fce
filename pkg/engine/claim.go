package engine

import (
	"context"
	"sort"
	"time"

	"github.com/corralhq/corral/pkg/clock"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

// CreateWork mints a new pending work item with its own trace ID
func (e *Engine) CreateWork(ctx context.Context, workType, description string, priority types.Priority, team string, estimated time.Duration) (*types.WorkItem, error) {
	if workType == "" {
		return nil, types.NewError(types.ErrInvalidArg, "work_type is required")
	}
	if priority == "" {
		priority = types.PriorityMedium
	}
	if !priority.Valid() {
		return nil, types.NewError(types.ErrInvalidArg, "unknown priority %q", priority)
	}

	item := &types.WorkItem{
		WorkID:            e.clock.NewEntityID(clock.KindWork),
		WorkType:          workType,
		Description:       description,
		Priority:          priority,
		Team:              team,
		Status:            types.WorkStatusPending,
		CreatedAt:         e.now(),
		EstimatedDuration: estimated,
		TraceID:           e.clock.NewTraceID(),
	}

	err := e.traced(ctx, "claim_engine.create_work", map[string]string{
		"work_id":   item.WorkID,
		"work_type": workType,
		"priority":  string(priority),
		"team":      team,
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeClaims, func(st *store.State) error {
			st.Claims = append(st.Claims, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ClaimRequest selects work for an agent. WorkID set means a targeted
// claim of that specific item; otherwise pending items are scanned
// against the filters.
type ClaimRequest struct {
	AgentID  string
	WorkID   string
	WorkType string
	Team     string
	Priority types.Priority

	// DesiredCount bounds a next-claim; default 1
	DesiredCount int

	// RequireNonempty turns an empty next-claim result into NOT_FOUND
	RequireNonempty bool
}

// Claim transitions up to DesiredCount pending items to active,
// assigned to the requesting agent. Candidates are taken in priority
// order, ties broken by ascending created_at then ascending work_id.
// Both state documents commit atomically; one span is emitted per
// claimed item.
func (e *Engine) Claim(ctx context.Context, req ClaimRequest) ([]*types.WorkItem, error) {
	if req.AgentID == "" {
		return nil, types.NewError(types.ErrInvalidArg, "agent_id is required")
	}
	if req.DesiredCount <= 0 {
		req.DesiredCount = 1
	}
	if req.WorkID != "" && req.DesiredCount != 1 {
		return nil, types.NewError(types.ErrInvalidArg, "targeted claim takes exactly one item")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, types.NewError(types.ErrInvalidArg, "unknown priority %q", req.Priority)
	}

	operation := "claim_engine.claim"
	if req.WorkID == "" {
		operation = "claim_engine.claim_next"
	}

	var claimed []*types.WorkItem
	err := e.traced(ctx, operation, map[string]string{
		"agent_id": req.AgentID,
		"work_id":  req.WorkID,
	}, func(ctx context.Context) error {
		claimed = nil
		return e.store.Update(ctx, store.ScopeClaims|store.ScopeAgents, func(st *store.State) error {
			agent, ok := st.Agents[req.AgentID]
			if !ok {
				return types.NewError(types.ErrNotFound, "agent %s is not registered", req.AgentID)
			}
			if !agent.Available() {
				return types.NewError(types.ErrStateConflict, "agent %s is %s", req.AgentID, agent.Status)
			}
			if agent.CurrentWorkload+req.DesiredCount > agent.CapacityMax {
				return types.NewError(types.ErrCapacityExceeded,
					"agent %s holds %d of %d; cannot take %d more",
					req.AgentID, agent.CurrentWorkload, agent.CapacityMax, req.DesiredCount)
			}

			var candidates []*types.WorkItem
			if req.WorkID != "" {
				item := st.FindClaim(req.WorkID)
				if item == nil {
					return types.NewError(types.ErrNotFound, "work item %s not found", req.WorkID)
				}
				if item.Status != types.WorkStatusPending {
					return types.NewError(types.ErrStateConflict,
						"work item %s is %s, not pending", req.WorkID, item.Status)
				}
				candidates = []*types.WorkItem{item}
			} else {
				candidates = selectCandidates(st.Claims, req)
			}

			now := e.now()
			for _, item := range candidates {
				if len(claimed) == req.DesiredCount {
					break
				}
				item.Status = types.WorkStatusActive
				item.AssignedAgentID = req.AgentID
				claimedAt := now
				item.ClaimedAt = &claimedAt
				item.StartedAt = &claimedAt
				claimed = append(claimed, item)
			}

			agent.CurrentWorkload += len(claimed)
			if agent.CurrentWorkload == agent.CapacityMax {
				agent.Status = types.AgentStatusBusy
			}
			return nil
		})
	})
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues(string(types.KindOf(err))).Inc()
		return nil, err
	}

	for _, item := range claimed {
		metrics.ClaimsTotal.WithLabelValues("ok").Inc()
		_, span := e.tracer.StartSpan(ctx, "claim_engine.claim", map[string]string{
			"work_id":   item.WorkID,
			"agent_id":  req.AgentID,
			"priority":  string(item.Priority),
			"team":      item.Team,
			"work_type": item.WorkType,
		})
		span.End(types.SpanStatusOK, nil)
	}

	if len(claimed) == 0 && req.RequireNonempty {
		return nil, types.NewError(types.ErrNotFound, "no pending work matches the filters")
	}
	return claimed, nil
}

// selectCandidates filters pending items against the request and
// orders them for claiming: priority rank, then created_at, then
// work_id. Items that stopped being pending are skipped silently.
func selectCandidates(claims []*types.WorkItem, req ClaimRequest) []*types.WorkItem {
	var out []*types.WorkItem
	for _, w := range claims {
		if w.Status != types.WorkStatusPending {
			continue
		}
		if req.WorkType != "" && w.WorkType != req.WorkType {
			continue
		}
		if req.Team != "" && w.Team != req.Team {
			continue
		}
		if req.Priority != "" && w.Priority != req.Priority {
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].WorkID < out[j].WorkID
	})
	return out
}

// CreateAndClaim is the one-shot CLI shortcut: mint a pending item and
// immediately claim it for the agent.
func (e *Engine) CreateAndClaim(ctx context.Context, workType, description string, priority types.Priority, team, agentID string) (*types.WorkItem, error) {
	item, err := e.CreateWork(ctx, workType, description, priority, team, 0)
	if err != nil {
		return nil, err
	}
	claimed, err := e.Claim(ctx, ClaimRequest{AgentID: agentID, WorkID: item.WorkID})
	if err != nil {
		return nil, err
	}
	return claimed[0], nil
}
