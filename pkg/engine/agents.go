package engine

import (
	"context"

	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

// RegisterAgent registers or re-registers an agent. Re-registration of
// the same identity (team and role unchanged) is an upsert that keeps
// the agent's current workload and original registration time; a
// different identity under the same ID is a CONFLICT.
func (e *Engine) RegisterAgent(ctx context.Context, agentID, team, role string, capacityMax int, specialization string) (*types.Agent, error) {
	if agentID == "" || team == "" || role == "" {
		return nil, types.NewError(types.ErrInvalidArg, "agent_id, team and role are required")
	}
	if capacityMax < 1 {
		return nil, types.NewError(types.ErrInvalidArg, "capacity_max must be >= 1, got %d", capacityMax)
	}

	var result *types.Agent
	err := e.traced(ctx, "claim_engine.register_agent", map[string]string{
		"agent_id": agentID,
		"team":     team,
		"role":     role,
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeAgents, func(st *store.State) error {
			now := e.now()
			agent := &types.Agent{
				AgentID:         agentID,
				Team:            team,
				Role:            role,
				CapacityMax:     capacityMax,
				Status:          types.AgentStatusActive,
				Specialization:  specialization,
				LastHeartbeatAt: now,
				RegisteredAt:    now,
			}
			if existing, ok := st.Agents[agentID]; ok {
				if existing.Team != team || existing.Role != role {
					return types.NewError(types.ErrConflict,
						"agent %s already registered as %s/%s", agentID, existing.Team, existing.Role)
				}
				agent.CurrentWorkload = existing.CurrentWorkload
				agent.RegisteredAt = existing.RegisteredAt
				if agent.CurrentWorkload > 0 {
					agent.Status = existing.Status
				}
			}
			st.Agents[agentID] = agent
			result = agent
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Heartbeat updates last_heartbeat_at and optionally status and
// workload. Going offline via heartbeat is refused; deregister is the
// explicit path out.
func (e *Engine) Heartbeat(ctx context.Context, agentID string, status *types.AgentStatus, workload *int) (*types.Agent, error) {
	if agentID == "" {
		return nil, types.NewError(types.ErrInvalidArg, "agent_id is required")
	}
	if status != nil {
		if !status.Valid() {
			return nil, types.NewError(types.ErrInvalidArg, "unknown agent status %q", *status)
		}
		if *status == types.AgentStatusOffline {
			return nil, types.NewError(types.ErrInvalidArg, "heartbeat cannot set status offline; use deregister")
		}
	}

	var result *types.Agent
	err := e.traced(ctx, "claim_engine.heartbeat", map[string]string{
		"agent_id": agentID,
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeAgents, func(st *store.State) error {
			agent, ok := st.Agents[agentID]
			if !ok {
				return types.NewError(types.ErrNotFound, "agent %s is not registered", agentID)
			}
			if workload != nil {
				if *workload < 0 || *workload > agent.CapacityMax {
					return types.NewError(types.ErrInvalidArg,
						"workload %d out of range [0,%d]", *workload, agent.CapacityMax)
				}
				agent.CurrentWorkload = *workload
			}
			if status != nil {
				agent.Status = *status
			}
			agent.LastHeartbeatAt = e.now()
			result = agent
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deregister transitions an agent to offline. Active work held by the
// agent is returned to pending in the same transaction so workload
// accounting never dangles (A3).
func (e *Engine) Deregister(ctx context.Context, agentID string) (*types.Agent, error) {
	if agentID == "" {
		return nil, types.NewError(types.ErrInvalidArg, "agent_id is required")
	}

	var result *types.Agent
	var released int
	err := e.traced(ctx, "claim_engine.deregister", map[string]string{
		"agent_id": agentID,
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, store.ScopeClaims|store.ScopeAgents, func(st *store.State) error {
			agent, ok := st.Agents[agentID]
			if !ok {
				return types.NewError(types.ErrNotFound, "agent %s is not registered", agentID)
			}
			released = releaseAgentWork(st, agentID)
			agent.CurrentWorkload = 0
			agent.Status = types.AgentStatusOffline
			agent.LastHeartbeatAt = e.now()
			result = agent
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if released > 0 {
		e.logger.Info().
			Str("agent_id", agentID).
			Int("released", released).
			Msg("released work on deregister")
	}
	return result, nil
}

// releaseAgentWork returns every held item of the agent to pending,
// preserving priority. Shared with the stale-heartbeat sweep.
func releaseAgentWork(st *store.State, agentID string) int {
	released := 0
	for _, w := range st.Claims {
		if w.AssignedAgentID == agentID && w.Status.Held() {
			w.Status = types.WorkStatusPending
			w.AssignedAgentID = ""
			w.ClaimedAt = nil
			w.StartedAt = nil
			w.ProgressPercent = 0
			w.SubStatus = ""
			w.BlockedReason = ""
			released++
		}
	}
	return released
}
