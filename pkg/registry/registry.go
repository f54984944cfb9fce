package registry

import (
	"context"
	"sort"

	"github.com/corralhq/corral/pkg/engine"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

// Registry is the agent-facing surface over the claim engine. All
// mutations delegate to the engine so workload accounting has a single
// owner; the registry adds the read-side queries.
type Registry struct {
	engine *engine.Engine
}

// New creates a registry over the claim engine
func New(e *engine.Engine) *Registry {
	return &Registry{engine: e}
}

// Register registers or re-registers an agent
func (r *Registry) Register(ctx context.Context, agentID, team, role string, capacityMax int, specialization string) (*types.Agent, error) {
	return r.engine.RegisterAgent(ctx, agentID, team, role, capacityMax, specialization)
}

// Heartbeat refreshes an agent's liveness, optionally updating status
// and self-reported workload
func (r *Registry) Heartbeat(ctx context.Context, agentID string, status *types.AgentStatus, workload *int) (*types.Agent, error) {
	return r.engine.Heartbeat(ctx, agentID, status, workload)
}

// SetStatus updates only the agent's status (offline excluded; use
// Deregister)
func (r *Registry) SetStatus(ctx context.Context, agentID string, status types.AgentStatus) (*types.Agent, error) {
	return r.engine.Heartbeat(ctx, agentID, &status, nil)
}

// Deregister drains the agent: its held work returns to pending and
// the agent goes offline, all in one transaction
func (r *Registry) Deregister(ctx context.Context, agentID string) (*types.Agent, error) {
	return r.engine.Deregister(ctx, agentID)
}

// List returns all registered agents ordered by agent ID
func (r *Registry) List(ctx context.Context) ([]*types.Agent, error) {
	st, err := r.engine.Store().Snapshot(ctx, store.ScopeAgents)
	if err != nil {
		return nil, err
	}
	return sortedAgents(st.Agents, nil), nil
}

// FindByTeam returns the agents of one team ordered by agent ID
func (r *Registry) FindByTeam(ctx context.Context, team string) ([]*types.Agent, error) {
	st, err := r.engine.Store().Snapshot(ctx, store.ScopeAgents)
	if err != nil {
		return nil, err
	}
	return sortedAgents(st.Agents, func(a *types.Agent) bool {
		return a.Team == team
	}), nil
}

// FindBySpecialization returns agents advertising a specialization
func (r *Registry) FindBySpecialization(ctx context.Context, specialization string) ([]*types.Agent, error) {
	st, err := r.engine.Store().Snapshot(ctx, store.ScopeAgents)
	if err != nil {
		return nil, err
	}
	return sortedAgents(st.Agents, func(a *types.Agent) bool {
		return a.Specialization == specialization
	}), nil
}

func sortedAgents(agents map[string]*types.Agent, keep func(*types.Agent) bool) []*types.Agent {
	out := make([]*types.Agent, 0, len(agents))
	for _, a := range agents {
		if keep == nil || keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AgentID < out[j].AgentID
	})
	return out
}
