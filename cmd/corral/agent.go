package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/pkg/types"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this agent, or refresh an existing registration",
	RunE: run("register", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		agentID, err := a.agentID()
		if err != nil {
			return nil, "", err
		}
		team, _ := cmd.Flags().GetString("team")
		role, _ := cmd.Flags().GetString("role")
		capacity, _ := cmd.Flags().GetInt("capacity")
		specialization, _ := cmd.Flags().GetString("specialization")
		if team == "" {
			team = a.cfg.AgentTeam
		}
		if role == "" {
			role = a.cfg.AgentRole
		}

		agent, err := a.registry.Register(a.ctx, agentID, team, role, capacity, specialization)
		if err != nil {
			return nil, "", err
		}
		return agent, fmt.Sprintf("registered %s (%s/%s, capacity %d)",
			agent.AgentID, agent.Team, agent.Role, agent.CapacityMax), nil
	}),
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Refresh this agent's liveness",
	RunE: run("heartbeat", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		agentID, err := a.agentID()
		if err != nil {
			return nil, "", err
		}

		var status *types.AgentStatus
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			st := types.AgentStatus(s)
			status = &st
		}
		var workload *int
		if cmd.Flags().Changed("workload") {
			w, _ := cmd.Flags().GetInt("workload")
			workload = &w
		}

		agent, err := a.registry.Heartbeat(a.ctx, agentID, status, workload)
		if err != nil {
			return nil, "", err
		}
		return agent, fmt.Sprintf("heartbeat %s (%s, workload %d/%d)",
			agent.AgentID, agent.Status, agent.CurrentWorkload, agent.CapacityMax), nil
	}),
}

var deregisterCmd = &cobra.Command{
	Use:   "deregister",
	Short: "Deregister this agent, returning its held work to the queue",
	RunE: run("deregister", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		agentID, err := a.agentID()
		if err != nil {
			return nil, "", err
		}
		agent, err := a.registry.Deregister(a.ctx, agentID)
		if err != nil {
			return nil, "", err
		}
		return agent, fmt.Sprintf("deregistered %s", agent.AgentID), nil
	}),
}

var listAgentsCmd = &cobra.Command{
	Use:   "list-agents",
	Short: "List registered agents",
	RunE: run("list_agents", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		team, _ := cmd.Flags().GetString("team")
		specialization, _ := cmd.Flags().GetString("specialization")

		var agents []*types.Agent
		var err error
		switch {
		case team != "":
			agents, err = a.registry.FindByTeam(a.ctx, team)
		case specialization != "":
			agents, err = a.registry.FindBySpecialization(a.ctx, specialization)
		default:
			agents, err = a.registry.List(a.ctx)
		}
		if err != nil {
			return nil, "", err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d agents", len(agents))
		for _, agent := range agents {
			fmt.Fprintf(&b, "\n%s  %s/%s  %s  %d/%d",
				agent.AgentID, agent.Team, agent.Role, agent.Status,
				agent.CurrentWorkload, agent.CapacityMax)
		}
		return agents, b.String(), nil
	}),
}

func init() {
	registerCmd.Flags().String("team", "", "agent team (defaults to AGENT_TEAM)")
	registerCmd.Flags().String("role", "", "agent role (defaults to AGENT_ROLE)")
	registerCmd.Flags().Int("capacity", 1, "maximum concurrent work items")
	registerCmd.Flags().String("specialization", "", "advertised specialization")

	heartbeatCmd.Flags().String("status", "", "new agent status (active|busy|idle|maintenance)")
	heartbeatCmd.Flags().Int("workload", 0, "self-reported workload")

	listAgentsCmd.Flags().String("team", "", "filter by team")
	listAgentsCmd.Flags().String("specialization", "", "filter by specialization")
}
