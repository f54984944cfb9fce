package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/pkg/queue"
	"github.com/corralhq/corral/pkg/types"
)

var listWorkCmd = &cobra.Command{
	Use:   "list-work",
	Short: "List work items, optionally filtered",
	RunE: run("list_work", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		team, _ := cmd.Flags().GetString("team")
		agentID, _ := cmd.Flags().GetString("agent-id")
		workType, _ := cmd.Flags().GetString("work-type")

		items, err := a.view.ListWork(a.ctx, queue.Filter{
			Status:          types.WorkStatus(status),
			Priority:        types.Priority(priority),
			Team:            team,
			AssignedAgentID: agentID,
			WorkType:        workType,
		})
		if err != nil {
			return nil, "", err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d items", len(items))
		for _, w := range items {
			fmt.Fprintf(&b, "\n%s  %-9s  %-8s  %s", w.WorkID, w.Status, w.Priority, w.WorkType)
			if w.AssignedAgentID != "" {
				fmt.Fprintf(&b, "  -> %s", w.AssignedAgentID)
			}
		}
		return items, b.String(), nil
	}),
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the operational summary of the coordination directory",
	RunE: run("dashboard", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		d, err := a.view.Dashboard(a.ctx)
		if err != nil {
			return nil, "", err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "health %d/100\n", d.HealthScore)
		fmt.Fprintf(&b, "work: %d pending, %d active, %d blocked\n",
			d.CountsByStatus[types.WorkStatusPending],
			d.CountsByStatus[types.WorkStatusActive],
			d.CountsByStatus[types.WorkStatusBlocked])
		fmt.Fprintf(&b, "agents: %d registered, %d stale\n", d.AgentsTotal, d.AgentsStale)
		fmt.Fprintf(&b, "last 24h: %d completed, %d failed (%.0f%% completion)",
			d.CompletedLast, d.FailedLast, d.CompletionRate*100)
		for _, tl := range d.Teams {
			fmt.Fprintf(&b, "\nteam %-12s  %d agents  load %d/%d  queue %d",
				tl.Team, tl.Agents, tl.Workload, tl.CapacityMax, tl.QueueDepth)
		}
		for _, w := range d.StaleBlocked {
			fmt.Fprintf(&b, "\nblocked: %s (%s) %s", w.WorkID, w.AssignedAgentID, w.BlockedReason)
		}
		return d, b.String(), nil
	}),
}

func init() {
	listWorkCmd.Flags().String("status", "", "filter by status")
	listWorkCmd.Flags().String("priority", "", "filter by priority")
	listWorkCmd.Flags().String("team", "", "filter by team")
	listWorkCmd.Flags().String("agent-id", "", "filter by assigned agent")
	listWorkCmd.Flags().String("work-type", "", "filter by work type")
}
