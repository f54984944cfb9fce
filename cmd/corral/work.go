package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/pkg/engine"
	"github.com/corralhq/corral/pkg/types"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pending work item",
	RunE: run("create", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		workType, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		team, _ := cmd.Flags().GetString("team")
		estimated, _ := cmd.Flags().GetDuration("estimate")
		claim, _ := cmd.Flags().GetBool("claim")

		if claim {
			agentID, err := a.agentID()
			if err != nil {
				return nil, "", err
			}
			item, err := a.engine.CreateAndClaim(a.ctx, workType, description,
				types.Priority(priority), team, agentID)
			if err != nil {
				return nil, "", err
			}
			return item, fmt.Sprintf("created and claimed %s (%s, %s)",
				item.WorkID, item.WorkType, item.Priority), nil
		}

		item, err := a.engine.CreateWork(a.ctx, workType, description,
			types.Priority(priority), team, estimated)
		if err != nil {
			return nil, "", err
		}
		return item, fmt.Sprintf("created %s (%s, %s)", item.WorkID, item.WorkType, item.Priority), nil
	}),
}

var claimCmd = &cobra.Command{
	Use:   "claim <work-type> <description>",
	Short: "Create a work item and claim it in one shot",
	Long: `Create a pending work item and immediately claim it for the acting
agent. With --work-id no item is created; that specific pending item
is claimed instead.`,
	Args: cobra.MaximumNArgs(2),
	RunE: run("claim", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		agentID, err := a.agentID()
		if err != nil {
			return nil, "", err
		}

		if workID, _ := cmd.Flags().GetString("work-id"); workID != "" {
			if len(args) != 0 {
				return nil, "", types.NewError(types.ErrInvalidArg,
					"--work-id claims an existing item; drop the positional arguments")
			}
			claimed, err := a.engine.Claim(a.ctx, engine.ClaimRequest{
				AgentID: agentID,
				WorkID:  workID,
			})
			if err != nil {
				return nil, "", err
			}
			item := claimed[0]
			return item, fmt.Sprintf("claimed %s (%s, %s)", item.WorkID, item.WorkType, item.Priority), nil
		}

		if len(args) < 2 {
			return nil, "", types.NewError(types.ErrInvalidArg,
				"usage: claim <work-type> <description>")
		}
		priority, _ := cmd.Flags().GetString("priority")
		team, _ := cmd.Flags().GetString("team")

		item, err := a.engine.CreateAndClaim(a.ctx, args[0], args[1],
			types.Priority(priority), team, agentID)
		if err != nil {
			return nil, "", err
		}
		return item, fmt.Sprintf("claimed %s (%s, %s)", item.WorkID, item.WorkType, item.Priority), nil
	}),
}

var claimNextCmd = &cobra.Command{
	Use:   "claim-next",
	Short: "Claim the highest-priority pending work matching the filters",
	RunE: run("claim_next", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		agentID, err := a.agentID()
		if err != nil {
			return nil, "", err
		}
		workType, _ := cmd.Flags().GetString("work-type")
		team, _ := cmd.Flags().GetString("team")
		priority, _ := cmd.Flags().GetString("priority")
		count, _ := cmd.Flags().GetInt("count")
		required, _ := cmd.Flags().GetBool("required")

		claimed, err := a.engine.Claim(a.ctx, engine.ClaimRequest{
			AgentID:         agentID,
			WorkType:        workType,
			Team:            team,
			Priority:        types.Priority(priority),
			DesiredCount:    count,
			RequireNonempty: required,
		})
		if err != nil {
			return nil, "", err
		}
		if len(claimed) == 0 {
			return claimed, "no pending work matches", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "claimed %d items", len(claimed))
		for _, item := range claimed {
			fmt.Fprintf(&b, "\n%s  %s  %s", item.WorkID, item.WorkType, item.Priority)
		}
		return claimed, b.String(), nil
	}),
}

var progressCmd = &cobra.Command{
	Use:   "progress <work-id> <percent>",
	Short: "Report progress on a held work item",
	Args:  cobra.ExactArgs(2),
	RunE: run("progress", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		percent, err := parsePercent(args[1])
		if err != nil {
			return nil, "", err
		}
		subStatus, _ := cmd.Flags().GetString("sub-status")

		item, err := a.engine.Progress(a.ctx, args[0], percent, subStatus)
		if err != nil {
			return nil, "", err
		}
		return item, fmt.Sprintf("%s at %d%%", item.WorkID, item.ProgressPercent), nil
	}),
}

var completeCmd = &cobra.Command{
	Use:   "complete <work-id> <result>",
	Short: "Complete a held work item",
	Args:  cobra.ExactArgs(2),
	RunE: run("complete", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		velocity, _ := cmd.Flags().GetInt("velocity")

		record, err := a.engine.Complete(a.ctx, args[0], args[1], velocity)
		if err != nil {
			return nil, "", err
		}
		return record, fmt.Sprintf("completed %s in %s",
			record.WorkID, (time.Duration(record.DurationMS) * time.Millisecond).String()), nil
	}),
}

var failCmd = &cobra.Command{
	Use:   "fail <work-id> <reason>",
	Short: "Fail a held work item with a reason",
	Args:  cobra.ExactArgs(2),
	RunE: run("fail", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		record, err := a.engine.Fail(a.ctx, args[0], args[1])
		if err != nil {
			return nil, "", err
		}
		return record, fmt.Sprintf("failed %s: %s", record.WorkID, record.Result), nil
	}),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <work-id>",
	Short: "Cancel a work item",
	Args:  cobra.ExactArgs(1),
	RunE: run("cancel", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		record, err := a.engine.Cancel(a.ctx, args[0])
		if err != nil {
			return nil, "", err
		}
		return record, fmt.Sprintf("cancelled %s", record.WorkID), nil
	}),
}

var blockCmd = &cobra.Command{
	Use:   "block <work-id>",
	Short: "Mark a held work item blocked",
	Args:  cobra.ExactArgs(1),
	RunE: run("block", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		reason, _ := cmd.Flags().GetString("reason")

		item, err := a.engine.Block(a.ctx, args[0], reason)
		if err != nil {
			return nil, "", err
		}
		return item, fmt.Sprintf("blocked %s: %s", item.WorkID, item.BlockedReason), nil
	}),
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <work-id>",
	Short: "Return a blocked work item to active",
	Args:  cobra.ExactArgs(1),
	RunE: run("unblock", func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
		item, err := a.engine.Unblock(a.ctx, args[0])
		if err != nil {
			return nil, "", err
		}
		return item, fmt.Sprintf("unblocked %s", item.WorkID), nil
	}),
}

func parsePercent(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, types.NewError(types.ErrInvalidArg, "percent must be an integer, got %q", s)
	}
	return n, nil
}

func init() {
	createCmd.Flags().String("type", "", "work type (required)")
	createCmd.Flags().String("description", "", "work description")
	createCmd.Flags().String("priority", "", "priority (critical|high|medium|low)")
	createCmd.Flags().String("team", "", "owning team")
	createCmd.Flags().Duration("estimate", 0, "estimated duration")
	createCmd.Flags().Bool("claim", false, "claim the item immediately")

	claimCmd.Flags().String("priority", "", "priority (critical|high|medium|low)")
	claimCmd.Flags().String("team", "", "owning team")
	claimCmd.Flags().String("work-id", "", "claim this existing pending item instead of creating one")

	claimNextCmd.Flags().String("work-type", "", "filter by work type")
	claimNextCmd.Flags().String("team", "", "filter by team")
	claimNextCmd.Flags().String("priority", "", "filter by priority")
	claimNextCmd.Flags().Int("count", 1, "number of items to claim")
	claimNextCmd.Flags().Bool("required", false, "treat an empty result as an error")

	progressCmd.Flags().String("sub-status", "", "free-form phase label (required for progress regressions)")
	completeCmd.Flags().Int("velocity", 0, "velocity points earned")
	blockCmd.Flags().String("reason", "", "what the item is waiting on")

	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
}
