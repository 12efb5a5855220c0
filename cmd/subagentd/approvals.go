package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jcmd13/subagent-tracking/internal/approval"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve the approval queue",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		queue, err := openQueue()
		if err != nil {
			return err
		}

		list := queue.ListByStatus(approval.Status(status))
		if len(list) == 0 {
			fmt.Println("no matching approval requests")
			return nil
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		for _, r := range list {
			fmt.Printf("%s  %-8s %-20s status=%-8s risk=%.2f target=%s\n",
				yellow(r.ApprovalID), r.Operation, r.Tool, r.Status, r.RiskScore, r.Target)
			for _, reason := range r.Reasons {
				fmt.Printf("    - %s\n", reason)
			}
		}
		return nil
	},
}

var approvalsDecideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Open an interactive shell to grant or deny pending approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfg, err := config.Load(cwd)
		if err != nil {
			return err
		}
		queue, err := approval.LoadQueue(cfg.Layout)
		if err != nil {
			return err
		}
		profile := config.DefaultRiskProfile()
		if p := os.Getenv("SUBAGENT_RISK_PROFILE"); p != "" {
			if profile, err = config.LoadRiskProfile(p); err != nil {
				return err
			}
		}
		gate := approval.NewGate(queue, nil, clock.Real{}, nil, profile, cfg)

		repl, err := approval.NewDecideREPL(gate, actor)
		if err != nil {
			return err
		}
		return repl.Run()
	},
}

func init() {
	approvalsListCmd.Flags().String("status", "", "filter by status: required, granted, denied, expired (empty = all)")
	approvalsDecideCmd.Flags().String("actor", os.Getenv("USER"), "decision actor recorded on resolved requests")

	approvalsCmd.AddCommand(approvalsListCmd, approvalsDecideCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func openQueue() (*approval.Queue, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	layout, err := config.NewLayout(cwd)
	if err != nil {
		return nil, err
	}
	return approval.LoadQueue(layout)
}
