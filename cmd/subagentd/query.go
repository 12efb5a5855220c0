package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/analytics"
	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a read-only analytics query against tracking.db",
}

var queryAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Per-agent success rate, duration, and token spend over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.AgentPerformance(window)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var queryToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Per-tool usage count, success rate, and average duration over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.ToolEffectiveness(window)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var queryErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Top error kinds by frequency over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		limit, _ := cmd.Flags().GetInt("limit")
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.ErrorPatterns(window, limit)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var querySessionCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "Aggregate counts, durations, and token totals for one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		summary, err := store.SessionSummary(args[0])
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func init() {
	for _, c := range []*cobra.Command{queryAgentsCmd, queryToolsCmd, queryErrorsCmd} {
		c.Flags().Duration("window", 24*time.Hour, "trailing time window to aggregate over")
	}
	queryErrorsCmd.Flags().Int("limit", 10, "maximum number of error kinds to return")

	queryCmd.AddCommand(queryAgentsCmd, queryToolsCmd, queryErrorsCmd, querySessionCmd)
	rootCmd.AddCommand(queryCmd)
}

func openStore() (*analytics.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	layout, err := config.NewLayout(cwd)
	if err != nil {
		return nil, err
	}
	retention, err := config.RetentionConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return analytics.Open(layout.AnalyticsDBPath(), clock.Real{}, zap.NewNop(), retention)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
