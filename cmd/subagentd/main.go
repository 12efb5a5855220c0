// Command subagentd runs the observability and recovery substrate
// described in SPEC_FULL.md: the activity logger, snapshot engine,
// analytics store, event bus, realtime metrics aggregator, and approval
// gate, fronted by a small cobra CLI in the teacher's cmd/vc layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "subagentd",
	Short: "Observability and recovery substrate for multi-agent coding workflows",
	Long: `subagentd ingests activity events from cooperating agents, persists them
durably, captures recoverable snapshots, serves analytical queries, and
gates risky tool calls behind an approval queue.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
