package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/app"
)

// Exit codes for any companion CLI driving the core (spec.md section 6):
// 0 success, distinct non-zero codes per failure class so a caller scripting
// subagentd can branch without parsing stderr.
const (
	exitOK                = 0
	exitConfigurationError = 2
	exitDurableStoreError  = 3
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the substrate: activity logger, analytics store, snapshot engine, bus, and metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		approvalsAddr, _ := cmd.Flags().GetString("approvals-addr")
		debug, _ := cmd.Flags().GetBool("debug")

		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "subagentd: resolve cwd: %v\n", err)
			os.Exit(exitConfigurationError)
		}

		a, err := app.Start(cwd, app.Options{MetricsAddr: metricsAddr, ApprovalsAddr: approvalsAddr, Debug: debug})
		if err != nil {
			fmt.Fprintf(os.Stderr, "subagentd: start: %v\n", err)
			os.Exit(exitDurableStoreError)
		}

		a.Log.Info("subagentd: serving", zap.String("session_id", a.SessionID))
		if metricsAddr != "" {
			fmt.Printf("metrics/websocket surface listening on %s\n", metricsAddr)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "subagentd: shutdown: %v\n", err)
			return nil
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", ":8090", "address for the metrics/websocket HTTP server; empty disables it")
	serveCmd.Flags().String("approvals-addr", ":8091", "address for the approval decision HTTP surface; empty disables it")
	serveCmd.Flags().Bool("debug", false, "use development-mode logging")
	rootCmd.AddCommand(serveCmd)
}
