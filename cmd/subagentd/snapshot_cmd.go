package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jcmd13/subagent-tracking/internal/clock"
	"github.com/jcmd13/subagent-tracking/internal/config"
	"github.com/jcmd13/subagent-tracking/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take or restore point-in-time workspace snapshots",
}

var snapshotTakeCmd = &cobra.Command{
	Use:   "take",
	Short: "Capture a manual snapshot of the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		workspace, _ := cmd.Flags().GetString("workspace")
		transcript, _ := cmd.Flags().GetString("transcript")

		if session == "" {
			return fmt.Errorf("--session is required")
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		layout, err := config.NewLayout(cwd)
		if err != nil {
			return err
		}

		engine, err := snapshot.New(layout, session, clock.Real{}, zap.NewNop(), nil, snapshot.DefaultTriggerConfig())
		if err != nil {
			return err
		}

		snap, err := engine.TakeSnapshot(context.Background(), snapshot.TriggerManual, snapshot.Input{
			TranscriptSummary: transcript,
			WorkspaceDir:      workspace,
		})
		if err != nil {
			return err
		}
		fmt.Printf("snapshot %s captured at %s (trigger=%s)\n", snap.SnapshotID, snap.Timestamp.Format("2006-01-02T15:04:05Z07:00"), snap.Trigger)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Restore and print a previously captured snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		if session == "" {
			return fmt.Errorf("--session is required")
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		layout, err := config.NewLayout(cwd)
		if err != nil {
			return err
		}

		snap, err := snapshot.Restore(layout, session, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	snapshotTakeCmd.Flags().StringP("session", "s", "", "session id owning this snapshot")
	snapshotTakeCmd.Flags().String("workspace", "", "workspace directory to probe for a git fingerprint (empty skips the probe)")
	snapshotTakeCmd.Flags().String("transcript", "", "running transcript summary to embed in the snapshot")

	snapshotRestoreCmd.Flags().StringP("session", "s", "", "session id owning the snapshot")

	snapshotCmd.AddCommand(snapshotTakeCmd, snapshotRestoreCmd)
	rootCmd.AddCommand(snapshotCmd)
}
