package main

import (
	"fmt"
	"os"

	"bioai-workspace-be/pkg/snapshot"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func addSnapshotCommands(root *cobra.Command) {
	verifyCmd := &cobra.Command{
		Use:   "verify <session-id>",
		Short: "Check a session's cached counters and flags against its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			sessionID, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			report, err := a.snapshots.ValidateIntegrity(cmd.Context(), user, sessionID)
			if err != nil {
				return err
			}
			if printJSON(report) {
				return nil
			}
			printReport(*report)
			return nil
		},
	}

	var repairOpts snapshot.RepairOptions
	repairCmd := &cobra.Command{
		Use:   "repair <session-id>",
		Short: "Fix integrity issues of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			sessionID, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			res, err := a.snapshots.Repair(cmd.Context(), user, sessionID, repairOpts)
			if err != nil {
				return err
			}
			if printJSON(res) {
				return nil
			}
			if res.SnapshotId != nil {
				color.Cyan("Pre-repair snapshot %s", res.SnapshotId)
			}
			if len(res.Fixed) == 0 {
				color.Green("Nothing to repair.")
			}
			for _, f := range res.Fixed {
				color.Green("fixed: %s", f)
			}
			printReport(res.Report)
			return nil
		},
	}
	repairCmd.Flags().BoolVar(&repairOpts.FixMessageCount, "fix-message-count", true, "recount messages")
	repairCmd.Flags().BoolVar(&repairOpts.RemoveDuplicates, "remove-duplicates", true, "drop duplicate messages")
	repairCmd.Flags().BoolVar(&repairOpts.FixActiveFlags, "fix-active-flags", true, "leave at most one active session")
	repairCmd.Flags().BoolVar(&repairOpts.CreateSnapshot, "snapshot", true, "snapshot the session before changing it")

	var out string
	exportCmd := &cobra.Command{
		Use:   "export <snapshot-id>",
		Short: "Write a portable backup of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			snapshotID, err := parseID("snapshot id", args[0])
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			raw, err := a.snapshots.ExportBackup(cmd.Context(), user, snapshotID)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = os.Stdout.Write(raw)
				return err
			}
			if err := os.WriteFile(out, raw, 0o600); err != nil {
				return err
			}
			color.Green("Backup written to %s (%s)", out, humanBytes(int64(len(raw))))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&out, "output", "o", "", "output file (stdout when empty)")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a backup as a new inactive session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			snap, err := a.snapshots.ImportBackup(cmd.Context(), user, raw)
			if err != nil {
				return err
			}
			if printJSON(snap) {
				return nil
			}
			color.Green("Imported into session %s (snapshot %s)", snap.SessionId, snap.Id)
			return nil
		},
	}

	var format string
	transcriptCmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Export a session transcript as json, text, markdown or yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			sessionID, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			file, err := a.sessions.Export(cmd.Context(), user, sessionID, format)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(file.Content)
			return err
		},
	}
	transcriptCmd.Flags().StringVarP(&format, "format", "f", "md", "json, text, md or yaml")

	root.AddCommand(verifyCmd, repairCmd, exportCmd, importCmd, transcriptCmd)
}

func printReport(r snapshot.IntegrityReport) {
	if r.IsValid {
		color.Green("Session %s is consistent", r.SessionId)
	} else {
		color.Red("Session %s has integrity issues", r.SessionId)
	}
	for _, issue := range r.Issues {
		line := fmt.Sprintf("  [%s] %s: %s", issue.Severity, issue.Type, issue.Message)
		if issue.Severity == snapshot.SeverityError {
			color.Red("%s", line)
		} else {
			color.Yellow("%s", line)
		}
	}
}
