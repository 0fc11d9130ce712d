package main

import (
	"fmt"

	"bioai-workspace-be/pkg/retention"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func addCleanupCommands(root *cobra.Command) {
	var (
		olderThan   int
		keep        int
		removeEmpty bool
		dryRun      bool
		keepActive  bool
		keepRecent  bool
	)
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stale sessions of a user under the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			opts := retention.CleanupOptions{
				OlderThanDays:       olderThan,
				RemoveEmptySessions: removeEmpty,
				MaxSessionsToKeep:   keep,
				DryRun:              dryRun,
			}
			if cmd.Flags().Changed("preserve-active") {
				opts.PreserveActive = &keepActive
			}
			if cmd.Flags().Changed("preserve-recent") {
				opts.PreserveRecent = &keepRecent
			}

			res, err := a.retention.CleanupUserSessions(cmd.Context(), user, opts)
			if err != nil {
				return err
			}
			if printJSON(res) {
				return nil
			}
			printCleanup(res)
			return nil
		},
	}
	cleanupCmd.Flags().IntVar(&olderThan, "older-than", 0, "days without access before a session is stale (0 uses the policy)")
	cleanupCmd.Flags().IntVar(&keep, "keep", 0, "keep at most this many sessions (0 uses the policy)")
	cleanupCmd.Flags().BoolVar(&removeEmpty, "remove-empty", false, "also delete sessions without messages")
	cleanupCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	cleanupCmd.Flags().BoolVar(&keepActive, "preserve-active", true, "never delete the active session")
	cleanupCmd.Flags().BoolVar(&keepRecent, "preserve-recent", true, "never delete sessions accessed within --older-than")

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show storage statistics and cleanup recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			report, err := a.retention.GetCleanupRecommendations(cmd.Context(), user)
			if err != nil {
				return err
			}
			if printJSON(report) {
				return nil
			}
			s := report.Stats
			color.Cyan("Sessions: %d (%d active, %d empty, %d stale)", s.TotalSessions, s.ActiveSessions, s.EmptySessions, s.StaleSessions)
			fmt.Printf("Messages: %d  Snapshots: %d (%d expired)  Size: %s\n",
				s.TotalMessages, s.SnapshotCount, s.ExpiredSnapshots, humanBytes(s.EstimatedBytes))
			if len(report.Recommendations) == 0 {
				color.Green("Nothing to clean up.")
				return nil
			}
			for _, r := range report.Recommendations {
				color.Yellow("- [%s] %s (%d sessions, ~%s)", r.Type, r.Message, len(r.Sessions), humanBytes(r.EstimatedBytes))
			}
			return nil
		},
	}

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Purge expired snapshots, old journal entries and finished workflows for every user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			if err := a.retention.CollectGarbage(cmd.Context()); err != nil {
				return err
			}
			color.Green("Garbage collection finished.")
			return nil
		},
	}

	root.AddCommand(cleanupCmd, recommendCmd, gcCmd)
}

func printCleanup(res *retention.CleanupResult) {
	if res.DryRun {
		color.Cyan("Dry run: nothing was deleted")
	}
	for _, s := range res.Sessions {
		fmt.Printf("  %s  %-40q  %4d msgs  %s  last access %s\n",
			s.Id, s.Title, s.MessageCount, humanBytes(s.EstimatedBytes), s.LastAccessedAt.Format("2006-01-02"))
	}
	color.Green("Sessions: %d  Messages: %d  Freed: %s  Expired snapshots: %d",
		res.DeletedSessions, res.DeletedMessages, humanBytes(res.FreedBytes), res.ExpiredSnapshots)
	for _, e := range res.Errors {
		color.Red("  ! %s", e)
	}
}
