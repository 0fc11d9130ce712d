package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func addQueueCommands(root *cobra.Command) {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drive the local operation journal",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show journal statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			stats, err := a.queue.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}
			if printJSON(stats) {
				return nil
			}
			color.Cyan("Total: %d", stats.Total)
			fmt.Printf("  pending     %d\n  processing  %d\n  completed   %d\n", stats.Pending, stats.Processing, stats.Completed)
			if stats.Failed > 0 {
				color.Red("  failed      %d", stats.Failed)
			} else {
				fmt.Printf("  failed      %d\n", stats.Failed)
			}
			fmt.Printf("Average retries: %.2f  Oldest pending: %s\n", stats.AvgRetryCount, stats.OldestPendingAge.Round(time.Second))
			return nil
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed operations and apply everything pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			if _, err := a.queue.Load(cmd.Context()); err != nil {
				return err
			}
			n, err := a.queue.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.queue.ProcessPending(cmd.Context()); err != nil {
				return err
			}
			color.Green("Requeued %d operations, %d still pending", n, a.queue.Pending())
			return nil
		},
	}

	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed and failed journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			if olderThan == 0 {
				olderThan = a.cfg.Retention.JournalRetention
			}
			n, err := a.queue.PurgeTerminal(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			color.Green("Purged %d entries older than %s", n, olderThan)
			return nil
		},
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (defaults to RETENTION_JOURNAL)")

	queueCmd.AddCommand(statsCmd, retryCmd, purgeCmd)
	root.AddCommand(queueCmd)
}
