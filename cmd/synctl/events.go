package main

import (
	"fmt"

	"bioai-workspace-be/internal/config"
	"bioai-workspace-be/internal/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func addEventsCommand(root *cobra.Command) {
	var (
		level   string
		event   string
		session string
		limit   int
		offset  int
	)
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Read the workflow chat event log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			entries, err := logger.NewIsolatedLogger(cfg.App.EventLogFilePath).GetLogs(logger.LogFilter{
				Level:   level,
				Message: event,
			})
			if err != nil {
				return fmt.Errorf("read %s: %w", cfg.App.EventLogFilePath, err)
			}
			if session != "" {
				kept := entries[:0]
				for _, e := range entries {
					if fmt.Sprint(e.Details["session_id"]) == session {
						kept = append(kept, e)
					}
				}
				entries = kept
			}
			if offset >= len(entries) {
				entries = entries[:0]
			} else {
				entries = entries[offset:]
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			if printJSON(entries) {
				return nil
			}
			if len(entries) == 0 {
				color.Yellow("No events")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s %-5s %-18s workflow=%v session=%v", e.Timestamp, e.Level, e.Message, e.Details["workflow_id"], e.Details["session_id"])
				if e.Level == "ERROR" {
					color.Red("%s error=%v", line, e.Details["error"])
					continue
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	eventsCmd.Flags().StringVar(&level, "level", "", "only entries of this level (INFO, ERROR)")
	eventsCmd.Flags().StringVar(&event, "event", "", "only this event, e.g. tool_execution")
	eventsCmd.Flags().StringVar(&session, "session", "", "only events of this session id")
	eventsCmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to print, 0 for all")
	eventsCmd.Flags().IntVar(&offset, "offset", 0, "skip this many matching entries")
	root.AddCommand(eventsCmd)
}
