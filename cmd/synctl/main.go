// Command synctl inspects and maintains workspace state without the REST
// server: cleanup, integrity checks, backups, the operation journal and the
// workflow event log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"bioai-workspace-be/internal/config"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/repository/implementation"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/internal/service"
	"bioai-workspace-be/pkg/aggregator"
	"bioai-workspace-be/pkg/database"
	"bioai-workspace-be/pkg/retention"
	"bioai-workspace-be/pkg/snapshot"
	"bioai-workspace-be/pkg/syncqueue"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	gormLogger "gorm.io/gorm/logger"
)

// app holds the engines a command needs. Nothing runs in the background.
type app struct {
	cfg       *config.Config
	queue     *syncqueue.Queue
	agg       *aggregator.Aggregator
	snapshots *snapshot.Manager
	retention *retention.Manager
	sessions  service.ISessionService
}

func newApp(cfg *config.Config, verbose bool) (*app, error) {
	level := gormLogger.Silent
	if verbose {
		level = gormLogger.Info
	}
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, level)
	if err != nil {
		return nil, fmt.Errorf("connect remote store: %w", err)
	}
	journalDB, err := database.NewSQLiteDB(database.JournalDSN(cfg.Database.JournalPath), level)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := database.MigrateJournal(journalDB); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	var log logger.ILogger = logger.NewNopLogger()
	if verbose {
		log = logger.NewZapLogger(cfg.App.LogFilePath, false)
	}
	uowFactory := unitofwork.NewRepositoryFactory(db)
	applier := service.NewSyncApplier(uowFactory, log)
	queue := syncqueue.New(implementation.NewSyncOperationRepository(journalDB), applier, syncqueue.Options{
		NetworkTimeout: cfg.Sync.NetworkTimeout,
		Logger:         log,
		// Drains run inline so a command finishes its work before exiting.
		Dispatch: func(fn func()) { fn() },
	})
	agg := aggregator.New(uowFactory, queue, aggregator.Options{Logger: log})
	snapshots := snapshot.New(uowFactory, agg, snapshot.Options{
		AutoTTL:             cfg.Snapshot.AutoTTL,
		ManualTTL:           cfg.Snapshot.ManualTTL,
		FallbackSearchDepth: cfg.Snapshot.FallbackSearchDepth,
		Logger:              log,
	})
	cleanup := retention.New(uowFactory, queue, agg, retention.Options{
		Policy: retention.Policy{
			OlderThanDays:     cfg.Retention.OlderThanDays,
			PreserveActive:    cfg.Retention.PreserveActive,
			PreserveRecent:    cfg.Retention.PreserveRecent,
			MaxSessionsToKeep: cfg.Retention.MaxSessionsToKeep,
		},
		JournalRetention:  cfg.Retention.JournalRetention,
		WorkflowRetention: cfg.Retention.WorkflowRetention,
		Logger:            log,
	})
	return &app{
		cfg:       cfg,
		queue:     queue,
		agg:       agg,
		snapshots: snapshots,
		retention: cleanup,
		sessions:  service.NewSessionService(uowFactory, agg),
	}, nil
}

var (
	verbose  bool
	asJSON   bool
	userFlag string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := &cobra.Command{
		Use:           "synctl",
		Short:         "Maintain workspace sessions, snapshots and the sync journal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log SQL and engine activity")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")
	root.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user id the command acts for")

	addCleanupCommands(root)
	addSnapshotCommands(root)
	addQueueCommands(root)
	addEventsCommand(root)

	if err := root.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// load builds the app for one command run.
func load() (*app, error) {
	return newApp(config.Load(), verbose)
}

func requireUser() (uuid.UUID, error) {
	if userFlag == "" {
		return uuid.Nil, fmt.Errorf("--user is required")
	}
	id, err := uuid.Parse(userFlag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--user must be a UUID: %w", err)
	}
	return id, nil
}

func parseID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a UUID: %w", name, err)
	}
	return id, nil
}

// printJSON writes v when --json is set and reports whether it did.
func printJSON(v interface{}) bool {
	if !asJSON {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		color.Red("encode: %v", err)
	}
	return true
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
