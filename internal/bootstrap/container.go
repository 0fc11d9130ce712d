package bootstrap

import (
	"context"
	"errors"
	"log"

	"bioai-workspace-be/internal/config"
	"bioai-workspace-be/internal/controller"
	"bioai-workspace-be/internal/handler"
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/pkg/metrics"
	"bioai-workspace-be/internal/repository/implementation"
	"bioai-workspace-be/internal/repository/memory"
	"bioai-workspace-be/internal/repository/unitofwork"
	"bioai-workspace-be/internal/service"
	"bioai-workspace-be/internal/websocket"
	"bioai-workspace-be/pkg/aggregator"
	"bioai-workspace-be/pkg/audit"
	"bioai-workspace-be/pkg/connectivity"
	pktNats "bioai-workspace-be/pkg/nats"
	"bioai-workspace-be/pkg/retention"
	"bioai-workspace-be/pkg/scheduler"
	"bioai-workspace-be/pkg/snapshot"
	"bioai-workspace-be/pkg/syncqueue"
	"bioai-workspace-be/pkg/workflow"
	"bioai-workspace-be/pkg/workflowctx"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	SessionController  controller.ISessionController
	SyncController     controller.ISyncController
	SnapshotController controller.ISnapshotController
	CleanupController  controller.ICleanupController
	WorkflowController controller.IWorkflowController

	// WebSockets
	StatusHandler *handler.StatusHandler
	WebSocketHub  *websocket.Hub

	// Engines (exposed for the CLI and tests)
	Queue      *syncqueue.Queue
	Aggregator *aggregator.Aggregator
	Tracker    *workflowctx.Tracker
	Snapshots  *snapshot.Manager
	Retention  *retention.Manager
	Monitor    *connectivity.Monitor
	Metrics    *metrics.Metrics
	Logger     logger.ILogger

	cfg           *config.Config
	db            *gorm.DB
	scheduler     *scheduler.Scheduler
	pubSub        *gochannel.GoChannel
	autoSnapshots *snapshot.AutoSnapshotter
	activity      *service.ActivityRelay
	natsPub       *pktNats.Publisher
	natsSub       *pktNats.Subscriber
	rdb           *redis.Client
}

// NewContainer wires the engines. db is the remote store and journalDB the
// local operation journal.
func NewContainer(db, journalDB *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	chatLogger := logger.NewIsolatedLogger(cfg.App.EventLogFilePath)
	sched := scheduler.New(nil)
	m := metrics.New()

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)

	// 3. Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	}
	auditPub := audit.NewNatsPublisher(natsPub, sysLogger)

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v. Status events stay on this instance", err)
		rdb = nil
	}

	// WebSocket Hub
	wsHub := websocket.NewHub(rdb, m, sysLogger)

	// 4. Engines
	monitor := connectivity.NewMonitor(true)
	applier := service.NewSyncApplier(uowFactory, sysLogger)
	queue := syncqueue.New(implementation.NewSyncOperationRepository(journalDB), applier, syncqueue.Options{
		NetworkTimeout: cfg.Sync.NetworkTimeout,
		DrainInterval:  cfg.Sync.DrainInterval,
		BackoffInitial: cfg.Sync.BackoffInitial,
		BackoffMax:     cfg.Sync.BackoffMax,
		DispatchRate:   cfg.Sync.DispatchRate,
		Scheduler:      sched,
		Monitor:        monitor,
		Publisher:      pubSub,
		Audit:          auditPub,
		Metrics:        m,
		Logger:         sysLogger,
	})

	agg := aggregator.New(uowFactory, queue, aggregator.Options{
		Debounce:      cfg.Sync.Debounce,
		FlushInterval: cfg.Sync.FlushInterval,
		Scheduler:     sched,
		Metrics:       m,
		Audit:         auditPub,
		Logger:        sysLogger,
	})
	applier.OnApplied(func(o service.ApplyOutcome) {
		agg.OnApplied(o.SessionId, o.Revision, o.Stale)
	})
	queue.OnSettled(agg.OnOperationSettled)
	agg.Subscribe(func(evt aggregator.StatusEvent) {
		wsHub.Send(evt.UserId, websocket.EventSaveStatus, evt)
	})

	tracker := workflowctx.New(memory.NewWorkflowContextRepository(), agg, uowFactory, workflowctx.Options{
		CheckpointEvery:    cfg.Workflow.CheckpointEvery,
		CheckpointDebounce: cfg.Workflow.CheckpointDebounce,
		ForceSaveActions:   cfg.Workflow.ForceSaveActions,
		Scheduler:          sched,
		Logger:             sysLogger,
		ChatLog:            chatLogger,
		Audit:              auditPub,
	})

	snapshots := snapshot.New(uowFactory, agg, snapshot.Options{
		AutoTTL:             cfg.Snapshot.AutoTTL,
		ManualTTL:           cfg.Snapshot.ManualTTL,
		FallbackSearchDepth: cfg.Snapshot.FallbackSearchDepth,
		Workflows:           tracker,
		Scheduler:           sched,
		Metrics:             m,
		Audit:               auditPub,
		Logger:              sysLogger,
	})
	relay := handler.NewRestoreRelay(wsHub, agg, uowFactory)
	snapshots.Viewers().Register(relay)
	snapshots.Chats().Register(relay)
	autoSnapshots := snapshot.NewAutoSnapshotter(snapshots, cfg.Snapshot.AutoMinOperations, cfg.Snapshot.AutoMinInterval)

	cleanup := retention.New(uowFactory, queue, retention.Evicters{agg, autoSnapshots}, retention.Options{
		Policy: retention.Policy{
			OlderThanDays:     cfg.Retention.OlderThanDays,
			PreserveActive:    cfg.Retention.PreserveActive,
			PreserveRecent:    cfg.Retention.PreserveRecent,
			MaxSessionsToKeep: cfg.Retention.MaxSessionsToKeep,
		},
		JournalRetention:  cfg.Retention.JournalRetention,
		WorkflowRetention: cfg.Retention.WorkflowRetention,
		Scheduler:         sched,
		Metrics:           m,
		Audit:             auditPub,
		Logger:            sysLogger,
	})

	// Tabs report connectivity and visibility over the status socket.
	wsHub.OnSignal(func(s websocket.Signal) {
		if s.Online != nil {
			monitor.SetOnline(*s.Online)
		}
		if s.Visible != nil {
			monitor.SetVisible(*s.Visible)
		}
	})
	monitor.Subscribe(func(evt connectivity.Event) {
		if evt.Kind == connectivity.EventHidden {
			if err := agg.FlushAll(context.Background()); err != nil {
				sysLogger.Warn("BOOTSTRAP", "Flush on hidden failed", map[string]interface{}{"error": err.Error()})
			}
		}
	})

	// 5. Services
	engine := workflow.NewClient(cfg.Workflow.EngineBaseURL, cfg.Workflow.Timeout, sysLogger)
	sessionService := service.NewSessionService(uowFactory, agg)
	syncService := service.NewSyncService(uowFactory, queue, agg, monitor, sysLogger)
	snapshotService := service.NewSnapshotService(snapshots, func(userId uuid.UUID, p snapshot.Progress) {
		wsHub.Send(userId, websocket.EventRestoreProgress, p)
	})
	cleanupService := service.NewCleanupService(cleanup)
	workflowService := service.NewWorkflowService(agg, tracker, engine, sysLogger)
	activity := service.NewActivityRelay(natsSub, wsHub, websocket.EventActivity, sysLogger)

	// 6. Controllers
	return &Container{
		SessionController:  controller.NewSessionController(sessionService),
		SyncController:     controller.NewSyncController(sessionService, syncService),
		SnapshotController: controller.NewSnapshotController(snapshotService),
		CleanupController:  controller.NewCleanupController(cleanupService),
		WorkflowController: controller.NewWorkflowController(workflowService),

		StatusHandler: handler.NewStatusHandler(wsHub, syncService, sysLogger),
		WebSocketHub:  wsHub,

		Queue:      queue,
		Aggregator: agg,
		Tracker:    tracker,
		Snapshots:  snapshots,
		Retention:  cleanup,
		Monitor:    monitor,
		Metrics:    m,
		Logger:     sysLogger,

		cfg:           cfg,
		db:            db,
		scheduler:     sched,
		pubSub:        pubSub,
		autoSnapshots: autoSnapshots,
		activity:      activity,
		natsPub:       natsPub,
		natsSub:       natsSub,
		rdb:           rdb,
	}
}

// Run starts the background workers and blocks until ctx ends or one of
// them fails.
func (c *Container) Run(ctx context.Context) error {
	restored, err := c.Queue.Load(ctx)
	if err != nil {
		return err
	}
	c.Logger.Info("BOOTSTRAP", "Operation journal loaded", map[string]interface{}{"pending": restored})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.WebSocketHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.Queue.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return c.autoSnapshots.Run(gctx, c.pubSub)
	})
	g.Go(func() error {
		c.Retention.Run(gctx, c.cfg.Retention.GCInterval)
		return nil
	})
	g.Go(func() error {
		stop := connectivity.StartProber(c.Monitor, c.scheduler, c.cfg.Sync.ProbeInterval, c.cfg.Sync.NetworkTimeout, c.probe)
		<-gctx.Done()
		stop()
		return nil
	})
	g.Go(func() error {
		return c.activity.Start(gctx)
	})
	return g.Wait()
}

// probe checks that the remote store answers.
func (c *Container) probe(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Shutdown flushes buffered state and releases connections.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	c.Tracker.Close()
	if err := c.Aggregator.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.pubSub.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
