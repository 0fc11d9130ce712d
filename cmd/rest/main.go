package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bioai-workspace-be/internal/bootstrap"
	"bioai-workspace-be/internal/config"
	"bioai-workspace-be/internal/server"
	"bioai-workspace-be/internal/tracer"
	"bioai-workspace-be/pkg/database"

	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	level := database.LogLevelFor(cfg.App.Environment)

	// 2. Initialize Databases
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection, level)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}
	if err := os.MkdirAll(dirOf(cfg.Database.JournalPath), 0o755); err != nil {
		log.Panicf("Unable to create journal directory: %v", err)
	}
	journalDB, err := database.NewSQLiteDB(database.JournalDSN(cfg.Database.JournalPath), level)
	if err != nil {
		log.Panicf("Unable to open operation journal: %v", err)
	}
	if err := database.MigrateJournal(journalDB); err != nil {
		log.Panicf("Unable to migrate operation journal: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, journalDB, cfg)
	shutdownTracer := tracer.InitTracer("bioai-workspace-be", container.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Run background workers and the server together
	srv := server.New(cfg, container)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return container.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
		if err := container.Shutdown(shutdownCtx); err != nil {
			log.Printf("Container shutdown: %v", err)
		}
		return shutdownTracer(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
