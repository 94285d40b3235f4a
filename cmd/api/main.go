package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-engine/config"
	"ledger-engine/internal/aggregate"
	"ledger-engine/internal/eventlog"
	"ledger-engine/internal/handler"
	"ledger-engine/internal/pipeline"
	"ledger-engine/internal/projector"
	"ledger-engine/internal/repository"
	"ledger-engine/internal/saga"
	"ledger-engine/internal/server"
	"ledger-engine/internal/snapshot"
	"ledger-engine/internal/watcher"
	"ledger-engine/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	mode := logger.DevelopmentMode
	if cfg.Server.Environment == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)

	db, err := repository.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := eventlog.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisClient.Close()
	journal := eventlog.NewRedis(redisClient)

	readModel := repository.NewReadModelRepository(db)
	snapshots := repository.NewSnapshotRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)
	projectionCheckpoints := repository.NewProjectionCheckpointRepository(db)
	sagaCheckpoints := repository.NewSagaCheckpointRepository(db)

	loader := aggregate.NewLoader(journal, snapshots, cfg.Pipeline.AggregateReadTimeout, l)
	janitor := snapshot.NewJanitor(loader, snapshots, cfg.Snapshot.Threshold, cfg.Snapshot.RetainCount, l)

	pipe, err := pipeline.New(pipeline.Config{
		RingCapacity:        cfg.Pipeline.RingCapacity,
		ReadModelMaintainer: cfg.Pipeline.ReadModelMaintainer,
	}, loader, journal, readModel, janitor, l)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}
	pipe.Start()

	ctx, cancel := context.WithCancel(context.Background())

	transferSaga := saga.NewMoneyTransferSaga(pipe, idempotency, l)
	sagaRunner := saga.NewRunner(transferSaga, journal, sagaCheckpoints, cfg.Saga.Group, eventlog.GroupOptions{
		BufferSize: cfg.Saga.BufferSize,
		MaxRetries: cfg.Saga.MaxRetries,
		AckTimeout: cfg.Saga.AckTimeout,
	}, l)
	go func() {
		if err := sagaRunner.Run(ctx); err != nil && ctx.Err() == nil {
			l.Errorf("saga runner stopped: %v", err)
		}
	}()

	var proj *projector.Projector
	if cfg.Pipeline.ReadModelMaintainer == pipeline.MaintainerProjector {
		proj = projector.New(journal, readModel, projectionCheckpoints, cfg.Projector.BatchSize, cfg.Projector.FlushPeriod, l)
		go func() {
			if err := proj.Run(ctx); err != nil && ctx.Err() == nil {
				l.Errorf("projector stopped: %v", err)
			}
		}()
	}

	timeoutWatcher := watcher.New(idempotency, journal, pipe, cfg.Watcher.Period, cfg.Watcher.TimeoutThreshold, cfg.Watcher.ScanDepth, l)
	go func() { _ = timeoutWatcher.Run(ctx) }()

	cleanup := watcher.NewCleanupTask(idempotency, l)
	go func() { _ = cleanup.Run(ctx) }()

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Account: handler.NewAccountHandler(pipe, readModel),
		Saga:    handler.NewSagaMonitorHandler(saga.NewMonitor(idempotency)),
	}, db.Ping)

	go func() {
		if err := srv.Start(); err != nil {
			l.Errorf("http server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Errorf("http shutdown: %v", err)
	}

	// Stop producers and workers, then drain the ring and flush the
	// projector so no accepted command is lost on the way out.
	cancel()
	pipe.Stop()
	if proj != nil {
		proj.Flush(context.Background())
	}
}
