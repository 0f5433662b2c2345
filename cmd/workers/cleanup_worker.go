package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"docseal/portal/portal-backend/internal/config"
	"docseal/portal/portal-backend/internal/database"
	"docseal/portal/portal-backend/internal/documents"
	"docseal/portal/portal-backend/pkg/events"
	"docseal/portal/portal-backend/pkg/storage"
)

// CleanupWorker runs the expiry sweep outside the API process.
type CleanupWorker struct {
	scheduler *documents.CleanupScheduler
	logger    *zap.Logger
}

func NewCleanupWorker(scheduler *documents.CleanupScheduler, logger *zap.Logger) *CleanupWorker {
	return &CleanupWorker{
		scheduler: scheduler,
		logger:    logger,
	}
}

// Start blocks until ctx is done.
func (w *CleanupWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cleanup worker")

	// Sweep immediately instead of waiting a full interval.
	if _, err := w.scheduler.RunOnce(ctx); err != nil {
		w.logger.Error("Initial sweep failed", zap.Error(err))
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}
	defer w.scheduler.Stop()

	<-ctx.Done()
	w.logger.Info("Cleanup worker shutting down")
	return nil
}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	objects, err := storage.New(ctx, cfg.Storage.Driver, storage.S3Options{
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
	if err != nil {
		logger.Fatal("Failed to initialize object storage", zap.Error(err))
	}
	publisher, err := events.NewPublisher(ctx, cfg.Events.Region, cfg.Events.SNSTopicARN)
	if err != nil {
		logger.Fatal("Failed to initialize event publisher", zap.Error(err))
	}

	docs := documents.NewModule(cfg, db, objects, publisher, logger)

	if *once {
		res, err := docs.Scheduler.RunOnce(ctx)
		if err != nil {
			logger.Fatal("Sweep failed", zap.Error(err))
		}
		logger.Info("Sweep finished", zap.Int64("removed", res.Removed))
		return
	}

	worker := NewCleanupWorker(docs.Scheduler, logger)
	if err := worker.Start(ctx); err != nil {
		logger.Fatal("Cleanup worker failed", zap.Error(err))
	}
}
