package documents

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"docseal/portal/portal-backend/internal/config"
	"docseal/portal/portal-backend/pkg/events"
	"docseal/portal/portal-backend/pkg/pdf"
	"docseal/portal/portal-backend/pkg/qr"
	"docseal/portal/portal-backend/pkg/security"
	"docseal/portal/portal-backend/pkg/storage"
)

// Module holds the wired document services shared by the binaries.
type Module struct {
	Service   Service
	Validator *ValidationService
	Batches   *BatchOrchestrator
	Sweeper   *ExpirySweeper
	Scheduler *CleanupScheduler
	Handler   *Handler
}

func NewModule(cfg *config.Config, db *gorm.DB, objects storage.S3Client, publisher events.Publisher, logger *zap.Logger) *Module {
	repo := NewRepository(db)
	store := NewStorageProvider(objects, cfg.Storage.Bucket, cfg.Storage.PresignTTL)
	workflow := NewWorkflowService()
	encoder := qr.NewEncoder(qr.WithSize(cfg.Signing.QRSize))
	fingerprinter := security.NewFingerprinter()
	links := Links{
		ValidationBaseURL: cfg.Signing.ValidationBaseURL,
		APIBaseURL:        cfg.Server.PublicBaseURL,
	}

	signer := NewSignatureService(repo, store, pdf.NewStamper(), fingerprinter, encoder, workflow, links, publisher, logger.Named("signing"))
	service := NewService(repo, store, signer, workflow, encoder, links, ServiceOptions{
		MaxUploadBytes:   cfg.Signing.MaxUploadBytes,
		DefaultRetention: cfg.Signing.DefaultRetention,
	}, logger.Named("documents"))
	validator := NewValidationService(repo, fingerprinter, logger.Named("validation"))
	batches := NewBatchOrchestrator(signer, NewBatchRegistry(time.Hour), publisher, logger.Named("batch"),
		cfg.Signing.BatchConcurrency, cfg.Signing.MaxBatchSize)
	sweeper := NewExpirySweeper(repo, store, publisher, logger.Named("cleanup"))
	scheduler := NewCleanupScheduler(sweeper, cfg.Cleanup.Schedule, cfg.Cleanup.Timeout, logger.Named("cleanup"))

	handler := NewHandler(service, validator, batches, NewProgressStreamer(logger), sweeper, HandlerOptions{
		CleanupToken:   cfg.Cleanup.TriggerToken,
		MaxUploadBytes: cfg.Signing.MaxUploadBytes,
	}, logger)

	return &Module{
		Service:   service,
		Validator: validator,
		Batches:   batches,
		Sweeper:   sweeper,
		Scheduler: scheduler,
		Handler:   handler,
	}
}
