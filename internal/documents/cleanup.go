package documents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"docseal/portal/portal-backend/pkg/events"
)

type SweepResult struct {
	Removed          int64     `json:"removed"`
	Candidates       int       `json:"candidates"`
	ArtifactFailures int       `json:"artifact_failures"`
	SweptAt          time.Time `json:"swept_at"`
}

// ExpirySweeper permanently removes documents whose retention horizon has
// passed. Running it twice, or twice at once, is safe: artifact deletes are
// idempotent and records are removed by predicate.
type ExpirySweeper struct {
	repo    Repository
	storage *StorageProvider
	events  events.Publisher
	logger  *zap.Logger
}

func NewExpirySweeper(repo Repository, storage *StorageProvider, publisher events.Publisher, logger *zap.Logger) *ExpirySweeper {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &ExpirySweeper{
		repo:    repo,
		storage: storage,
		events:  publisher,
		logger:  logger,
	}
}

func (s *ExpirySweeper) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Candidates: len(expired), SweptAt: now}
	for _, doc := range expired {
		if err := s.storage.DeleteArtifacts(ctx, doc.ID, AllArtifacts); err != nil {
			result.ArtifactFailures++
			s.logger.Warn("failed to delete artifacts",
				zap.String("document_id", doc.ID.String()),
				zap.Error(err))
		}
	}

	deleted, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	removed := int64(len(deleted))
	result.Removed = removed

	s.logger.Info("expiry sweep finished",
		zap.Int("candidates", result.Candidates),
		zap.Int64("removed", removed),
		zap.Int("artifact_failures", result.ArtifactFailures))

	if removed > 0 {
		ids := make([]string, 0, len(deleted))
		for _, id := range deleted {
			ids = append(ids, id.String())
		}
		if err := s.events.Publish(ctx, events.Event{
			Type:       events.TypeDocumentsPurged,
			Data:       map[string]any{"removed": removed, "document_ids": ids},
			OccurredAt: now,
		}); err != nil {
			s.logger.Warn("failed to publish event", zap.Error(err))
		}
	}
	return result, nil
}
