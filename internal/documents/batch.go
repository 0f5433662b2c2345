package documents

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docseal/portal/portal-backend/pkg/events"
)

const (
	DefaultBatchConcurrency = 4
	DefaultMaxBatchSize     = 50
)

func (r BatchSignRequest) validate(maxSize int) error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.BatchID, validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if s == "" {
				return nil
			}
			if _, err := uuid.Parse(s); err != nil {
				return fmt.Errorf("must be a valid UUID")
			}
			return nil
		})),
		validation.Field(&r.DocumentIDs, validation.Required, validation.Length(1, maxSize)),
	)
	if err != nil {
		return err
	}
	return r.SignatureMaterial.Validate()
}

// BatchOrchestrator signs many documents with a bounded number of workers.
// Every item gets its own outcome; one failure never aborts the others.
type BatchOrchestrator struct {
	signer      *SignatureService
	registry    *BatchRegistry
	events      events.Publisher
	logger      *zap.Logger
	concurrency int
	maxSize     int
}

func NewBatchOrchestrator(signer *SignatureService, registry *BatchRegistry, publisher events.Publisher, logger *zap.Logger, concurrency, maxSize int) *BatchOrchestrator {
	if concurrency < 1 {
		concurrency = DefaultBatchConcurrency
	}
	if maxSize < 1 {
		maxSize = DefaultMaxBatchSize
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &BatchOrchestrator{
		signer:      signer,
		registry:    registry,
		events:      publisher,
		logger:      logger,
		concurrency: concurrency,
		maxSize:     maxSize,
	}
}

type itemOutcome struct {
	success *BatchSuccess
	err     error
}

// RunBatch signs req.DocumentIDs and returns once every item is terminal.
// Items that have not started when ctx is done fail with ErrBatchCancelled;
// items already running complete their writes.
func (o *BatchOrchestrator) RunBatch(ctx context.Context, ownerID uuid.UUID, req BatchSignRequest) (*BatchSignResult, error) {
	if err := req.validate(o.maxSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	sig, err := o.signer.Prepare(req.SignatureMaterial)
	if err != nil {
		return nil, err
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	total := len(req.DocumentIDs)
	progress, err := o.registry.Start(batchID, ownerID, total)
	if err != nil {
		return nil, err
	}
	defer o.registry.Finish(batchID)

	logger := o.logger.With(zap.String("batch_id", batchID))
	logger.Info("batch started", zap.Int("total", total), zap.Int("concurrency", o.concurrency))
	started := time.Now()

	// Repeated ids run in order on one worker so the second attempt sees
	// the first one's result instead of racing it.
	order := make([]uuid.UUID, 0, total)
	positions := make(map[uuid.UUID][]int, total)
	for i, id := range req.DocumentIDs {
		if _, seen := positions[id]; !seen {
			order = append(order, id)
		}
		positions[id] = append(positions[id], i)
	}

	outcomes := make([]itemOutcome, total)
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for _, id := range order {
		g.Go(func() error {
			for _, i := range positions[id] {
				if ctx.Err() != nil {
					outcomes[i] = itemOutcome{err: ErrBatchCancelled}
					progress.Record(false)
					continue
				}
				res, err := o.signer.Sign(context.WithoutCancel(ctx), ownerID, id, sig)
				outcomes[i] = itemOutcome{success: res, err: err}
				if err != nil {
					logger.Warn("batch item failed", zap.String("document_id", id.String()), zap.Int("index", i), zap.Error(err))
				}
				progress.Record(err == nil)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchSignResult{
		BatchID:   batchID,
		Total:     total,
		Successes: []BatchSuccess{},
		Failures:  []BatchFailure{},
	}
	for i, out := range outcomes {
		if out.err != nil {
			result.Failures = append(result.Failures, BatchFailure{
				DocumentID: req.DocumentIDs[i],
				Error:      out.err.Error(),
			})
			continue
		}
		result.Successes = append(result.Successes, *out.success)
	}
	result.Successful = len(result.Successes)
	result.Failed = len(result.Failures)
	result.Success = result.Failed == 0

	logger.Info("batch finished",
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)
	if err := o.events.Publish(context.WithoutCancel(ctx), events.Event{
		Type:    events.TypeBatchCompleted,
		Subject: batchID,
		Data: map[string]any{
			"owner_id":   ownerID.String(),
			"total":      result.Total,
			"successful": result.Successful,
			"failed":     result.Failed,
		},
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		logger.Warn("failed to publish event", zap.Error(err))
	}

	return result, nil
}

// Progress returns the tracker of a running or recently finished batch
// that belongs to ownerID.
func (o *BatchOrchestrator) Progress(ownerID uuid.UUID, batchID string) (*Progress, error) {
	p, ok := o.registry.Get(batchID)
	if !ok || p.OwnerID() != ownerID {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}
	return p, nil
}
