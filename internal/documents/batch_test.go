package documents

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docseal/portal/portal-backend/pkg/events"
)

func TestRunBatchPartialFailure(t *testing.T) {
	var failing *failingAttachRepo
	f := newFixture(t, withRepo(func(r Repository) Repository {
		failing = &failingAttachRepo{Repository: r, fail: map[uuid.UUID]bool{}}
		return failing
	}))
	ctx := context.Background()

	ids := []uuid.UUID{f.upload(t, "one"), f.upload(t, "two"), f.upload(t, "three")}
	failing.fail[ids[1]] = true

	res, err := f.batches.RunBatch(ctx, f.owner, BatchSignRequest{
		DocumentIDs:       ids,
		SignatureMaterial: material(),
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Successes, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ids[0], res.Successes[0].DocumentID)
	assert.Equal(t, ids[2], res.Successes[1].DocumentID)
	assert.Equal(t, ids[1], res.Failures[0].DocumentID)
	assert.Contains(t, res.Failures[0].Error, "connection reset")

	for _, s := range res.Successes {
		assert.Equal(t, testLinks.ValidationURL(s.DocumentID), s.ValidationURL)
		doc, err := f.repo.GetDocumentByID(ctx, s.DocumentID)
		require.NoError(t, err)
		assert.Equal(t, StatusSigned, doc.Status)
		assert.Equal(t, s.Hash, *doc.Hash)
	}

	doc, err := f.repo.GetDocumentByID(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, doc.Status)
	assert.Nil(t, doc.Hash)

	progress, err := f.batches.Progress(f.owner, res.BatchID)
	require.NoError(t, err)
	snap := progress.Snapshot()
	assert.True(t, snap.Done)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 2, snap.Successful)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 100, snap.Percent)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.TypeBatchCompleted))
}

func TestRunBatchItemErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.upload(t, "mine")
	signedAlready := f.upload(t, "signed")
	f.sign(t, signedAlready)

	foreign := newPending(uuid.New(), nil)
	require.NoError(t, f.repo.CreatePending(ctx, foreign))
	missing := uuid.New()

	res, err := f.batches.RunBatch(ctx, f.owner, BatchSignRequest{
		DocumentIDs:       []uuid.UUID{mine, mine, signedAlready, foreign.ID, missing},
		SignatureMaterial: material(),
	})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, res.Total, res.Successful+res.Failed)

	require.Len(t, res.Failures, 4)
	assert.Equal(t, mine, res.Failures[0].DocumentID)
	assert.Equal(t, ErrAlreadySigned.Error(), res.Failures[0].Error)
	assert.Equal(t, ErrAlreadySigned.Error(), res.Failures[1].Error)
	assert.Equal(t, ErrForbidden.Error(), res.Failures[2].Error)
	assert.Equal(t, ErrNotFound.Error(), res.Failures[3].Error)
}

func TestRunBatchRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.batches.RunBatch(ctx, f.owner, BatchSignRequest{SignatureMaterial: material()})
	assert.ErrorIs(t, err, ErrInvalidInput)

	tooMany := make([]uuid.UUID, 11)
	for i := range tooMany {
		tooMany[i] = uuid.New()
	}
	_, err = f.batches.RunBatch(ctx, f.owner, BatchSignRequest{DocumentIDs: tooMany, SignatureMaterial: material()})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.batches.RunBatch(ctx, f.owner, BatchSignRequest{
		DocumentIDs:       []uuid.UUID{uuid.New()},
		SignatureMaterial: SignatureMaterial{SignerName: "x", SignatureImage: "not base64!"},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.batches.RunBatch(ctx, f.owner, BatchSignRequest{
		BatchID:           "not-a-uuid",
		DocumentIDs:       []uuid.UUID{uuid.New()},
		SignatureMaterial: material(),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunBatchRespectsConcurrencyLimit(t *testing.T) {
	f := newFixture(t, withConcurrency(2))
	f.stamper.delay = 20 * time.Millisecond
	ctx := context.Background()

	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = f.upload(t, fmt.Sprintf("doc-%d", i))
	}

	res, err := f.batches.RunBatch(ctx, f.owner, BatchSignRequest{DocumentIDs: ids, SignatureMaterial: material()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 8, res.Successful)

	f.stamper.mu.Lock()
	defer f.stamper.mu.Unlock()
	assert.Equal(t, 8, f.stamper.calls)
	assert.LessOrEqual(t, f.stamper.peak, 2)
	assert.Equal(t, 2, f.stamper.peak)
}

func TestRunBatchCancelled(t *testing.T) {
	f := newFixture(t, withConcurrency(1))
	ids := []uuid.UUID{f.upload(t, "a"), f.upload(t, "b"), f.upload(t, "c")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.batches.RunBatch(ctx, f.owner, BatchSignRequest{DocumentIDs: ids, SignatureMaterial: material()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 0, res.Successful)
	for _, failure := range res.Failures {
		assert.Equal(t, ErrBatchCancelled.Error(), failure.Error)
	}
	assert.Equal(t, 0, f.stamper.calls)
}

func TestRunBatchClientBatchID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batchID := uuid.NewString()

	res, err := f.batches.RunBatch(ctx, f.owner, BatchSignRequest{
		BatchID:           batchID,
		DocumentIDs:       []uuid.UUID{f.upload(t, "a")},
		SignatureMaterial: material(),
	})
	require.NoError(t, err)
	assert.Equal(t, batchID, res.BatchID)
	assert.True(t, res.Success)

	_, err = f.batches.RunBatch(ctx, f.owner, BatchSignRequest{
		BatchID:           batchID,
		DocumentIDs:       []uuid.UUID{f.upload(t, "b")},
		SignatureMaterial: material(),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.batches.Progress(uuid.New(), batchID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProgressSubscribeIsMonotonic(t *testing.T) {
	p := NewProgress("b1", uuid.New(), 50)
	updates, cancel := p.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			p.Record(ok)
		}(i%3 != 0)
	}

	last := -1
	var final ProgressSnapshot
	for snap := range updates {
		assert.GreaterOrEqual(t, snap.Completed, last)
		assert.Equal(t, snap.Completed, snap.Successful+snap.Failed)
		last = snap.Completed
		final = snap
	}
	wg.Wait()

	assert.True(t, final.Done)
	assert.Equal(t, 50, final.Completed)
	assert.Equal(t, 100, final.Percent)

	// Late subscribers get the final snapshot on a closed channel.
	late, _ := p.Subscribe()
	snap, ok := <-late
	require.True(t, ok)
	assert.True(t, snap.Done)
	_, ok = <-late
	assert.False(t, ok)
}
