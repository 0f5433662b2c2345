package documents

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProgressSnapshot is a point-in-time view of a running batch.
type ProgressSnapshot struct {
	BatchID    string `json:"batch_id"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Percent    int    `json:"percent"`
	Done       bool   `json:"done"`
}

// Progress counts finished batch items. Counters only grow. Subscribers get
// the latest snapshot on a one-slot channel that is closed once the batch is
// done.
type Progress struct {
	mu      sync.Mutex
	ownerID uuid.UUID
	snap    ProgressSnapshot
	subs    map[chan ProgressSnapshot]struct{}
}

func NewProgress(batchID string, ownerID uuid.UUID, total int) *Progress {
	p := &Progress{
		ownerID: ownerID,
		snap:    ProgressSnapshot{BatchID: batchID, Total: total},
		subs:    make(map[chan ProgressSnapshot]struct{}),
	}
	if total == 0 {
		p.snap.Done = true
		p.snap.Percent = 100
	}
	return p
}

func (p *Progress) OwnerID() uuid.UUID {
	return p.ownerID
}

// Record marks one more item as terminal.
func (p *Progress) Record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snap.Done {
		return
	}
	p.snap.Completed++
	if ok {
		p.snap.Successful++
	} else {
		p.snap.Failed++
	}
	p.snap.Percent = p.snap.Completed * 100 / p.snap.Total
	if p.snap.Completed >= p.snap.Total {
		p.snap.Done = true
	}

	for ch := range p.subs {
		offer(ch, p.snap)
		if p.snap.Done {
			close(ch)
			delete(p.subs, ch)
		}
	}
}

func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Subscribe returns a channel carrying the latest snapshot and a cancel
// function. The current snapshot is delivered immediately.
func (p *Progress) Subscribe() (<-chan ProgressSnapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan ProgressSnapshot, 1)
	ch <- p.snap
	if p.snap.Done {
		close(ch)
		return ch, func() {}
	}
	p.subs[ch] = struct{}{}

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
	}
}

// offer replaces any unread snapshot with s.
func offer(ch chan ProgressSnapshot, s ProgressSnapshot) {
	select {
	case <-ch:
	default:
	}
	ch <- s
}

// BatchRegistry tracks running batches and keeps finished ones around for
// a while so late pollers still see the final counts.
type BatchRegistry struct {
	mu        sync.Mutex
	batches   map[string]*registryEntry
	retention time.Duration
	now       func() time.Time
}

type registryEntry struct {
	progress   *Progress
	finishedAt time.Time
}

func NewBatchRegistry(retention time.Duration) *BatchRegistry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &BatchRegistry{
		batches:   make(map[string]*registryEntry),
		retention: retention,
		now:       time.Now,
	}
}

// Start registers a new batch. A batch id cannot be reused while the
// previous run is still retained.
func (r *BatchRegistry) Start(batchID string, ownerID uuid.UUID, total int) (*Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	if _, exists := r.batches[batchID]; exists {
		return nil, fmt.Errorf("%w: batch id %s already in use", ErrInvalidInput, batchID)
	}
	p := NewProgress(batchID, ownerID, total)
	r.batches[batchID] = &registryEntry{progress: p}
	return p, nil
}

func (r *BatchRegistry) Finish(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.batches[batchID]; ok {
		e.finishedAt = r.now()
	}
}

func (r *BatchRegistry) Get(batchID string) (*Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.batches[batchID]
	if !ok {
		return nil, false
	}
	return e.progress, true
}

func (r *BatchRegistry) pruneLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, e := range r.batches {
		if !e.finishedAt.IsZero() && e.finishedAt.Before(cutoff) {
			delete(r.batches, id)
		}
	}
}
