package service

import (
	"sync"
	"time"

	"github.com/noah-isme/theftclaim-api/internal/ingest"
)

type batchEntry struct {
	batch   *ingest.Batch
	queued  bool
	touched time.Time
}

// BatchRegistry holds live ingestion batches in memory. Batches are not
// persisted; a restart discards them together with their staged files.
type BatchRegistry struct {
	mu      sync.Mutex
	batches map[string]*batchEntry
	now     func() time.Time
}

// NewBatchRegistry constructs an empty registry.
func NewBatchRegistry() *BatchRegistry {
	return &BatchRegistry{
		batches: make(map[string]*batchEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Put registers a batch and returns the registry size.
func (r *BatchRegistry) Put(b *ingest.Batch) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = &batchEntry{batch: b, touched: r.now()}
	return len(r.batches)
}

// Get returns the batch and refreshes its idle timer.
func (r *BatchRegistry) Get(id string) (*ingest.Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.batches[id]
	if !ok {
		return nil, false
	}
	entry.touched = r.now()
	return entry.batch, true
}

// Remove unregisters the batch and returns it along with the remaining size.
func (r *BatchRegistry) Remove(id string) (*ingest.Batch, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.batches[id]
	if !ok {
		return nil, len(r.batches), false
	}
	delete(r.batches, id)
	return entry.batch, len(r.batches), true
}

// Len reports how many batches are registered.
func (r *BatchRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// IDs lists every registered batch.
func (r *BatchRegistry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.batches))
	for id := range r.batches {
		ids = append(ids, id)
	}
	return ids
}

// markQueued flags a batch as having a run waiting on the queue. It returns
// false when one is already waiting.
func (r *BatchRegistry) markQueued(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.batches[id]
	if !ok || entry.queued {
		return false
	}
	entry.queued = true
	return true
}

func (r *BatchRegistry) clearQueued(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.batches[id]; ok {
		entry.queued = false
		entry.touched = r.now()
	}
}

// Idle lists batches untouched since cutoff that have no queued or running work.
func (r *BatchRegistry) Idle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0)
	for id, entry := range r.batches {
		if entry.queued || entry.batch.Running() {
			continue
		}
		if entry.touched.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
