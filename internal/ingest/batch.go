package ingest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

const runRequestKey = "run"

// Batch is the explicitly owned set of tickets submitted together. Every stage
// mutates tickets through the batch so that a single lock guards them.
type Batch struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time

	mu      sync.RWMutex
	tickets []*Ticket
	index   map[string]*Ticket
	closed  bool

	ctx      context.Context
	cancel   context.CancelFunc
	requests *requestTracker
	flight   singleflight.Group
	now      func() time.Time
}

// NewBatch takes ownership of the tickets produced by intake.
func NewBatch(ownerID string, tickets []*Ticket) *Batch {
	ctx, cancel := context.WithCancel(context.Background())
	index := make(map[string]*Ticket, len(tickets))
	owned := make([]*Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t == nil {
			continue
		}
		index[t.ID] = t
		owned = append(owned, t)
	}
	return &Batch{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
		tickets:   owned,
		index:     index,
		ctx:       ctx,
		cancel:    cancel,
		requests:  newRequestTracker(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Assign sets or changes the destination of one ticket. A zero key clears it.
func (b *Batch) Assign(ticketID string, key models.DestinationKey) error {
	if key.Kind != models.DestinationUnassigned && !key.Assigned() {
		return ErrInvalidDestination
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBatchClosed
	}
	t, ok := b.index[ticketID]
	if !ok {
		return ErrTicketNotFound
	}
	return b.assignLocked(t, key)
}

// AssignAll points every assignable ticket at one destination.
func (b *Batch) AssignAll(key models.DestinationKey) error {
	if !key.Assigned() {
		return ErrInvalidDestination
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBatchClosed
	}
	for _, t := range b.tickets {
		if t.State != models.TicketStatePending && t.State != models.TicketStateFailed {
			continue
		}
		if err := b.assignLocked(t, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) assignLocked(t *Ticket, key models.DestinationKey) error {
	switch t.State {
	case models.TicketStateUploading:
		return ErrTicketBusy
	case models.TicketStateCompleted, models.TicketStateRejected:
		return ErrTicketFinished
	case models.TicketStateFailed:
		// a failed ticket keeps a destination so it stays retryable
		if !key.Assigned() {
			return ErrInvalidDestination
		}
	}
	if t.Destination.GroupKey() == key.GroupKey() {
		return nil
	}
	t.Destination = key
	t.ResolvedRecordID = ""
	t.UpdatedAt = b.now()
	return nil
}

// Snapshot returns the current summary of the batch.
func (b *Batch) Snapshot() models.BatchSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot(b.ID, b.tickets)
}

// Unassigned lists pending tickets that still lack a destination.
func (b *Batch) Unassigned() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, unassigned := Resolve(b.tickets)
	return ticketIDs(unassigned)
}

// Running reports whether a run or retry is currently in flight.
func (b *Batch) Running() bool {
	state, _ := b.requests.lookup(runRequestKey)
	return state == RequestInFlight
}

// Cancel aborts in-flight work and releases the sources of tickets that are
// not uploading. Tickets that have not started stay pending; a cancelled batch
// accepts no further runs.
func (b *Batch) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel()
	b.releaseIdleLocked()
}

// Close cancels the batch and releases every held file handle. A transfer
// still in flight settles its ticket and releases its source when it returns.
func (b *Batch) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cancel()
	b.releaseIdleLocked()
}

func (b *Batch) releaseIdleLocked() {
	for _, t := range b.tickets {
		if t.State != models.TicketStateUploading {
			t.release()
		}
	}
}

// Closed reports whether the batch was discarded.
func (b *Batch) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Done is closed when the batch is cancelled or discarded.
func (b *Batch) Done() <-chan struct{} {
	return b.ctx.Done()
}

func (b *Batch) scope(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(b.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (b *Batch) plan() ([]Group, []*Ticket, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, nil, ErrBatchClosed
	}
	groups, unassigned := Resolve(b.tickets)
	return groups, unassigned, nil
}

// bind records the provisioned record id on tickets still waiting in the group.
func (b *Batch) bind(tickets []*Ticket, key models.DestinationKey, recordID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, t := range tickets {
		if t.State == models.TicketStatePending && t.Destination.Equal(key) {
			t.ResolvedRecordID = recordID
			t.UpdatedAt = b.now()
		}
	}
}

// failGroup marks the waiting tickets of a group failed. Tickets pass through
// UPLOADING so FAILED is only ever entered from there.
func (b *Batch) failGroup(tickets []*Ticket, key models.DestinationKey, reason string) []*Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	now := b.now()
	failed := make([]*Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.State != models.TicketStatePending || !t.Destination.Equal(key) {
			continue
		}
		if err := t.transition(models.TicketStateUploading, now); err != nil {
			continue
		}
		t.attempt++
		t.Progress = 0
		_ = t.transition(models.TicketStateFailed, now)
		t.ErrorReason = reason
		failed = append(failed, t)
	}
	return failed
}

type transferJob struct {
	attempt     int
	source      io.ReadSeekCloser
	recordID    string
	name        string
	contentType string
	size        int64
	category    models.EvidenceCategory
}

// begin moves a ticket into UPLOADING when it is still pending, bound, and
// assigned to the group being processed.
func (b *Batch) begin(t *Ticket, key models.DestinationKey) (transferJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || t.State != models.TicketStatePending || t.ResolvedRecordID == "" || !t.Destination.Equal(key) || t.source == nil {
		return transferJob{}, false
	}
	if err := t.transition(models.TicketStateUploading, b.now()); err != nil {
		return transferJob{}, false
	}
	t.attempt++
	t.Progress = 0
	t.ErrorReason = ""
	t.measured = false
	return transferJob{
		attempt:     t.attempt,
		source:      t.source,
		recordID:    t.ResolvedRecordID,
		name:        t.OriginalName,
		contentType: t.ContentType,
		size:        t.ByteSize,
		category:    t.Category,
	}, true
}

// estimate advances the approximate progress. It returns false once the
// estimator should stop.
func (b *Batch) estimate(t *Ticket, attempt, step, ceiling int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || t.State != models.TicketStateUploading || t.attempt != attempt || t.measured {
		return false
	}
	if t.Progress >= ceiling {
		return false
	}
	next := t.Progress + step
	if next > ceiling {
		next = ceiling
	}
	t.Progress = next
	t.UpdatedAt = b.now()
	return next < ceiling
}

// measure applies a real byte-progress event, capped below 100 until success.
func (b *Batch) measure(t *Ticket, attempt int, sent, total int64) {
	if total <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || t.State != models.TicketStateUploading || t.attempt != attempt {
		return
	}
	t.measured = true
	pct := int(sent * 100 / total)
	if pct > 99 {
		pct = 99
	}
	if pct > t.Progress {
		t.Progress = pct
		t.UpdatedAt = b.now()
	}
}

// complete and fail settle a transfer whether or not the batch was closed
// meanwhile. They report whether the ticket actually changed state.
func (b *Batch) complete(t *Ticket, attempt int, result *models.UploadResult) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.attempt != attempt || t.transition(models.TicketStateCompleted, b.now()) != nil {
		if b.closed {
			t.release()
		}
		return false
	}
	t.Progress = 100
	t.ErrorReason = ""
	result.TicketID = t.ID
	t.Result = result
	t.release()
	return true
}

func (b *Batch) fail(t *Ticket, attempt int, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.ctx.Err() != nil {
		defer t.release()
	}
	if t.attempt != attempt || t.transition(models.TicketStateFailed, b.now()) != nil {
		return false
	}
	t.Progress = 0
	t.ErrorReason = reason
	return true
}

// prepareRetry validates every requested ticket before moving them back to
// PENDING so a bad id leaves the batch untouched.
func (b *Batch) prepareRetry(ids []string) ([]*Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBatchClosed
	}
	selected := make([]*Ticket, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t, ok := b.index[id]
		if !ok {
			return nil, ErrTicketNotFound
		}
		if t.State != models.TicketStateFailed {
			return nil, ErrNotRetryable
		}
		if !t.Destination.Assigned() {
			return nil, &UnassignedError{TicketIDs: []string{t.ID}}
		}
		selected = append(selected, t)
	}
	now := b.now()
	ordered := make([]*Ticket, 0, len(selected))
	for _, t := range b.tickets {
		if _, ok := seen[t.ID]; !ok {
			continue
		}
		_ = t.transition(models.TicketStatePending, now)
		t.Progress = 0
		t.ErrorReason = ""
		ordered = append(ordered, t)
	}
	return ordered, nil
}

// FailedTickets lists tickets currently in FAILED state.
func (b *Batch) FailedTickets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0)
	for _, t := range b.tickets {
		if t.State == models.TicketStateFailed {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func ticketIDs(tickets []*Ticket) []string {
	ids := make([]string, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	return ids
}
