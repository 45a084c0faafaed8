// Package ingest implements bulk evidence ingestion: intake and validation,
// destination grouping, on-demand record provisioning, per-file uploads and
// batch summaries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
)

// DefaultRecordDescription is attached to records created during provisioning.
const DefaultRecordDescription = "Created during bulk evidence upload"

// CreateRecordRequest asks the record service for a new destination record.
type CreateRecordRequest struct {
	Name        string
	Description string
	OwnerID     string
}

// CreatedRecord is the subset of the create-record response the pipeline needs.
type CreatedRecord struct {
	ID   string
	Name string
}

// RecordCreator creates destination records.
type RecordCreator interface {
	CreateRecord(ctx context.Context, req CreateRecordRequest) (*CreatedRecord, error)
}

// ProgressFunc receives byte progress for a transfer when the transport exposes it.
type ProgressFunc func(sent, total int64)

// UploadRequest carries one file to the evidence store. Body must not be closed
// by the uploader.
type UploadRequest struct {
	RecordID     string
	Category     models.EvidenceCategory
	OriginalName string
	ContentType  string
	Size         int64
	OwnerID      string
	Body         io.Reader
	Progress     ProgressFunc
}

// EvidenceUploader stores evidence files against a record.
type EvidenceUploader interface {
	UploadEvidence(ctx context.Context, req UploadRequest) (*models.UploadResult, error)
}

// Recorder observes pipeline outcomes, typically for metrics.
type Recorder interface {
	RecordTicketOutcome(state models.TicketState, category models.EvidenceCategory)
	RecordProvisioning(success bool)
	ObserveTransfer(duration time.Duration, success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordTicketOutcome(models.TicketState, models.EvidenceCategory) {}
func (nopRecorder) RecordProvisioning(bool) {}
func (nopRecorder) ObserveTransfer(time.Duration, bool) {}

// Config tunes pipeline execution.
type Config struct {
	// Parallelism bounds how many destination groups run at once. Uploads
	// inside a group are always sequential.
	Parallelism     int
	TransferTimeout time.Duration
	// Progress estimation is approximate: it advances on a timer while the
	// transfer is outstanding and yields to real byte progress when reported.
	ProgressInterval   time.Duration
	ProgressStep       int
	ProgressCeiling    int
	DefaultDescription string
}

// Pipeline drives batches through provisioning and upload.
type Pipeline struct {
	creator  RecordCreator
	uploader EvidenceUploader
	cfg      Config
	recorder Recorder
	logger   *zap.Logger
}

// NewPipeline constructs a pipeline with defaults applied.
func NewPipeline(creator RecordCreator, uploader EvidenceUploader, cfg Config, recorder Recorder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 200 * time.Millisecond
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = 10
	}
	if cfg.ProgressCeiling <= 0 || cfg.ProgressCeiling > 99 {
		cfg.ProgressCeiling = 90
	}
	if cfg.DefaultDescription == "" {
		cfg.DefaultDescription = DefaultRecordDescription
	}
	return &Pipeline{creator: creator, uploader: uploader, cfg: cfg, recorder: recorder, logger: logger}
}

// Run provisions and uploads every pending ticket of the batch. Preconditions
// are checked before anything starts; afterwards no ticket or group failure
// aborts the run and the final summary is always returned.
func (p *Pipeline) Run(ctx context.Context, b *Batch) (models.BatchSummary, error) {
	if err := p.precheck(b); err != nil {
		return models.BatchSummary{}, err
	}
	if err := b.requests.transition(runRequestKey, RequestInFlight, "", nil); err != nil {
		return b.Snapshot(), ErrRunInFlight
	}
	groups, unassigned, err := b.plan()
	if err == nil && len(unassigned) > 0 {
		err = &UnassignedError{TicketIDs: ticketIDs(unassigned)}
	}
	if err != nil {
		_ = b.requests.transition(runRequestKey, RequestError, "", err)
		return b.Snapshot(), err
	}

	runCtx, release := b.scope(ctx)
	defer release()

	p.logger.Sugar().Infow("evidence batch run started", "batch_id", b.ID, "groups", len(groups))
	p.processGroups(runCtx, b, groups)
	_ = b.requests.transition(runRequestKey, RequestDone, "", nil)

	summary := b.Snapshot()
	p.logger.Sugar().Infow("evidence batch run finished",
		"batch_id", b.ID,
		"completed", summary.Counts.Completed,
		"failed", summary.Counts.Failed,
		"rejected", summary.Counts.Rejected,
		"pending", summary.Counts.Pending,
	)
	return summary, nil
}

// Retry re-attempts failed tickets. Intake and grouping are not repeated; a
// ticket whose record could not be created gets one fresh provisioning attempt
// per destination before its transfer.
func (p *Pipeline) Retry(ctx context.Context, b *Batch, ticketIDs ...string) (models.BatchSummary, error) {
	if err := p.precheck(b); err != nil {
		return models.BatchSummary{}, err
	}
	if len(ticketIDs) == 0 {
		return b.Snapshot(), ErrNoTickets
	}
	if err := b.requests.transition(runRequestKey, RequestInFlight, "", nil); err != nil {
		return b.Snapshot(), ErrRunInFlight
	}
	tickets, err := b.prepareRetry(ticketIDs)
	if err != nil {
		_ = b.requests.transition(runRequestKey, RequestError, "", err)
		return b.Snapshot(), err
	}

	runCtx, release := b.scope(ctx)
	defer release()

	b.mu.RLock()
	groups, _ := Resolve(tickets)
	b.mu.RUnlock()

	p.logger.Sugar().Infow("evidence retry started", "batch_id", b.ID, "tickets", len(tickets))
	p.processGroups(runCtx, b, groups)
	_ = b.requests.transition(runRequestKey, RequestDone, "", nil)
	return b.Snapshot(), nil
}

func (p *Pipeline) precheck(b *Batch) error {
	if b == nil {
		return ErrBatchClosed
	}
	if b.OwnerID == "" {
		return ErrMissingOwner
	}
	if b.Closed() {
		return ErrBatchClosed
	}
	if b.ctx.Err() != nil {
		return ErrBatchCancelled
	}
	return nil
}

func (p *Pipeline) processGroups(ctx context.Context, b *Batch, groups []Group) {
	if p.cfg.Parallelism <= 1 || len(groups) < 2 {
		for _, g := range groups {
			if ctx.Err() != nil {
				return
			}
			p.processGroup(ctx, b, g)
		}
		return
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Parallelism)
	for _, g := range groups {
		eg.Go(func() error {
			p.processGroup(egCtx, b, g)
			return nil
		})
	}
	_ = eg.Wait()
}

// processGroup provisions the group's record and then uploads its tickets one
// at a time in resolution order.
func (p *Pipeline) processGroup(ctx context.Context, b *Batch, g Group) {
	if ctx.Err() != nil {
		return
	}
	if err := p.provision(ctx, b, g); err != nil {
		p.logger.Sugar().Warnw("evidence group provisioning failed",
			"batch_id", b.ID,
			"destination", g.Key.Describe(),
			"tickets", len(g.Tickets),
			"error", err,
		)
		return
	}
	for _, t := range g.Tickets {
		if ctx.Err() != nil {
			return
		}
		p.transfer(ctx, b, t, g.Key)
	}
}

func (p *Pipeline) provision(ctx context.Context, b *Batch, g Group) error {
	switch g.Key.Kind {
	case models.DestinationExisting:
		b.bind(g.Tickets, g.Key, g.Key.RecordID)
		return nil
	case models.DestinationNew:
		recordID, err := p.ensureRecord(ctx, b, g.Key.Name)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			for _, t := range b.failGroup(g.Tickets, g.Key, ReasonProvisioningFailed) {
				p.recorder.RecordTicketOutcome(models.TicketStateFailed, t.Category)
			}
			return err
		}
		b.bind(g.Tickets, g.Key, recordID)
		return nil
	default:
		return ErrInvalidDestination
	}
}

// ensureRecord issues at most one create-record call per name at a time and
// reuses a successful result for the rest of the batch's lifetime.
func (p *Pipeline) ensureRecord(ctx context.Context, b *Batch, name string) (string, error) {
	key := "record:" + name
	value, err, _ := b.flight.Do(key, func() (interface{}, error) {
		if state, id := b.requests.lookup(key); state == RequestDone {
			return id, nil
		}
		if err := b.requests.transition(key, RequestInFlight, "", nil); err != nil {
			return "", err
		}
		record, err := p.creator.CreateRecord(ctx, CreateRecordRequest{
			Name:        name,
			Description: p.cfg.DefaultDescription,
			OwnerID:     b.OwnerID,
		})
		if err == nil && (record == nil || record.ID == "") {
			err = errors.New("create record returned no id")
		}
		if err != nil {
			_ = b.requests.transition(key, RequestError, "", err)
			p.recorder.RecordProvisioning(false)
			return "", fmt.Errorf("create record %q: %w", name, err)
		}
		_ = b.requests.transition(key, RequestDone, record.ID, nil)
		p.recorder.RecordProvisioning(true)
		p.logger.Sugar().Debugw("evidence record provisioned", "batch_id", b.ID, "name", name, "record_id", record.ID)
		return record.ID, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (p *Pipeline) transfer(ctx context.Context, b *Batch, t *Ticket, key models.DestinationKey) {
	job, ok := b.begin(t, key)
	if !ok {
		return
	}
	stop := p.startEstimator(ctx, b, t, job.attempt)

	transferCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.TransferTimeout > 0 {
		transferCtx, cancel = context.WithTimeout(ctx, p.cfg.TransferTimeout)
	}
	started := time.Now()
	result, err := p.send(transferCtx, b, t, job)
	cancel()
	stop()
	p.recorder.ObserveTransfer(time.Since(started), err == nil)

	if err != nil {
		reason := failureReason(ctx, transferCtx, err)
		if b.fail(t, job.attempt, reason) {
			p.recorder.RecordTicketOutcome(models.TicketStateFailed, job.category)
		}
		p.logger.Sugar().Warnw("evidence upload failed",
			"batch_id", b.ID,
			"record_id", job.recordID,
			"name", job.name,
			"reason", reason,
		)
		return
	}
	if b.complete(t, job.attempt, result) {
		p.recorder.RecordTicketOutcome(models.TicketStateCompleted, job.category)
	}
	p.logger.Sugar().Debugw("evidence uploaded", "batch_id", b.ID, "record_id", job.recordID, "evidence_id", result.EvidenceID)
}

func (p *Pipeline) send(ctx context.Context, b *Batch, t *Ticket, job transferJob) (*models.UploadResult, error) {
	if _, err := job.source.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind source: %w", err)
	}
	result, err := p.uploader.UploadEvidence(ctx, UploadRequest{
		RecordID:     job.recordID,
		Category:     job.category,
		OriginalName: job.name,
		ContentType:  job.contentType,
		Size:         job.size,
		OwnerID:      b.OwnerID,
		Body:         job.source,
		Progress: func(sent, total int64) {
			b.measure(t, job.attempt, sent, total)
		},
	})
	if err != nil {
		return nil, err
	}
	if result == nil || result.EvidenceID == "" {
		return nil, errors.New(ReasonMalformedResponse)
	}
	return result, nil
}

// startEstimator advances progress on a timer until stopped. The returned
// function blocks until the estimator goroutine has exited.
func (p *Pipeline) startEstimator(ctx context.Context, b *Batch, t *Ticket, attempt int) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(p.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !b.estimate(t, attempt, p.cfg.ProgressStep, p.cfg.ProgressCeiling) {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

func failureReason(runCtx, transferCtx context.Context, err error) string {
	if runCtx.Err() != nil {
		return ReasonCancelled
	}
	if errors.Is(transferCtx.Err(), context.DeadlineExceeded) {
		return ReasonTimedOut
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
