package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/theftclaim-api/internal/dto"
	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
	"github.com/noah-isme/theftclaim-api/pkg/export"
	"github.com/noah-isme/theftclaim-api/pkg/jobs"
)

// Job types handled by BatchWorker.
const (
	BatchJobRun   = "evidence_batch_run"
	BatchJobRetry = "evidence_batch_retry"
)

const batchSummaryCachePrefix = "evidence:batch:"

// BatchJobPayload travels through the job queue.
type BatchJobPayload struct {
	BatchID   string
	TicketIDs []string
	Actor     *models.JWTClaims
}

type batchJobQueue interface {
	Enqueue(job jobs.Job) error
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type stagingStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(key string) (*os.File, error)
	Delete(ctx context.Context, key string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type batchGauge interface {
	SetActiveBatches(count int)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// BatchFile is one uploaded file handed to Submit. Content is consumed during
// the call.
type BatchFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// BatchSubmission groups the files of one bulk upload. ItemID, when set,
// points every file at that item.
type BatchSubmission struct {
	ItemID string
	Files  []BatchFile
}

// BatchExport is a rendered batch summary report.
type BatchExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BatchServiceConfig tunes batch intake and retention.
type BatchServiceConfig struct {
	MaxFilesPerBatch int
	BatchTTL         time.Duration
	CleanupInterval  time.Duration
	SummaryCacheTTL  time.Duration
	PreviewMaxBytes  int64
}

type cachedBatchSummary struct {
	OwnerID string              `json:"ownerId"`
	Summary models.BatchSummary `json:"summary"`
}

// BatchService exposes bulk evidence ingestion over the API.
type BatchService struct {
	registry  *BatchRegistry
	queue     batchJobQueue
	staging   stagingStore
	cache     summaryCache
	gauge     batchGauge
	intake    *ingest.Intake
	validator *validator.Validate
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
	cfg       BatchServiceConfig
}

// NewBatchService constructs the service with defaults.
func NewBatchService(registry *BatchRegistry, queue batchJobQueue, staging stagingStore, cache summaryCache, gauge batchGauge, validate *validator.Validate, logger *zap.Logger, cfg BatchServiceConfig) *BatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if registry == nil {
		registry = NewBatchRegistry()
	}
	if cfg.MaxFilesPerBatch <= 0 {
		cfg.MaxFilesPerBatch = 100
	}
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = 2 * time.Hour
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 24 * time.Hour
	}
	return &BatchService{
		registry:  registry,
		queue:     queue,
		staging:   staging,
		cache:     cache,
		gauge:     gauge,
		intake:    ingest.NewIntake(ingest.IntakeConfig{PreviewMaxBytes: cfg.PreviewMaxBytes}, logger),
		validator: validate,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		logger:    logger,
		cfg:       cfg,
	}
}

// Submit stages the files, runs intake and registers a new batch.
func (s *BatchService) Submit(ctx context.Context, sub BatchSubmission, actor *models.JWTClaims) (*models.BatchSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if len(sub.Files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one file is required")
	}
	if len(sub.Files) > s.cfg.MaxFilesPerBatch {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d files per batch", s.cfg.MaxFilesPerBatch))
	}
	if s.staging == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "evidence staging unavailable")
	}

	prefix := "batches/" + uuid.NewString()
	raws := make([]ingest.RawFile, 0, len(sub.Files))
	for i, file := range sub.Files {
		raw, err := s.stage(ctx, prefix, i, file)
		if err != nil {
			releaseRawFiles(raws)
			return nil, err
		}
		raws = append(raws, raw)
	}

	batch := ingest.NewBatch(actor.UserID, s.intake.Submit(raws))
	if itemID := strings.TrimSpace(sub.ItemID); itemID != "" {
		if err := batch.AssignAll(models.ExistingRecord(itemID)); err != nil {
			batch.Close()
			return nil, mapIngestError(err)
		}
	}
	s.reportActive(s.registry.Put(batch))

	summary := batch.Snapshot()
	s.logger.Sugar().Infow("evidence batch submitted",
		"batch_id", batch.ID,
		"owner_id", actor.UserID,
		"files", summary.Total,
		"rejected", summary.Counts.Rejected,
	)
	return &summary, nil
}

// Assign applies explicit destinations to tickets.
func (s *BatchService) Assign(ctx context.Context, batchID string, req dto.BatchAssignmentRequest, actor *models.JWTClaims) (*models.BatchSummary, error) {
	batch, err := s.lookup(batchID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if req.All == nil && len(req.Assignments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no assignments provided")
	}
	if req.All != nil {
		key, ok := req.All.Key()
		if !ok || !key.Assigned() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "all requires exactly one of recordId or newRecordName")
		}
		if err := batch.AssignAll(key); err != nil {
			return nil, mapIngestError(err)
		}
	}
	for _, assignment := range req.Assignments {
		key, ok := assignment.Key()
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("ticket %s: choose either recordId or newRecordName", assignment.TicketID))
		}
		if err := batch.Assign(assignment.TicketID, key); err != nil {
			return nil, mapIngestError(fmt.Errorf("ticket %s: %w", assignment.TicketID, err))
		}
	}
	summary := batch.Snapshot()
	return &summary, nil
}

// Run queues a pipeline run. Every pending ticket must have a destination.
func (s *BatchService) Run(ctx context.Context, batchID string, actor *models.JWTClaims) (*dto.BatchRunResponse, error) {
	batch, err := s.lookup(batchID, actor)
	if err != nil {
		return nil, err
	}
	if unassigned := batch.Unassigned(); len(unassigned) > 0 {
		return nil, mapIngestError(&ingest.UnassignedError{TicketIDs: unassigned})
	}
	return s.enqueue(batch, BatchJobRun, nil, actor)
}

// Retry queues a retry of failed tickets. No ids selects every failed ticket.
func (s *BatchService) Retry(ctx context.Context, batchID string, ticketIDs []string, actor *models.JWTClaims) (*dto.BatchRunResponse, error) {
	batch, err := s.lookup(batchID, actor)
	if err != nil {
		return nil, err
	}
	if len(ticketIDs) == 0 {
		ticketIDs = batch.FailedTickets()
		if len(ticketIDs) == 0 {
			return nil, mapIngestError(ingest.ErrNoTickets)
		}
	}
	states := make(map[string]models.TicketState)
	for _, detail := range batch.Snapshot().Tickets {
		states[detail.TicketID] = detail.State
	}
	for _, id := range ticketIDs {
		state, ok := states[id]
		if !ok {
			return nil, mapIngestError(fmt.Errorf("ticket %s: %w", id, ingest.ErrTicketNotFound))
		}
		if state != models.TicketStateFailed {
			return nil, mapIngestError(fmt.Errorf("ticket %s: %w", id, ingest.ErrNotRetryable))
		}
	}
	return s.enqueue(batch, BatchJobRetry, ticketIDs, actor)
}

// Status returns the live summary, or the last cached one once the batch was
// discarded.
func (s *BatchService) Status(ctx context.Context, batchID string, actor *models.JWTClaims) (*models.BatchSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if batch, ok := s.registry.Get(batchID); ok {
		if !canAccessBatch(batch.OwnerID, actor) {
			return nil, appErrors.ErrForbidden
		}
		summary := batch.Snapshot()
		return &summary, nil
	}
	if s.cache == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
	}
	var cached cachedBatchSummary
	hit, err := s.cache.Get(ctx, batchSummaryCachePrefix+batchID, &cached)
	if err != nil {
		s.logger.Sugar().Warnw("batch summary cache lookup failed", "batch_id", batchID, "error", err)
	}
	if !hit {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
	}
	if !canAccessBatch(cached.OwnerID, actor) {
		return nil, appErrors.ErrForbidden
	}
	return &cached.Summary, nil
}

// Delete cancels in-flight work, releases staged files and forgets the batch.
func (s *BatchService) Delete(ctx context.Context, batchID string, actor *models.JWTClaims) error {
	if _, err := s.lookup(batchID, actor); err != nil {
		return err
	}
	s.discard(ctx, batchID)
	return nil
}

// Export renders the batch summary as csv or pdf.
func (s *BatchService) Export(ctx context.Context, batchID, format string, actor *models.JWTClaims) (*BatchExport, error) {
	summary, err := s.Status(ctx, batchID, actor)
	if err != nil {
		return nil, err
	}
	dataset := summaryDataset(*summary)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &BatchExport{Filename: fmt.Sprintf("evidence-batch-%s.csv", batchID), ContentType: "text/csv", Data: data}, nil
	case "pdf":
		data, err := s.pdf.Render(dataset, "Evidence batch "+batchID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &BatchExport{Filename: fmt.Sprintf("evidence-batch-%s.pdf", batchID), ContentType: "application/pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// StartCleanup boots a goroutine that discards idle batches periodically.
func (s *BatchService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupIdle(ctx)
			}
		}
	}()
}

// Shutdown discards every batch, caching their final summaries.
func (s *BatchService) Shutdown(ctx context.Context) {
	for _, id := range s.registry.IDs() {
		s.discard(ctx, id)
	}
}

func (s *BatchService) cleanupIdle(ctx context.Context) {
	ids := s.registry.Idle(time.Now().UTC().Add(-s.cfg.BatchTTL))
	for _, id := range ids {
		s.discard(ctx, id)
	}
	if len(ids) > 0 {
		s.logger.Sugar().Infow("discarded idle evidence batches", "count", len(ids))
	}
	if s.staging == nil {
		return
	}
	if removed, err := s.staging.CleanupOlderThan(2 * s.cfg.BatchTTL); err != nil {
		s.logger.Sugar().Warnw("staging cleanup failed", "error", err)
	} else if len(removed) > 0 {
		s.logger.Sugar().Infow("removed orphaned staged files", "count", len(removed))
	}
}

func (s *BatchService) discard(ctx context.Context, id string) {
	batch, remaining, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	batch.Close()
	s.reportActive(remaining)
	cacheBatchSummary(ctx, s.cache, s.cfg.SummaryCacheTTL, batch, s.logger)
}

func (s *BatchService) enqueue(batch *ingest.Batch, jobType string, ticketIDs []string, actor *models.JWTClaims) (*dto.BatchRunResponse, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "batch queue unavailable")
	}
	if batch.Running() || !s.registry.markQueued(batch.ID) {
		return nil, mapIngestError(ingest.ErrRunInFlight)
	}
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: jobType,
		Payload: BatchJobPayload{
			BatchID:   batch.ID,
			TicketIDs: ticketIDs,
			Actor:     actor,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.registry.clearQueued(batch.ID)
		if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrQueueClosed) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "batch queue is busy, try again shortly")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue batch run")
	}
	return &dto.BatchRunResponse{BatchID: batch.ID, JobID: job.ID, Status: "queued"}, nil
}

func (s *BatchService) lookup(batchID string, actor *models.JWTClaims) (*ingest.Batch, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	batch, ok := s.registry.Get(batchID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
	}
	if !canAccessBatch(batch.OwnerID, actor) {
		return nil, appErrors.ErrForbidden
	}
	return batch, nil
}

func (s *BatchService) stage(ctx context.Context, prefix string, index int, file BatchFile) (ingest.RawFile, error) {
	raw := ingest.RawFile{Name: file.Name, ContentType: file.ContentType, Size: file.Size}
	// Oversize files are rejected by intake on their declared size alone.
	if file.Content == nil || file.Size > ingest.MaxFileSize {
		return raw, nil
	}
	key := fmt.Sprintf("%s/%03d", prefix, index)
	if err := s.staging.Put(ctx, key, file.Content, file.Size, file.ContentType); err != nil {
		return raw, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stage evidence file")
	}
	handle, err := s.staging.Open(key)
	if err != nil {
		_ = s.staging.Delete(ctx, key)
		return raw, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open staged file")
	}
	if strings.TrimSpace(raw.ContentType) == "" {
		header := make([]byte, 512)
		n, _ := handle.ReadAt(header, 0)
		raw.ContentType = detectContentType(header[:n])
	}
	raw.Content = &stagedFile{File: handle, remove: func() {
		if err := s.staging.Delete(context.Background(), key); err != nil {
			s.logger.Sugar().Warnw("failed to remove staged file", "key", key, "error", err)
		}
	}}
	return raw, nil
}

func (s *BatchService) reportActive(count int) {
	if s.gauge != nil {
		s.gauge.SetActiveBatches(count)
	}
}

// stagedFile deletes its backing staging object once closed.
type stagedFile struct {
	*os.File
	once   sync.Once
	remove func()
}

func (f *stagedFile) Close() error {
	err := f.File.Close()
	f.once.Do(f.remove)
	return err
}

func releaseRawFiles(raws []ingest.RawFile) {
	for _, raw := range raws {
		if raw.Content != nil {
			_ = raw.Content.Close()
		}
	}
}

func canAccessBatch(ownerID string, actor *models.JWTClaims) bool {
	return actor.MayActFor(ownerID)
}

func cacheBatchSummary(ctx context.Context, cache summaryCache, ttl time.Duration, batch *ingest.Batch, logger *zap.Logger) {
	if cache == nil || batch == nil {
		return
	}
	payload := cachedBatchSummary{OwnerID: batch.OwnerID, Summary: batch.Snapshot()}
	if err := cache.Set(ctx, batchSummaryCachePrefix+batch.ID, payload, ttl); err != nil {
		logger.Sugar().Warnw("failed to cache batch summary", "batch_id", batch.ID, "error", err)
	}
}

// mapIngestError converts pipeline sentinel errors into API errors.
func mapIngestError(err error) error {
	if err == nil {
		return nil
	}
	var unassigned *ingest.UnassignedError
	switch {
	case errors.As(err, &unassigned):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, ingest.ErrUnassignedTickets.Error())
	case errors.Is(err, ingest.ErrTicketNotFound):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, err.Error())
	case errors.Is(err, ingest.ErrInvalidDestination),
		errors.Is(err, ingest.ErrNoTickets),
		errors.Is(err, ingest.ErrMissingOwner):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	case errors.Is(err, ingest.ErrTicketBusy),
		errors.Is(err, ingest.ErrTicketFinished),
		errors.Is(err, ingest.ErrRunInFlight),
		errors.Is(err, ingest.ErrNotRetryable),
		errors.Is(err, ingest.ErrBatchClosed),
		errors.Is(err, ingest.ErrBatchCancelled),
		errors.Is(err, ingest.ErrIllegalTransition):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, err.Error())
	default:
		return appErrors.FromError(err)
	}
}

func summaryDataset(summary models.BatchSummary) export.Dataset {
	headers := []string{"Ticket", "File", "Category", "Size", "Destination", "Record", "State", "Progress", "Message"}
	rows := make([]map[string]string, 0, len(summary.Tickets))
	for _, ticket := range summary.Tickets {
		message := ticket.Message
		if ticket.Result != nil && message == "" {
			message = "evidence " + ticket.Result.EvidenceID
		}
		rows = append(rows, map[string]string{
			"Ticket":      ticket.TicketID,
			"File":        ticket.OriginalName,
			"Category":    string(ticket.Category),
			"Size":        fmt.Sprintf("%d", ticket.ByteSize),
			"Destination": ticket.DestinationLabel,
			"Record":      ticket.ResolvedRecordID,
			"State":       string(ticket.State),
			"Progress":    fmt.Sprintf("%d%%", ticket.Progress),
			"Message":     message,
		})
	}
	counts := summary.Counts
	return export.Dataset{
		Headers: headers,
		Rows:    rows,
		Notes: []string{
			fmt.Sprintf("Total %d: %d completed, %d failed, %d rejected, %d pending, %d uploading",
				summary.Total, counts.Completed, counts.Failed, counts.Rejected, counts.Pending, counts.Uploading),
			fmt.Sprintf("Assignment coverage %.0f%%", summary.AssignmentCoverage*100),
			"Generated " + summary.GeneratedAt.Format(time.RFC3339),
		},
	}
}
