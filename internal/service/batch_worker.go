package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
	"github.com/noah-isme/theftclaim-api/pkg/jobs"
)

type recordCreatorFactory interface {
	RecordCreator(actor *models.JWTClaims) ingest.RecordCreator
}

type evidenceUploaderFactory interface {
	Uploader(actor *models.JWTClaims) ingest.EvidenceUploader
}

// BatchWorkerConfig tunes the pipeline used for queued runs.
type BatchWorkerConfig struct {
	Pipeline        ingest.Config
	SummaryCacheTTL time.Duration
}

// BatchWorker bridges queue jobs to the ingestion pipeline.
type BatchWorker struct {
	registry  *BatchRegistry
	creators  recordCreatorFactory
	uploaders evidenceUploaderFactory
	cache     summaryCache
	recorder  ingest.Recorder
	audit     auditLogger
	logger    *zap.Logger
	cfg       BatchWorkerConfig
}

// NewBatchWorker constructs a worker.
func NewBatchWorker(registry *BatchRegistry, creators recordCreatorFactory, uploaders evidenceUploaderFactory, cache summaryCache, recorder ingest.Recorder, audit auditLogger, logger *zap.Logger, cfg BatchWorkerConfig) *BatchWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 24 * time.Hour
	}
	return &BatchWorker{
		registry:  registry,
		creators:  creators,
		uploaders: uploaders,
		cache:     cache,
		recorder:  recorder,
		audit:     audit,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle processes a queue job. Ticket failures are recorded on the batch and
// never fail the job.
func (w *BatchWorker) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(BatchJobPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	defer w.registry.clearQueued(payload.BatchID)

	batch, ok := w.registry.Get(payload.BatchID)
	if !ok {
		w.logger.Sugar().Infow("evidence batch gone before run", "batch_id", payload.BatchID, "job_id", job.ID)
		return nil
	}

	pipeline := ingest.NewPipeline(
		w.creators.RecordCreator(payload.Actor),
		w.uploaders.Uploader(payload.Actor),
		w.cfg.Pipeline,
		w.recorder,
		w.logger,
	)

	var (
		summary models.BatchSummary
		err     error
	)
	switch job.Type {
	case BatchJobRun:
		summary, err = pipeline.Run(ctx, batch)
	case BatchJobRetry:
		summary, err = pipeline.Retry(ctx, batch, payload.TicketIDs...)
	default:
		return fmt.Errorf("unknown batch job type %q", job.Type)
	}
	if err != nil {
		w.logger.Sugar().Warnw("evidence batch job rejected", "batch_id", batch.ID, "job_id", job.ID, "type", job.Type, "error", err)
		return nil
	}

	cacheBatchSummary(ctx, w.cache, w.cfg.SummaryCacheTTL, batch, w.logger)
	w.emitAudit(ctx, payload.Actor, batch.ID, job.Type, summary)
	w.logger.Sugar().Infow("evidence batch job finished",
		"batch_id", batch.ID,
		"job_id", job.ID,
		"type", job.Type,
		"completed", summary.Counts.Completed,
		"failed", summary.Counts.Failed,
	)
	return nil
}

func (w *BatchWorker) emitAudit(ctx context.Context, actor *models.JWTClaims, batchID, jobType string, summary models.BatchSummary) {
	if w.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     models.AuditActionBatchRun,
		Resource:   "evidence_batch",
		ResourceID: &batchID,
		NewValues: []byte(fmt.Sprintf(`{"type":%q,"completed":%d,"failed":%d,"rejected":%d}`,
			jobType, summary.Counts.Completed, summary.Counts.Failed, summary.Counts.Rejected)),
		IPAddress: "system",
		UserAgent: "evidence-batch-worker",
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := w.audit.CreateAuditLog(ctx, log); err != nil {
		w.logger.Warn("failed to create batch audit", zap.Error(err))
	}
}
