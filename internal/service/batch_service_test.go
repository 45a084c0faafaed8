package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/theftclaim-api/internal/dto"
	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
	"github.com/noah-isme/theftclaim-api/pkg/jobs"
	"github.com/noah-isme/theftclaim-api/pkg/storage"
)

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueStub) last(t *testing.T) jobs.Job {
	t.Helper()
	require.NotEmpty(t, q.jobs)
	return q.jobs[len(q.jobs)-1]
}

type summaryCacheStub struct {
	entries map[string][]byte
}

func newSummaryCacheStub() *summaryCacheStub {
	return &summaryCacheStub{entries: map[string][]byte{}}
}

func (c *summaryCacheStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *summaryCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

type gaugeStub struct {
	active int
}

func (g *gaugeStub) SetActiveBatches(count int) {
	g.active = count
}

type batchFixture struct {
	svc      *BatchService
	worker   *BatchWorker
	queue    *queueStub
	cache    *summaryCacheStub
	gauge    *gaugeStub
	store    *objectStoreStub
	staging  *storage.LocalStorage
	registry *BatchRegistry
	items    *itemStoreStub
	audit    *auditRecorder
}

func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	staging, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	store := newObjectStoreStub()
	items := newItemStoreStub(models.Item{ID: "item-1", Name: "Bike", OwnerID: "claimant-1"})
	audit := &auditRecorder{}
	itemSvc := NewItemService(items, nil, nil, nil)
	evidenceSvc := NewEvidenceService(newEvidenceRepoStub(), items, store, storage.NewSignedURLSigner("secret", time.Hour), nil, nil, EvidenceServiceConfig{})

	registry := NewBatchRegistry()
	queue := &queueStub{}
	cache := newSummaryCacheStub()
	gauge := &gaugeStub{}
	svc := NewBatchService(registry, queue, staging, cache, gauge, nil, nil, BatchServiceConfig{MaxFilesPerBatch: 3, BatchTTL: time.Hour})
	worker := NewBatchWorker(registry, itemSvc, evidenceSvc, cache, nil, audit, nil, BatchWorkerConfig{
		Pipeline: ingest.Config{ProgressInterval: time.Hour},
	})
	return &batchFixture{
		svc:      svc,
		worker:   worker,
		queue:    queue,
		cache:    cache,
		gauge:    gauge,
		store:    store,
		staging:  staging,
		registry: registry,
		items:    items,
		audit:    audit,
	}
}

func batchFile(name, contentType, body string) BatchFile {
	return BatchFile{Name: name, ContentType: contentType, Size: int64(len(body)), Content: strings.NewReader(body)}
}

func ticketByName(summary *models.BatchSummary, name string) models.TicketDetail {
	for _, ticket := range summary.Tickets {
		if ticket.OriginalName == name {
			return ticket
		}
	}
	return models.TicketDetail{}
}

func TestBatchServiceSubmitAndRunToExistingItem(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	summary, err := f.svc.Submit(ctx, BatchSubmission{
		ItemID: "item-1",
		Files: []BatchFile{
			batchFile("front.png", "image/png", "png-bytes"),
			batchFile("receipt.pdf", "application/pdf", "pdf-bytes"),
			batchFile("notes.zip", "application/zip", "zip"),
		},
	}, claimantActor)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Counts.Rejected)
	assert.Equal(t, 2, summary.Counts.Pending)
	assert.Equal(t, 1, f.gauge.active)

	resp, err := f.svc.Run(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	assert.Equal(t, "queued", resp.Status)

	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.worker.Handle(ctx, f.queue.last(t)))

	status, err := f.svc.Status(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Counts.Completed)
	receipt := ticketByName(status, "receipt.pdf")
	assert.Equal(t, models.TicketStateCompleted, receipt.State)
	assert.Equal(t, "item-1", receipt.ResolvedRecordID)
	require.NotNil(t, receipt.Result)
	assert.Len(t, f.store.objects, 2)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionBatchRun, f.audit.logs[0].Action)
	assert.Contains(t, f.cache.entries, batchSummaryCachePrefix+summary.BatchID)
}

func TestBatchServiceRunRequiresDestinations(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	summary, err := f.svc.Submit(ctx, BatchSubmission{Files: []BatchFile{
		batchFile("a.png", "image/png", "a"),
		batchFile("b.png", "image/png", "b"),
	}}, claimantActor)
	require.NoError(t, err)
	ticketA := ticketByName(summary, "a.png").TicketID
	ticketB := ticketByName(summary, "b.png").TicketID

	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	var unassigned *ingest.UnassignedError
	require.True(t, errors.As(err, &unassigned))
	assert.ElementsMatch(t, []string{ticketA, ticketB}, unassigned.TicketIDs)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.queue.jobs)

	_, err = f.svc.Assign(ctx, summary.BatchID, dto.BatchAssignmentRequest{
		Assignments: []dto.TicketAssignment{{TicketID: ticketA, DestinationInput: dto.DestinationInput{RecordID: "x", NewRecordName: "y"}}},
	}, claimantActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Assign(ctx, summary.BatchID, dto.BatchAssignmentRequest{
		Assignments: []dto.TicketAssignment{{TicketID: "missing", DestinationInput: dto.DestinationInput{RecordID: "item-1"}}},
	}, claimantActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	updated, err := f.svc.Assign(ctx, summary.BatchID, dto.BatchAssignmentRequest{
		All: &dto.DestinationInput{NewRecordName: "Stolen camera"},
		Assignments: []dto.TicketAssignment{
			{TicketID: ticketB, DestinationInput: dto.DestinationInput{RecordID: "item-1"}},
		},
	}, claimantActor)
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.AssignmentCoverage)

	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(ctx, f.queue.last(t)))

	status, err := f.svc.Status(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Counts.Completed)
	assert.Equal(t, "item-stolen-camera", ticketByName(status, "a.png").ResolvedRecordID)
	assert.Equal(t, "item-1", ticketByName(status, "b.png").ResolvedRecordID)
	created, ok := f.items.items["item-stolen-camera"]
	require.True(t, ok)
	assert.Equal(t, "claimant-1", created.OwnerID)
}

func TestBatchServiceRetryFailedTickets(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	f.store.putErr = errors.New("bucket unavailable")

	summary, err := f.svc.Submit(ctx, BatchSubmission{ItemID: "item-1", Files: []BatchFile{
		batchFile("a.pdf", "application/pdf", "doc"),
	}}, claimantActor)
	require.NoError(t, err)
	ticketID := summary.Tickets[0].TicketID

	_, err = f.svc.Retry(ctx, summary.BatchID, nil, claimantActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(ctx, f.queue.last(t)))

	status, err := f.svc.Status(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	require.Equal(t, 1, status.Counts.Failed)
	assert.NotEmpty(t, status.Tickets[0].Message)

	_, err = f.svc.Retry(ctx, summary.BatchID, []string{"unknown"}, claimantActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	f.store.putErr = nil
	resp, err := f.svc.Retry(ctx, summary.BatchID, nil, claimantActor)
	require.NoError(t, err)
	job := f.queue.last(t)
	assert.Equal(t, resp.JobID, job.ID)
	assert.Equal(t, BatchJobRetry, job.Type)
	assert.Equal(t, []string{ticketID}, job.Payload.(BatchJobPayload).TicketIDs)
	require.NoError(t, f.worker.Handle(ctx, job))

	status, err = f.svc.Status(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Counts.Completed)
	assert.Equal(t, 0, status.Counts.Failed)

	_, err = f.svc.Retry(ctx, summary.BatchID, []string{ticketID}, claimantActor)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestBatchServiceSubmitValidation(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, BatchSubmission{}, claimantActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	files := []BatchFile{
		batchFile("1.png", "image/png", "1"),
		batchFile("2.png", "image/png", "2"),
		batchFile("3.png", "image/png", "3"),
		batchFile("4.png", "image/png", "4"),
	}
	_, err = f.svc.Submit(ctx, BatchSubmission{Files: files}, claimantActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Submit(ctx, BatchSubmission{Files: files[:1]}, nil)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	summary, err := f.svc.Submit(ctx, BatchSubmission{Files: []BatchFile{
		{Name: "huge.mp4", ContentType: "video/mp4", Size: ingest.MaxFileSize + 1, Content: strings.NewReader("x")},
		{Name: "sniffed", Size: 8, Content: bytes.NewReader([]byte("%PDF-1.4"))},
	}}, claimantActor)
	require.NoError(t, err)
	huge := ticketByName(summary, "huge.mp4")
	assert.Equal(t, models.TicketStateRejected, huge.State)
	assert.Equal(t, ingest.ReasonFileTooLarge, huge.Message)
	sniffed := ticketByName(summary, "sniffed")
	assert.Equal(t, models.TicketStatePending, sniffed.State)
	assert.Equal(t, models.EvidenceCategoryDocument, sniffed.Category)
}

func TestBatchServiceAccessAndDelete(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	summary, err := f.svc.Submit(ctx, BatchSubmission{ItemID: "item-1", Files: []BatchFile{
		batchFile("a.png", "image/png", "a"),
	}}, claimantActor)
	require.NoError(t, err)

	_, err = f.svc.Status(ctx, summary.BatchID, otherActor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Status(ctx, summary.BatchID, adjusterActor)
	assert.NoError(t, err)
	assert.ErrorIs(t, f.svc.Delete(ctx, summary.BatchID, otherActor), appErrors.ErrForbidden)

	require.NoError(t, f.svc.Delete(ctx, summary.BatchID, claimantActor))
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 0, f.gauge.active)

	cached, err := f.svc.Status(ctx, summary.BatchID, claimantActor)
	require.NoError(t, err)
	assert.Equal(t, summary.BatchID, cached.BatchID)
	_, err = f.svc.Status(ctx, summary.BatchID, otherActor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	_, err = f.svc.Status(ctx, "unknown", claimantActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBatchServiceExport(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	summary, err := f.svc.Submit(ctx, BatchSubmission{ItemID: "item-1", Files: []BatchFile{
		batchFile("front.png", "image/png", "png"),
	}}, claimantActor)
	require.NoError(t, err)

	csvExport, err := f.svc.Export(ctx, summary.BatchID, "csv", claimantActor)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", csvExport.ContentType)
	lines := strings.Split(strings.TrimSpace(string(csvExport.Data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Ticket,File,Category,Size,Destination,Record,State,Progress,Message", lines[0])
	assert.Contains(t, lines[1], "front.png")

	pdfExport, err := f.svc.Export(ctx, summary.BatchID, "pdf", claimantActor)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfExport.ContentType)
	assert.True(t, bytes.HasPrefix(pdfExport.Data, []byte("%PDF")))

	_, err = f.svc.Export(ctx, summary.BatchID, "xlsx", claimantActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBatchServiceCleanupDiscardsIdleBatches(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	summary, err := f.svc.Submit(ctx, BatchSubmission{ItemID: "item-1", Files: []BatchFile{
		batchFile("a.png", "image/png", "a"),
	}}, claimantActor)
	require.NoError(t, err)

	f.registry.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }
	_, ok := f.registry.Get(summary.BatchID)
	require.True(t, ok)

	f.svc.cleanupIdle(ctx)
	assert.Equal(t, 0, f.registry.Len())
	assert.Contains(t, f.cache.entries, batchSummaryCachePrefix+summary.BatchID)
}

func TestBatchServiceEnqueueFailureClearsQueuedFlag(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	f.queue.err = errors.New("queue closed")

	summary, err := f.svc.Submit(ctx, BatchSubmission{ItemID: "item-1", Files: []BatchFile{
		batchFile("a.png", "image/png", "a"),
	}}, claimantActor)
	require.NoError(t, err)

	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	f.queue.err = fmt.Errorf("evidence-batches: %w", jobs.ErrQueueFull)
	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)

	f.queue.err = nil
	_, err = f.svc.Run(ctx, summary.BatchID, claimantActor)
	assert.NoError(t, err)
}
