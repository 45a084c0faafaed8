package handler

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/theftclaim-api/internal/dto"
	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/middleware"
	"github.com/noah-isme/theftclaim-api/internal/models"
	"github.com/noah-isme/theftclaim-api/internal/service"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
	"github.com/noah-isme/theftclaim-api/pkg/response"
)

type batchService interface {
	Submit(ctx context.Context, sub service.BatchSubmission, actor *models.JWTClaims) (*models.BatchSummary, error)
	Assign(ctx context.Context, batchID string, req dto.BatchAssignmentRequest, actor *models.JWTClaims) (*models.BatchSummary, error)
	Run(ctx context.Context, batchID string, actor *models.JWTClaims) (*dto.BatchRunResponse, error)
	Retry(ctx context.Context, batchID string, ticketIDs []string, actor *models.JWTClaims) (*dto.BatchRunResponse, error)
	Status(ctx context.Context, batchID string, actor *models.JWTClaims) (*models.BatchSummary, error)
	Delete(ctx context.Context, batchID string, actor *models.JWTClaims) error
	Export(ctx context.Context, batchID, format string, actor *models.JWTClaims) (*service.BatchExport, error)
}

// BatchHandler exposes bulk evidence ingestion.
type BatchHandler struct {
	service batchService
}

// NewBatchHandler constructs the handler.
func NewBatchHandler(service batchService) *BatchHandler {
	return &BatchHandler{service: service}
}

// Submit godoc
// @Summary Submit a batch of evidence files
// @Description Files are validated immediately; rejected files are reported in the summary.
// @Tags Evidence Batches
// @Accept multipart/form-data
// @Produce json
// @Param files[] formData file true "Evidence files"
// @Param itemId formData string false "Attach every file to this item"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /evidence-batches [post]
func (h *BatchHandler) Submit(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "multipart form required"))
		return
	}
	headers := make([]*multipart.FileHeader, 0, len(form.File["files[]"])+len(form.File["files"]))
	headers = append(headers, form.File["files[]"]...)
	headers = append(headers, form.File["files"]...)
	if len(headers) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at least one file is required"))
		return
	}

	files := make([]service.BatchFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, src := range opened {
			_ = src.Close()
		}
	}()
	for _, header := range headers {
		src, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to open %s", header.Filename)))
			return
		}
		opened = append(opened, src)
		files = append(files, service.BatchFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     src,
		})
	}

	var itemID string
	if values := form.Value["itemId"]; len(values) > 0 {
		itemID = strings.TrimSpace(values[0])
	}
	summary, err := h.service.Submit(c.Request.Context(), service.BatchSubmission{ItemID: itemID, Files: files}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, summary)
}

// Status godoc
// @Summary Batch summary
// @Tags Evidence Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /evidence-batches/{id} [get]
func (h *BatchHandler) Status(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	summary, err := h.service.Status(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Assign godoc
// @Summary Assign destinations to tickets
// @Tags Evidence Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body dto.BatchAssignmentRequest true "Assignments"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /evidence-batches/{id}/assignments [put]
func (h *BatchHandler) Assign(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.BatchAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	summary, err := h.service.Assign(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Run godoc
// @Summary Queue provisioning and upload for every pending ticket
// @Tags Evidence Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Unassigned tickets listed in meta.unassignedTicketIds"
// @Router /evidence-batches/{id}/run [post]
func (h *BatchHandler) Run(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.service.Run(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		respondBatchError(c, err)
		return
	}
	response.Accepted(c, res)
}

// Retry godoc
// @Summary Retry failed tickets
// @Description An empty ticketIds list retries every failed ticket.
// @Tags Evidence Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body dto.BatchRetryRequest false "Tickets to retry"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /evidence-batches/{id}/retry [post]
func (h *BatchHandler) Retry(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.BatchRetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid retry payload"))
			return
		}
	}
	res, err := h.service.Retry(c.Request.Context(), c.Param("id"), req.TicketIDs, claims)
	if err != nil {
		respondBatchError(c, err)
		return
	}
	response.Accepted(c, res)
}

// RetryTicket godoc
// @Summary Retry one failed ticket
// @Tags Evidence Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Param ticketId path string true "Ticket ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /evidence-batches/{id}/tickets/{ticketId}/retry [post]
func (h *BatchHandler) RetryTicket(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.service.Retry(c.Request.Context(), c.Param("id"), []string{c.Param("ticketId")}, claims)
	if err != nil {
		respondBatchError(c, err)
		return
	}
	response.Accepted(c, res)
}

// Delete godoc
// @Summary Cancel and discard a batch
// @Tags Evidence Batches
// @Param id path string true "Batch ID"
// @Success 204
// @Router /evidence-batches/{id} [delete]
func (h *BatchHandler) Delete(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export the batch summary
// @Tags Evidence Batches
// @Produce octet-stream
// @Param id path string true "Batch ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /evidence-batches/{id}/export [get]
func (h *BatchHandler) Export(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	export, err := h.service.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, export.Filename, export.ContentType, export.Data)
}

func respondBatchError(c *gin.Context, err error) {
	var unassigned *ingest.UnassignedError
	if errors.As(err, &unassigned) {
		response.ErrorWithMeta(c, err, map[string]interface{}{"unassignedTicketIds": unassigned.TicketIDs})
		return
	}
	response.Error(c, err)
}
