package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/theftclaim-api/internal/dto"
	"github.com/noah-isme/theftclaim-api/internal/middleware"
	"github.com/noah-isme/theftclaim-api/internal/models"
	"github.com/noah-isme/theftclaim-api/internal/service"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
	"github.com/noah-isme/theftclaim-api/pkg/response"
)

type evidenceService interface {
	Upload(ctx context.Context, upload service.EvidenceUpload, actor *models.JWTClaims) (*models.Evidence, error)
	ListByItem(ctx context.Context, itemID string, category models.EvidenceCategory, actor *models.JWTClaims) ([]models.Evidence, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Evidence, error)
	GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (*service.EvidenceDownloadLink, error)
	Download(ctx context.Context, id, token string, actor *models.JWTClaims) (*service.EvidenceDownload, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

// EvidenceHandler manages single evidence file endpoints.
type EvidenceHandler struct {
	service evidenceService
}

// NewEvidenceHandler constructs the handler.
func NewEvidenceHandler(service evidenceService) *EvidenceHandler {
	return &EvidenceHandler{service: service}
}

// Upload godoc
// @Summary Upload one evidence file to an item
// @Tags Evidence
// @Accept multipart/form-data
// @Produce json
// @Param itemId formData string true "Item ID"
// @Param category formData string false "Expected category (photo, video, document)"
// @Param file formData file true "Evidence file"
// @Success 201 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /evidence [post]
func (h *EvidenceHandler) Upload(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	itemID := strings.TrimSpace(c.PostForm("itemId"))
	if itemID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "itemId is required"))
		return
	}
	category := models.EvidenceCategory(strings.ToLower(strings.TrimSpace(c.PostForm("category"))))
	if category != "" && !category.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown evidence category"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	evidence, err := h.service.Upload(c.Request.Context(), service.EvidenceUpload{
		ItemID:   itemID,
		Category: category,
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  src,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, evidence)
}

// ListByItem godoc
// @Summary List evidence attached to an item
// @Tags Evidence
// @Produce json
// @Param id path string true "Item ID"
// @Param category query string false "Category filter"
// @Success 200 {object} response.Envelope
// @Router /items/{id}/evidence [get]
func (h *EvidenceHandler) ListByItem(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	category := models.EvidenceCategory(strings.ToLower(strings.TrimSpace(c.Query("category"))))
	items, err := h.service.ListByItem(c.Request.Context(), c.Param("id"), category, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get evidence metadata with a download link
// @Tags Evidence
// @Produce json
// @Param id path string true "Evidence ID"
// @Success 200 {object} response.Envelope
// @Router /evidence/{id} [get]
func (h *EvidenceHandler) Get(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	evidence, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.service.GetDownloadURL(c.Request.Context(), evidence.ID, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.EvidenceDetailResponse{
		Evidence:    *evidence,
		DownloadURL: link.URL,
	}, nil)
}

// Download godoc
// @Summary Download evidence via signed token
// @Tags Evidence
// @Produce octet-stream
// @Param id path string true "Evidence ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /evidence/{id}/download [get]
func (h *EvidenceHandler) Download(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), c.Param("id"), token, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.Body.Close() //nolint:errcheck
	response.Stream(c, result.Filename, result.MimeType, result.SizeBytes, result.Body)
}

// Delete godoc
// @Summary Soft delete an evidence file
// @Tags Evidence
// @Produce json
// @Param id path string true "Evidence ID"
// @Success 204
// @Router /evidence/{id} [delete]
func (h *EvidenceHandler) Delete(c *gin.Context) {
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
