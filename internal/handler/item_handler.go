package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/theftclaim-api/internal/dto"
	"github.com/noah-isme/theftclaim-api/internal/middleware"
	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
	"github.com/noah-isme/theftclaim-api/pkg/response"
)

type itemService interface {
	Create(ctx context.Context, req dto.CreateItemRequest, actor *models.JWTClaims) (*models.Item, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Item, error)
	List(ctx context.Context, filter models.ItemFilter, actor *models.JWTClaims) ([]models.Item, *models.Pagination, error)
}

// ItemHandler manages stolen item records.
type ItemHandler struct {
	service itemService
}

// NewItemHandler constructs the handler.
func NewItemHandler(service itemService) *ItemHandler {
	return &ItemHandler{service: service}
}

// Create godoc
// @Summary Register a stolen item
// @Tags Items
// @Accept json
// @Produce json
// @Param payload body dto.CreateItemRequest true "Item payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /items [post]
func (h *ItemHandler) Create(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid item payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// List godoc
// @Summary List items
// @Tags Items
// @Produce json
// @Param caseReportId query string false "Case report reference"
// @Param search query string false "Name search"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /items [get]
func (h *ItemHandler) List(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := models.ItemFilter{
		CaseReportID: strings.TrimSpace(c.Query("caseReportId")),
		Search:       strings.TrimSpace(c.Query("search")),
		Page:         queryInt(c, "page"),
		PageSize:     queryInt(c, "pageSize"),
	}
	items, page, err := h.service.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, page)
}

// Get godoc
// @Summary Get item
// @Tags Items
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /items/{id} [get]
func (h *ItemHandler) Get(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return value
}
