package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/theftclaim-api/internal/dto"
	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
)

type itemStore interface {
	Create(ctx context.Context, item *models.Item) error
	GetByID(ctx context.Context, id string) (*models.Item, error)
	List(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error)
}

// ItemService manages the stolen item records evidence attaches to.
type ItemService struct {
	repo      itemStore
	validator *validator.Validate
	audit     auditLogger
	logger    *zap.Logger
}

// NewItemService constructs the service.
func NewItemService(repo itemStore, validate *validator.Validate, audit auditLogger, logger *zap.Logger) *ItemService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ItemService{repo: repo, validator: validate, audit: audit, logger: logger}
}

// Create persists a new item owned by the actor.
func (s *ItemService) Create(ctx context.Context, req dto.CreateItemRequest, actor *models.JWTClaims) (*models.Item, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid item payload")
	}
	item := &models.Item{
		Name:         req.Name,
		Description:  strings.TrimSpace(req.Description),
		OwnerID:      actor.UserID,
		CaseReportID: normalizeRef(req.CaseReportID),
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create item")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionItemCreate,
		Resource:   "item",
		ResourceID: &item.ID,
		NewValues:  []byte(fmt.Sprintf(`{"name":%q}`, item.Name)),
	})
	return item, nil
}

// Get returns an item the actor may see.
func (s *ItemService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Item, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item")
	}
	if !canAccessItem(item, actor) {
		return nil, appErrors.ErrForbidden
	}
	return item, nil
}

// List returns a page of items. Claimants only see their own.
func (s *ItemService) List(ctx context.Context, filter models.ItemFilter, actor *models.JWTClaims) ([]models.Item, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanAccessAll() {
		filter.OwnerID = actor.UserID
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list items")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// RecordCreator binds the service to an actor so the ingestion pipeline can
// provision items on its behalf.
func (s *ItemService) RecordCreator(actor *models.JWTClaims) ingest.RecordCreator {
	return itemRecordCreator{svc: s, actor: actor}
}

type itemRecordCreator struct {
	svc   *ItemService
	actor *models.JWTClaims
}

func (c itemRecordCreator) CreateRecord(ctx context.Context, req ingest.CreateRecordRequest) (*ingest.CreatedRecord, error) {
	item, err := c.svc.Create(ctx, dto.CreateItemRequest{Name: req.Name, Description: req.Description}, c.actor)
	if err != nil {
		return nil, err
	}
	return &ingest.CreatedRecord{ID: item.ID, Name: item.Name}, nil
}

func (s *ItemService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "item-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create item audit", zap.Error(err))
	}
}

func normalizeRef(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	result := trimmed
	return &result
}
