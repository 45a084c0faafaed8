package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
	"github.com/noah-isme/theftclaim-api/pkg/storage"
)

type evidenceStore interface {
	Create(ctx context.Context, evidence *models.Evidence) error
	GetByID(ctx context.Context, id string) (*models.Evidence, error)
	List(ctx context.Context, filter models.EvidenceFilter) ([]models.Evidence, error)
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
}

type evidenceItemLookup interface {
	GetByID(ctx context.Context, id string) (*models.Item, error)
}

type evidenceURLSigner interface {
	Sign(grant storage.DownloadGrant) (string, storage.DownloadGrant, error)
	Verify(token string) (storage.DownloadGrant, error)
}

// EvidenceUpload carries upload metadata and the content stream.
type EvidenceUpload struct {
	ItemID   string
	Category models.EvidenceCategory
	Filename string
	Size     int64
	MimeType string
	Content  io.Reader
	Progress ingest.ProgressFunc
}

// EvidenceDownload bundles a content reader with metadata for streaming.
type EvidenceDownload struct {
	Body      io.ReadCloser
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// EvidenceDownloadLink is either a presigned object URL or a signed API route.
type EvidenceDownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// EvidenceServiceConfig holds validation and link parameters.
type EvidenceServiceConfig struct {
	APIPrefix    string
	SignedURLTTL time.Duration
}

// EvidenceService manages evidence metadata and object storage IO.
type EvidenceService struct {
	repo    evidenceStore
	items   evidenceItemLookup
	storage storage.ObjectStore
	signer  evidenceURLSigner
	audit   auditLogger
	logger  *zap.Logger
	cfg     EvidenceServiceConfig
}

// NewEvidenceService constructs the service with defaults.
func NewEvidenceService(repo evidenceStore, items evidenceItemLookup, store storage.ObjectStore, signer evidenceURLSigner, audit auditLogger, logger *zap.Logger, cfg EvidenceServiceConfig) *EvidenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	return &EvidenceService{
		repo:    repo,
		items:   items,
		storage: store,
		signer:  signer,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
	}
}

// Upload validates, stores and records one evidence file against an item.
func (s *EvidenceService) Upload(ctx context.Context, upload EvidenceUpload, actor *models.JWTClaims) (*models.Evidence, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.storage == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "evidence storage unavailable")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, ingest.ReasonMissingContent)
	}
	mimeType := ingest.NormalizeContentType(upload.MimeType)
	category, reason := ingest.Validate(upload.Size, mimeType)
	switch {
	case reason == ingest.ReasonFileTooLarge:
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, reason)
	case reason != "":
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, reason)
	}
	if upload.Category != "" && upload.Category != category {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content type %s is not a %s", mimeType, upload.Category))
	}
	item, err := s.loadItem(ctx, upload.ItemID)
	if err != nil {
		return nil, err
	}
	if !canAccessItem(item, actor) {
		return nil, appErrors.ErrForbidden
	}

	evidenceID := uuid.NewString()
	key := evidenceKey(item.ID, evidenceID, upload.Filename, mimeType)
	body := upload.Content
	if upload.Progress != nil {
		body = &progressReader{r: body, total: upload.Size, report: upload.Progress}
	}
	if err := s.storage.Put(ctx, key, body, upload.Size, mimeType); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist evidence file")
	}
	evidence := &models.Evidence{
		ID:           evidenceID,
		ItemID:       item.ID,
		Category:     category,
		OriginalName: upload.Filename,
		StoredPath:   key,
		MimeType:     mimeType,
		SizeBytes:    upload.Size,
		UploadedBy:   actor.UserID,
	}
	if err := s.repo.Create(ctx, evidence); err != nil {
		if delErr := s.storage.Delete(context.Background(), key); delErr != nil {
			s.logger.Warn("failed to remove orphaned evidence object", zap.String("key", key), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evidence metadata")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionEvidenceUpload,
		Resource:   "evidence",
		ResourceID: &evidence.ID,
		NewValues:  []byte(fmt.Sprintf(`{"itemId":%q,"category":%q,"size":%d}`, item.ID, category, upload.Size)),
	})
	return evidence, nil
}

// Uploader binds the service to an actor so the ingestion pipeline can store
// files on its behalf.
func (s *EvidenceService) Uploader(actor *models.JWTClaims) ingest.EvidenceUploader {
	return evidenceUploader{svc: s, actor: actor}
}

type evidenceUploader struct {
	svc   *EvidenceService
	actor *models.JWTClaims
}

func (u evidenceUploader) UploadEvidence(ctx context.Context, req ingest.UploadRequest) (*models.UploadResult, error) {
	evidence, err := u.svc.Upload(ctx, EvidenceUpload{
		ItemID:   req.RecordID,
		Category: req.Category,
		Filename: req.OriginalName,
		Size:     req.Size,
		MimeType: req.ContentType,
		Content:  req.Body,
		Progress: req.Progress,
	}, u.actor)
	if err != nil {
		return nil, err
	}
	return &models.UploadResult{
		EvidenceID:     evidence.ID,
		StoredLocation: evidence.StoredPath,
		Category:       evidence.Category,
		CreatedAt:      evidence.CreatedAt,
		OriginalName:   evidence.OriginalName,
	}, nil
}

// ListByItem returns live evidence attached to an item.
func (s *EvidenceService) ListByItem(ctx context.Context, itemID string, category models.EvidenceCategory, actor *models.JWTClaims) ([]models.Evidence, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if category != "" && !category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown evidence category")
	}
	item, err := s.loadItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !canAccessItem(item, actor) {
		return nil, appErrors.ErrForbidden
	}
	rows, err := s.repo.List(ctx, models.EvidenceFilter{ItemID: item.ID, Category: category})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evidence")
	}
	return rows, nil
}

// Get returns evidence metadata enforcing ownership of the parent item.
func (s *EvidenceService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Evidence, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	evidence, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evidence")
	}
	if evidence.DeletedAt != nil {
		return nil, appErrors.ErrNotFound
	}
	item, err := s.loadItem(ctx, evidence.ItemID)
	if err != nil {
		return nil, err
	}
	if !canAccessItem(item, actor) {
		return nil, appErrors.ErrForbidden
	}
	return evidence, nil
}

// GetDownloadURL returns a presigned object URL when the store supports it,
// otherwise a signed route served by Download.
func (s *EvidenceService) GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (*EvidenceDownloadLink, error) {
	evidence, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if presigner, ok := s.storage.(storage.URLPresigner); ok {
		url, err := presigner.PresignGet(ctx, evidence.StoredPath, s.cfg.SignedURLTTL)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to presign download")
		}
		return &EvidenceDownloadLink{URL: url, ExpiresAt: time.Now().Add(s.cfg.SignedURLTTL).UTC()}, nil
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	token, grant, err := s.signer.Sign(storage.DownloadGrant{
		EvidenceID: evidence.ID,
		StoredPath: evidence.StoredPath,
		UserID:     actor.UserID,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &EvidenceDownloadLink{
		URL:       fmt.Sprintf("%s/evidence/%s/download?token=%s", base, evidence.ID, token),
		ExpiresAt: grant.ExpiresAt,
	}, nil
}

// Download opens the stored object when token was issued to actor for this
// evidence and has not expired.
func (s *EvidenceService) Download(ctx context.Context, id, token string, actor *models.JWTClaims) (*EvidenceDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	evidence, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	grant, err := s.signer.Verify(token)
	switch {
	case errors.Is(err, storage.ErrTokenExpired):
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	case err != nil:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	if grant.EvidenceID != evidence.ID || grant.StoredPath != evidence.StoredPath || grant.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	body, err := s.storage.Get(ctx, grant.StoredPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evidence file missing")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open evidence file")
	}
	return &EvidenceDownload{
		Body:      body,
		Filename:  evidence.OriginalName,
		MimeType:  evidence.MimeType,
		SizeBytes: evidence.SizeBytes,
		ExpiresAt: grant.ExpiresAt,
	}, nil
}

// Delete soft deletes the metadata and removes the stored object.
func (s *EvidenceService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	evidence, err := s.Get(ctx, id, actor)
	if err != nil {
		return err
	}
	if actor.Role == models.RoleClaimant && evidence.UploadedBy != actor.UserID {
		return appErrors.ErrForbidden
	}
	if err := s.repo.SoftDelete(ctx, id, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete evidence")
	}
	if err := s.storage.Delete(ctx, evidence.StoredPath); err != nil {
		s.logger.Warn("failed to remove evidence object", zap.String("key", evidence.StoredPath), zap.Error(err))
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionEvidenceDelete,
		Resource:   "evidence",
		ResourceID: &id,
	})
	return nil
}

func (s *EvidenceService) loadItem(ctx context.Context, id string) (*models.Item, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "item id is required")
	}
	if s.items == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "item lookup unavailable")
	}
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item")
	}
	return item, nil
}

func (s *EvidenceService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "evidence-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create evidence audit", zap.Error(err))
	}
}

func canAccessItem(item *models.Item, actor *models.JWTClaims) bool {
	return item != nil && actor.MayActFor(item.OwnerID)
}

func evidenceKey(itemID, evidenceID, original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" || len(ext) > 8 {
		ext = mimeExtension(mimeType)
	}
	return fmt.Sprintf("items/%s/%s%s", itemID, evidenceID, ext)
}

func mimeExtension(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/mov":
		return ".mov"
	case "video/avi":
		return ".avi"
	case "video/webm":
		return ".webm"
	case "application/pdf":
		return ".pdf"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}

// detectContentType sniffs a content type when the client omitted one.
func detectContentType(header []byte) string {
	if len(header) == 0 {
		return ""
	}
	return ingest.NormalizeContentType(http.DetectContentType(header))
}

type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report ingest.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent, p.total)
	}
	return n, err
}
