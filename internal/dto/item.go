package dto

import "github.com/noah-isme/theftclaim-api/internal/models"

// CreateItemRequest captures POST /items payload.
type CreateItemRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Description  string  `json:"description" validate:"max=2000"`
	CaseReportID *string `json:"caseReportId,omitempty" validate:"omitempty,max=64"`
}

// EvidenceDetailResponse enriches metadata with a download URL.
type EvidenceDetailResponse struct {
	models.Evidence
	DownloadURL string `json:"downloadUrl"`
}
