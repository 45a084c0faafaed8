package models

import "time"

// EvidenceCategory classifies an evidence file by its media family.
type EvidenceCategory string

const (
	EvidenceCategoryPhoto    EvidenceCategory = "photo"
	EvidenceCategoryVideo    EvidenceCategory = "video"
	EvidenceCategoryDocument EvidenceCategory = "document"
)

// Valid reports whether the category is one of the known families.
func (c EvidenceCategory) Valid() bool {
	switch c {
	case EvidenceCategoryPhoto, EvidenceCategoryVideo, EvidenceCategoryDocument:
		return true
	default:
		return false
	}
}

// Item is the stolen item record evidence attaches to.
type Item struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	OwnerID      string    `db:"owner_id" json:"ownerId"`
	CaseReportID *string   `db:"case_report_id" json:"caseReportId,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	OwnerID      string
	CaseReportID string
	Search       string
	Page         int
	PageSize     int
}

// Evidence is one stored evidence file bound to an item.
type Evidence struct {
	ID           string           `db:"id" json:"id"`
	ItemID       string           `db:"item_id" json:"itemId"`
	Category     EvidenceCategory `db:"category" json:"category"`
	OriginalName string           `db:"original_name" json:"originalName"`
	StoredPath   string           `db:"stored_path" json:"storedLocation"`
	MimeType     string           `db:"mime_type" json:"mimeType"`
	SizeBytes    int64            `db:"size_bytes" json:"sizeBytes"`
	UploadedBy   string           `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	DeletedAt    *time.Time       `db:"deleted_at" json:"deletedAt,omitempty"`
}

// EvidenceFilter narrows evidence listings.
type EvidenceFilter struct {
	ItemID         string
	Category       EvidenceCategory
	IncludeDeleted bool
	Limit          int
	Offset         int
}
