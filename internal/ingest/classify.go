package ingest

import (
	"sort"
	"strings"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

// MaxFileSize is the inclusive per-file size cap in bytes.
const MaxFileSize int64 = 52_428_800

var allowedContentTypes = map[models.EvidenceCategory]map[string]struct{}{
	models.EvidenceCategoryPhoto: {
		"image/jpeg": {},
		"image/jpg":  {},
		"image/png":  {},
		"image/gif":  {},
		"image/webp": {},
	},
	models.EvidenceCategoryVideo: {
		"video/mp4":  {},
		"video/mov":  {},
		"video/avi":  {},
		"video/webm": {},
	},
	models.EvidenceCategoryDocument: {
		"application/pdf":    {},
		"application/msword": {},
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
		"text/plain": {},
	},
}

// NormalizeContentType lower-cases a content type and strips its parameters.
func NormalizeContentType(raw string) string {
	ct := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return ct
}

// Classify maps a content type onto its evidence category.
func Classify(contentType string) models.EvidenceCategory {
	ct := NormalizeContentType(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return models.EvidenceCategoryPhoto
	case strings.HasPrefix(ct, "video/"):
		return models.EvidenceCategoryVideo
	default:
		return models.EvidenceCategoryDocument
	}
}

// Allowed reports whether the content type is on the allow-list of the category.
func Allowed(category models.EvidenceCategory, contentType string) bool {
	set, ok := allowedContentTypes[category]
	if !ok {
		return false
	}
	_, ok = set[NormalizeContentType(contentType)]
	return ok
}

// AllowedContentTypes lists the accepted content types of a category in sorted order.
func AllowedContentTypes(category models.EvidenceCategory) []string {
	set := allowedContentTypes[category]
	out := make([]string, 0, len(set))
	for ct := range set {
		out = append(out, ct)
	}
	sort.Strings(out)
	return out
}

// Validate classifies a file and returns the rejection reason, or "" when the
// file is acceptable. The size check runs before the content type check.
func Validate(size int64, contentType string) (models.EvidenceCategory, string) {
	category := Classify(contentType)
	if size > MaxFileSize {
		return category, ReasonFileTooLarge
	}
	if !Allowed(category, contentType) {
		return category, unsupportedTypeReason(strings.TrimSpace(contentType))
	}
	return category, ""
}
