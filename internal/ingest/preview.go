package ingest

import (
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

// DefaultPreviewMaxBytes caps the size of photos embedded inline as data URIs.
const DefaultPreviewMaxBytes int64 = 512 * 1024

func buildPreview(src io.ReadSeeker, size int64, contentType string, inlineLimit int64) (*models.EvidencePreview, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind photo: %w", err)
	}
	defer src.Seek(0, io.SeekStart) //nolint:errcheck

	cfg, format, err := image.DecodeConfig(src)
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	preview := &models.EvidencePreview{Width: cfg.Width, Height: cfg.Height, Format: format}
	if inlineLimit <= 0 || size <= 0 || size > inlineLimit {
		return preview, nil
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return preview, nil
	}
	data, err := io.ReadAll(io.LimitReader(src, inlineLimit+1))
	if err != nil || int64(len(data)) > inlineLimit {
		return preview, nil
	}
	preview.DataURI = "data:" + NormalizeContentType(contentType) + ";base64," + base64.StdEncoding.EncodeToString(data)
	return preview, nil
}
