package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/theftclaim-api/internal/models"
	"github.com/noah-isme/theftclaim-api/internal/service"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
)

type evidenceServiceMock struct {
	upload      service.EvidenceUpload
	body        string
	uploadErr   error
	evidence    *models.Evidence
	downloadTok string
	deleted     string
}

func (m *evidenceServiceMock) Upload(ctx context.Context, upload service.EvidenceUpload, actor *models.JWTClaims) (*models.Evidence, error) {
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	m.upload = upload
	data, err := io.ReadAll(upload.Content)
	if err != nil {
		return nil, err
	}
	m.body = string(data)
	return &models.Evidence{ID: "ev-1", ItemID: upload.ItemID, OriginalName: upload.Filename}, nil
}

func (m *evidenceServiceMock) ListByItem(ctx context.Context, itemID string, category models.EvidenceCategory, actor *models.JWTClaims) ([]models.Evidence, error) {
	return []models.Evidence{*m.evidence}, nil
}

func (m *evidenceServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Evidence, error) {
	return m.evidence, nil
}

func (m *evidenceServiceMock) GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (*service.EvidenceDownloadLink, error) {
	return &service.EvidenceDownloadLink{URL: "/api/v1/evidence/" + id + "/download?token=abc", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (m *evidenceServiceMock) Download(ctx context.Context, id, token string, actor *models.JWTClaims) (*service.EvidenceDownload, error) {
	m.downloadTok = token
	return &service.EvidenceDownload{
		Body:      io.NopCloser(strings.NewReader("receipt")),
		Filename:  "receipt.pdf",
		MimeType:  "application/pdf",
		SizeBytes: 7,
	}, nil
}

func (m *evidenceServiceMock) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	m.deleted = id
	return nil
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestEvidenceHandlerUpload(t *testing.T) {
	mock := &evidenceServiceMock{}
	handler := NewEvidenceHandler(mock)

	body, contentType := multipartUpload(t, map[string]string{"itemId": "item-1", "category": "Document"}, "receipt.pdf", "receipt")
	c, w := newTestContext(http.MethodPost, "/evidence", body, contentType)
	handler.Upload(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "item-1", mock.upload.ItemID)
	assert.Equal(t, models.EvidenceCategoryDocument, mock.upload.Category)
	assert.Equal(t, int64(7), mock.upload.Size)
	assert.Equal(t, "receipt", mock.body)
}

func TestEvidenceHandlerUploadValidation(t *testing.T) {
	mock := &evidenceServiceMock{}
	handler := NewEvidenceHandler(mock)

	body, contentType := multipartUpload(t, map[string]string{"category": "photo"}, "a.png", "png")
	c, w := newTestContext(http.MethodPost, "/evidence", body, contentType)
	handler.Upload(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, contentType = multipartUpload(t, map[string]string{"itemId": "item-1", "category": "audio"}, "a.mp3", "mp3")
	c, w = newTestContext(http.MethodPost, "/evidence", body, contentType)
	handler.Upload(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, contentType = multipartUpload(t, map[string]string{"itemId": "item-1"}, "", "")
	c, w = newTestContext(http.MethodPost, "/evidence", body, contentType)
	handler.Upload(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	mock.uploadErr = appErrors.Clone(appErrors.ErrUnsupportedMedia, "unsupported file type: application/zip")
	body, contentType = multipartUpload(t, map[string]string{"itemId": "item-1"}, "a.zip", "zip")
	c, w = newTestContext(http.MethodPost, "/evidence", body, contentType)
	handler.Upload(c)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestEvidenceHandlerGetAndDownload(t *testing.T) {
	mock := &evidenceServiceMock{evidence: &models.Evidence{ID: "ev-1", ItemID: "item-1"}}
	handler := NewEvidenceHandler(mock)

	c, w := newTestContext(http.MethodGet, "/evidence/ev-1", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "ev-1"}}
	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"downloadUrl":"/api/v1/evidence/ev-1/download?token=abc"`)

	c, w = newTestContext(http.MethodGet, "/evidence/ev-1/download", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "ev-1"}}
	handler.Download(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodGet, "/evidence/ev-1/download?token=abc", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "ev-1"}}
	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", mock.downloadTok)
	assert.Equal(t, "receipt", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "filename=receipt.pdf")

	c, w = newTestContext(http.MethodDelete, "/evidence/ev-1", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "ev-1"}}
	handler.Delete(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "ev-1", mock.deleted)
}
