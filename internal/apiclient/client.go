// Package apiclient talks to the theft claim API over HTTP so the ingestion
// pipeline can run from an operator workstation.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
)

const defaultTimeout = 5 * time.Minute

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// Client implements ingest.RecordCreator and ingest.EvidenceUploader against
// the REST API.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
}

// New constructs a client. BaseURL must include the API prefix, for example
// http://localhost:8080/api/v1.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("api base url must be http or https: %q", base)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = "evidence-cli"
	}
	return &Client{baseURL: base, token: opts.Token, userAgent: agent, http: httpClient}, nil
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

// Profile returns the user the configured token belongs to.
func (c *Client) Profile(ctx context.Context) (*models.UserInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	var info models.UserInfo
	if err := c.do(req, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type itemPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateRecord provisions a new item.
func (c *Client) CreateRecord(ctx context.Context, req ingest.CreateRecordRequest) (*ingest.CreatedRecord, error) {
	body, err := json.Marshal(map[string]string{"name": req.Name, "description": req.Description})
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/items", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var item itemPayload
	if err := c.do(httpReq, http.StatusCreated, &item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, fmt.Errorf("create item: response carried no id")
	}
	return &ingest.CreatedRecord{ID: item.ID, Name: item.Name}, nil
}

type evidencePayload struct {
	ID             string                  `json:"id"`
	Category       models.EvidenceCategory `json:"category"`
	OriginalName   string                  `json:"originalName"`
	StoredLocation string                  `json:"storedLocation"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// UploadEvidence streams one file as multipart/form-data. Byte progress is
// reported as the body is consumed by the transport.
func (c *Client) UploadEvidence(ctx context.Context, req ingest.UploadRequest) (*models.UploadResult, error) {
	if req.Body == nil {
		return nil, fmt.Errorf("upload %s: empty body", req.OriginalName)
	}
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeUploadForm(writer, req)
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	var body io.Reader = pr
	if req.Progress != nil {
		body = &countingReader{r: pr, total: req.Size, progress: req.Progress}
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/evidence", body)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var evidence evidencePayload
	err = c.do(httpReq, http.StatusCreated, &evidence)
	_ = pr.Close()
	if err != nil {
		return nil, err
	}
	return &models.UploadResult{
		EvidenceID:     evidence.ID,
		StoredLocation: evidence.StoredLocation,
		Category:       evidence.Category,
		CreatedAt:      evidence.CreatedAt,
		OriginalName:   evidence.OriginalName,
	}, nil
}

func writeUploadForm(w *multipart.Writer, req ingest.UploadRequest) error {
	if err := w.WriteField("itemId", req.RecordID); err != nil {
		return err
	}
	if req.Category != "" {
		if err := w.WriteField("category", string(req.Category)); err != nil {
			return err
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.OriginalName))
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, req.Body)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, want int, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil && err != io.EOF {
		if resp.StatusCode != want {
			return appErrors.New("HTTP_"+fmt.Sprint(resp.StatusCode), resp.StatusCode, resp.Status)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != want {
		if env.Error != nil {
			if env.Error.Status == 0 {
				env.Error.Status = resp.StatusCode
			}
			return env.Error
		}
		return appErrors.New("HTTP_"+fmt.Sprint(resp.StatusCode), resp.StatusCode, resp.Status)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// countingReader reports how much of the file part has been handed to the
// transport. Multipart framing makes the count slightly exceed the file size,
// so it is clamped.
type countingReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ingest.ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		sent := c.sent
		if c.total > 0 && sent > c.total {
			sent = c.total
		}
		c.progress(sent, c.total)
	}
	return n, err
}
