package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

type memFile struct {
	*bytes.Reader
	closed atomic.Bool
}

func newMemFile(data []byte) *memFile {
	return &memFile{Reader: bytes.NewReader(data)}
}

func (m *memFile) Close() error {
	m.closed.Store(true)
	return nil
}

func rawFile(name, contentType string, data []byte) RawFile {
	return RawFile{Name: name, ContentType: contentType, Size: int64(len(data)), Content: newMemFile(data)}
}

type creatorStub struct {
	mu    sync.Mutex
	calls []CreateRecordRequest
	// failures is consumed one entry per call; nil entries succeed.
	failures []error
	delay    time.Duration
}

func (c *creatorStub) CreateRecord(ctx context.Context, req CreateRecordRequest) (*CreatedRecord, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	var err error
	if len(c.failures) > 0 {
		err = c.failures[0]
		c.failures = c.failures[1:]
	}
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &CreatedRecord{ID: "rec-" + req.Name, Name: req.Name}, nil
}

func (c *creatorStub) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type uploaderStub struct {
	mu       sync.Mutex
	calls    []UploadRequest
	bodies   map[string][]byte
	failOnce map[string]error
	hook     func(ctx context.Context, req UploadRequest) (*models.UploadResult, error)

	active    map[string]int
	maxActive map[string]int
}

func newUploaderStub() *uploaderStub {
	return &uploaderStub{
		bodies:    make(map[string][]byte),
		failOnce:  make(map[string]error),
		active:    make(map[string]int),
		maxActive: make(map[string]int),
	}
}

func (u *uploaderStub) UploadEvidence(ctx context.Context, req UploadRequest) (*models.UploadResult, error) {
	u.mu.Lock()
	u.calls = append(u.calls, req)
	u.active[req.RecordID]++
	if u.active[req.RecordID] > u.maxActive[req.RecordID] {
		u.maxActive[req.RecordID] = u.active[req.RecordID]
	}
	failure := u.failOnce[req.OriginalName]
	delete(u.failOnce, req.OriginalName)
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.active[req.RecordID]--
		u.mu.Unlock()
	}()

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.bodies[req.OriginalName] = data
	u.mu.Unlock()

	if u.hook != nil {
		return u.hook(ctx, req)
	}
	if failure != nil {
		return nil, failure
	}
	return &models.UploadResult{
		EvidenceID:     fmt.Sprintf("ev-%s", req.OriginalName),
		StoredLocation: fmt.Sprintf("records/%s/%s", req.RecordID, req.OriginalName),
		Category:       req.Category,
		CreatedAt:      time.Now().UTC(),
		OriginalName:   req.OriginalName,
	}, nil
}

func (u *uploaderStub) names() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.calls))
	for _, call := range u.calls {
		out = append(out, call.OriginalName)
	}
	return out
}

func (u *uploaderStub) recordIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.calls))
	for _, call := range u.calls {
		out = append(out, call.RecordID)
	}
	return out
}

func detailByName(summary models.BatchSummary, name string) models.TicketDetail {
	for _, d := range summary.Tickets {
		if d.OriginalName == name {
			return d
		}
	}
	return models.TicketDetail{}
}

var errTransport = errors.New("connection reset by peer")
