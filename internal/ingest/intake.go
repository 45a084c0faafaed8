package ingest

import (
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

// RawFile is one file handed to intake. Content is owned by the resulting
// ticket and must stay readable until the ticket reaches a terminal state.
type RawFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.ReadSeekCloser
}

// IntakeConfig tunes intake behaviour.
type IntakeConfig struct {
	PreviewMaxBytes int64
}

// Intake classifies and validates raw files into tickets.
type Intake struct {
	cfg    IntakeConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewIntake constructs an intake stage.
func NewIntake(cfg IntakeConfig, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PreviewMaxBytes == 0 {
		cfg.PreviewMaxBytes = DefaultPreviewMaxBytes
	}
	return &Intake{cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Submit turns raw files into tickets. It never fails: every outcome is
// recorded on the ticket itself.
func (i *Intake) Submit(files []RawFile) []*Ticket {
	tickets := make([]*Ticket, 0, len(files))
	for _, file := range files {
		tickets = append(tickets, i.ticket(file))
	}
	return tickets
}

func (i *Intake) ticket(file RawFile) *Ticket {
	now := i.now()
	size := file.Size
	if size <= 0 && file.Content != nil {
		if measured, err := measure(file.Content); err == nil {
			size = measured
		}
	}
	t := &Ticket{
		ID:           uuid.NewString(),
		OriginalName: file.Name,
		ByteSize:     size,
		ContentType:  file.ContentType,
		State:        models.TicketStatePending,
		CreatedAt:    now,
		UpdatedAt:    now,
		source:       file.Content,
	}

	category, reason := Validate(size, file.ContentType)
	t.Category = category
	if reason == "" && file.Content == nil {
		reason = ReasonMissingContent
	}
	if reason != "" {
		t.State = models.TicketStateRejected
		t.ErrorReason = reason
		t.release()
		i.logger.Sugar().Debugw("evidence file rejected", "ticket_id", t.ID, "name", t.OriginalName, "reason", reason)
		return t
	}

	if category == models.EvidenceCategoryPhoto {
		preview, err := buildPreview(file.Content, size, file.ContentType, i.cfg.PreviewMaxBytes)
		if err != nil {
			i.logger.Sugar().Debugw("photo preview unavailable", "ticket_id", t.ID, "error", err)
		}
		t.Preview = preview
	}
	return t
}

func measure(src io.Seeker) (int64, error) {
	end, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}
