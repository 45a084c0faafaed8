package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

var legalTransitions = map[models.TicketState][]models.TicketState{
	models.TicketStatePending:   {models.TicketStateUploading},
	models.TicketStateUploading: {models.TicketStateCompleted, models.TicketStateFailed},
	models.TicketStateFailed:    {models.TicketStatePending},
}

// CanTransition reports whether a ticket may move from one state to another.
func CanTransition(from, to models.TicketState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Ticket is one file moving through the pipeline. Its fields are owned by the
// Batch that holds it and must only be read through Batch snapshots once the
// batch is shared.
type Ticket struct {
	ID               string
	OriginalName     string
	ByteSize         int64
	ContentType      string
	Category         models.EvidenceCategory
	State            models.TicketState
	Progress         int
	ErrorReason      string
	Destination      models.DestinationKey
	ResolvedRecordID string
	Preview          *models.EvidencePreview
	Result           *models.UploadResult
	CreatedAt        time.Time
	UpdatedAt        time.Time

	source   io.ReadSeekCloser
	attempt  int
	measured bool
}

func (t *Ticket) transition(to models.TicketState, now time.Time) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.State, to)
	}
	t.State = to
	t.UpdatedAt = now
	return nil
}

func (t *Ticket) release() {
	if t.source == nil {
		return
	}
	_ = t.source.Close()
	t.source = nil
}

func (t *Ticket) detail() models.TicketDetail {
	message := t.ErrorReason
	if message == "" && t.Result != nil {
		message = t.Result.StoredLocation
	}
	var result *models.UploadResult
	if t.Result != nil {
		copied := *t.Result
		result = &copied
	}
	return models.TicketDetail{
		TicketID:         t.ID,
		OriginalName:     t.OriginalName,
		ByteSize:         t.ByteSize,
		ContentType:      t.ContentType,
		Category:         t.Category,
		Destination:      t.Destination,
		DestinationLabel: t.Destination.Describe(),
		ResolvedRecordID: t.ResolvedRecordID,
		State:            t.State,
		Progress:         t.Progress,
		Message:          message,
		Preview:          t.Preview,
		Result:           result,
	}
}
