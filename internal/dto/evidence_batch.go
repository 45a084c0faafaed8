package dto

import "github.com/noah-isme/theftclaim-api/internal/models"

// DestinationInput addresses an existing item or names a new one. Leaving both
// empty clears the destination.
type DestinationInput struct {
	RecordID      string `json:"recordId,omitempty" validate:"omitempty,max=64"`
	NewRecordName string `json:"newRecordName,omitempty" validate:"omitempty,max=200"`
}

// Key converts the input into a destination key.
func (d DestinationInput) Key() (models.DestinationKey, bool) {
	switch {
	case d.RecordID != "" && d.NewRecordName != "":
		return models.DestinationKey{}, false
	case d.RecordID != "":
		return models.ExistingRecord(d.RecordID), true
	case d.NewRecordName != "":
		return models.NewRecord(d.NewRecordName), true
	default:
		return models.DestinationKey{}, true
	}
}

// TicketAssignment sets the destination of one ticket.
type TicketAssignment struct {
	TicketID string `json:"ticketId" validate:"required"`
	DestinationInput
}

// BatchAssignmentRequest captures PUT /evidence-batches/:id/assignments payload.
// All, when present, is applied to every assignable ticket before the
// per-ticket assignments.
type BatchAssignmentRequest struct {
	All         *DestinationInput  `json:"all,omitempty"`
	Assignments []TicketAssignment `json:"assignments" validate:"dive"`
}

// BatchRetryRequest captures POST /evidence-batches/:id/retry payload.
type BatchRetryRequest struct {
	TicketIDs []string `json:"ticketIds"`
}

// BatchRunResponse is returned after a run or retry is queued.
type BatchRunResponse struct {
	BatchID string `json:"batchId"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
}
