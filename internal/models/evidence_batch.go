package models

import (
	"fmt"
	"time"
)

// TicketState tracks the lifecycle of one file inside an ingestion batch.
type TicketState string

const (
	TicketStatePending   TicketState = "PENDING"
	TicketStateUploading TicketState = "UPLOADING"
	TicketStateCompleted TicketState = "COMPLETED"
	TicketStateFailed    TicketState = "FAILED"
	TicketStateRejected  TicketState = "REJECTED"
)

// Terminal reports whether no further automatic transition occurs from the state.
func (s TicketState) Terminal() bool {
	switch s {
	case TicketStateCompleted, TicketStateFailed, TicketStateRejected:
		return true
	default:
		return false
	}
}

// DestinationKind identifies how a ticket's destination record is addressed.
type DestinationKind string

const (
	DestinationUnassigned DestinationKind = ""
	DestinationExisting   DestinationKind = "existing"
	DestinationNew        DestinationKind = "new"
)

// DestinationKey is the caller's choice of where a file attaches: an existing
// record id or a request to create a record with the given name.
type DestinationKey struct {
	Kind     DestinationKind `json:"kind,omitempty"`
	RecordID string          `json:"recordId,omitempty"`
	Name     string          `json:"name,omitempty"`
}

// ExistingRecord addresses a record that already exists.
func ExistingRecord(id string) DestinationKey {
	return DestinationKey{Kind: DestinationExisting, RecordID: id}
}

// NewRecord requests a record to be created with the given name.
func NewRecord(name string) DestinationKey {
	return DestinationKey{Kind: DestinationNew, Name: name}
}

// Assigned reports whether a destination was chosen.
func (k DestinationKey) Assigned() bool {
	switch k.Kind {
	case DestinationExisting:
		return k.RecordID != ""
	case DestinationNew:
		return k.Name != ""
	default:
		return false
	}
}

// GroupKey returns the identity used for grouping. Unassigned keys yield "".
// Names are compared exactly as supplied.
func (k DestinationKey) GroupKey() string {
	if !k.Assigned() {
		return ""
	}
	switch k.Kind {
	case DestinationExisting:
		return "existing:" + k.RecordID
	default:
		return "new:" + k.Name
	}
}

// Equal compares two assigned keys. Unassigned keys never compare equal.
func (k DestinationKey) Equal(other DestinationKey) bool {
	key := k.GroupKey()
	return key != "" && key == other.GroupKey()
}

// Describe renders a human readable destination.
func (k DestinationKey) Describe() string {
	if !k.Assigned() {
		return "unassigned"
	}
	if k.Kind == DestinationExisting {
		return "existing record " + k.RecordID
	}
	return fmt.Sprintf("new record %q", k.Name)
}

// EvidencePreview is a best-effort inline preview generated for photos.
type EvidencePreview struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	DataURI string `json:"dataUri,omitempty"`
}

// UploadResult is produced for every successfully stored ticket.
type UploadResult struct {
	EvidenceID     string           `json:"evidenceId"`
	StoredLocation string           `json:"storedLocation"`
	Category       EvidenceCategory `json:"category"`
	CreatedAt      time.Time        `json:"createdAt"`
	OriginalName   string           `json:"originalName"`
	TicketID       string           `json:"ticketId,omitempty"`
}

// TicketStateCounts aggregates tickets per lifecycle state.
type TicketStateCounts struct {
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Rejected  int `json:"rejected"`
}

// TicketDetail is the per-ticket row of a batch summary.
type TicketDetail struct {
	TicketID         string           `json:"ticketId"`
	OriginalName     string           `json:"originalName"`
	ByteSize         int64            `json:"byteSize"`
	ContentType      string           `json:"contentType"`
	Category         EvidenceCategory `json:"category"`
	Destination      DestinationKey   `json:"destination"`
	DestinationLabel string           `json:"destinationLabel"`
	ResolvedRecordID string           `json:"resolvedRecordId,omitempty"`
	State            TicketState      `json:"state"`
	Progress         int              `json:"progress"`
	Message          string           `json:"message,omitempty"`
	Preview          *EvidencePreview `json:"preview,omitempty"`
	Result           *UploadResult    `json:"result,omitempty"`
}

// BatchSummary is the read view over a batch of tickets.
type BatchSummary struct {
	BatchID            string            `json:"batchId"`
	Counts             TicketStateCounts `json:"counts"`
	Total              int               `json:"total"`
	AssignmentCoverage float64           `json:"assignmentCoverage"`
	Ready              bool              `json:"ready"`
	Tickets            []TicketDetail    `json:"tickets"`
	GeneratedAt        time.Time         `json:"generatedAt"`
}
