package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Ticket failure and rejection reasons surfaced to callers.
const (
	ReasonFileTooLarge       = "file too large"
	ReasonMissingContent     = "file content missing"
	ReasonProvisioningFailed = "failed to create record"
	ReasonCancelled          = "upload cancelled"
	ReasonTimedOut           = "upload timed out"
	ReasonMalformedResponse  = "malformed upload response"
)

var (
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrTicketBusy         = errors.New("ticket is uploading")
	ErrTicketFinished     = errors.New("ticket already finished")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrUnassignedTickets  = errors.New("cannot proceed: tickets without destination")
	ErrMissingOwner       = errors.New("owner reference required")
	ErrRunInFlight        = errors.New("batch run already in flight")
	ErrNotRetryable       = errors.New("only failed tickets can be retried")
	ErrBatchClosed        = errors.New("batch closed")
	ErrBatchCancelled     = errors.New("batch cancelled")
	ErrIllegalTransition  = errors.New("illegal ticket transition")
	ErrNoTickets          = errors.New("no tickets selected")
)

// UnassignedError lists the tickets that block a multi-destination run.
type UnassignedError struct {
	TicketIDs []string
}

func (e *UnassignedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnassignedTickets.Error(), strings.Join(e.TicketIDs, ", "))
}

func (e *UnassignedError) Unwrap() error {
	return ErrUnassignedTickets
}

func unsupportedTypeReason(contentType string) string {
	return "unsupported file type: " + contentType
}
