package ingest

import (
	"time"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

// Snapshot summarises tickets without mutating them. Assignment coverage is
// measured over tickets that were not rejected at intake; an empty set counts
// as fully covered.
func Snapshot(batchID string, tickets []*Ticket) models.BatchSummary {
	summary := models.BatchSummary{
		BatchID:     batchID,
		Tickets:     make([]models.TicketDetail, 0, len(tickets)),
		GeneratedAt: time.Now().UTC(),
	}
	eligible, assigned := 0, 0
	for _, t := range tickets {
		if t == nil {
			continue
		}
		summary.Total++
		switch t.State {
		case models.TicketStatePending:
			summary.Counts.Pending++
		case models.TicketStateUploading:
			summary.Counts.Uploading++
		case models.TicketStateCompleted:
			summary.Counts.Completed++
		case models.TicketStateFailed:
			summary.Counts.Failed++
		case models.TicketStateRejected:
			summary.Counts.Rejected++
		}
		if t.State != models.TicketStateRejected {
			eligible++
			if t.Destination.Assigned() {
				assigned++
			}
		}
		summary.Tickets = append(summary.Tickets, t.detail())
	}
	summary.AssignmentCoverage = 1
	if eligible > 0 {
		summary.AssignmentCoverage = float64(assigned) / float64(eligible)
	}
	summary.Ready = assigned == eligible
	return summary
}
