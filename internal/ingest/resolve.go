package ingest

import "github.com/noah-isme/theftclaim-api/internal/models"

// Group is the set of pending tickets sharing one destination key. Groups are
// recomputed on every pass and never persisted.
type Group struct {
	Key     models.DestinationKey
	Tickets []*Ticket
}

// Resolve partitions pending tickets by destination. Groups come out in
// first-seen order of their keys and keep the relative order of their tickets.
// Pending tickets without a destination are returned separately.
func Resolve(tickets []*Ticket) ([]Group, []*Ticket) {
	groups := make([]Group, 0)
	unassigned := make([]*Ticket, 0)
	index := make(map[string]int)
	for _, t := range tickets {
		if t == nil || t.State != models.TicketStatePending {
			continue
		}
		key := t.Destination.GroupKey()
		if key == "" {
			unassigned = append(unassigned, t)
			continue
		}
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, Group{Key: t.Destination})
		}
		groups[pos].Tickets = append(groups[pos].Tickets, t)
	}
	return groups, unassigned
}
