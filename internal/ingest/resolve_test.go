package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

func pendingTicket(id string, key models.DestinationKey) *Ticket {
	return &Ticket{ID: id, OriginalName: id, State: models.TicketStatePending, Destination: key}
}

func TestResolveGroupsInFirstSeenOrder(t *testing.T) {
	tickets := []*Ticket{
		pendingTicket("t1", models.NewRecord("Tractor")),
		pendingTicket("t2", models.ExistingRecord("42")),
		pendingTicket("t3", models.NewRecord("Tractor")),
		pendingTicket("t4", models.NewRecord("tractor")),
		pendingTicket("t5", models.DestinationKey{}),
		pendingTicket("t6", models.ExistingRecord("42")),
		{ID: "t7", State: models.TicketStateRejected, Destination: models.ExistingRecord("42")},
		{ID: "t8", State: models.TicketStateCompleted, Destination: models.NewRecord("Tractor")},
	}

	groups, unassigned := Resolve(tickets)

	require.Len(t, groups, 3)
	assert.Equal(t, models.NewRecord("Tractor"), groups[0].Key)
	assert.Equal(t, []string{"t1", "t3"}, ticketIDs(groups[0].Tickets))
	assert.Equal(t, models.ExistingRecord("42"), groups[1].Key)
	assert.Equal(t, []string{"t2", "t6"}, ticketIDs(groups[1].Tickets))
	assert.Equal(t, models.NewRecord("tractor"), groups[2].Key, "names compare case-sensitively")
	assert.Equal(t, []string{"t5"}, ticketIDs(unassigned))
}

func TestResolvePartitionsAssignedTickets(t *testing.T) {
	keys := []models.DestinationKey{
		models.ExistingRecord("1"),
		models.NewRecord("1"),
		models.ExistingRecord("2"),
		models.ExistingRecord("1"),
		models.NewRecord("1"),
	}
	tickets := make([]*Ticket, 0, len(keys))
	for i, key := range keys {
		tickets = append(tickets, pendingTicket(string(rune('a'+i)), key))
	}

	groups, unassigned := Resolve(tickets)
	require.Empty(t, unassigned)

	seen := map[string]string{}
	for _, g := range groups {
		for _, ticket := range g.Tickets {
			_, dup := seen[ticket.ID]
			require.False(t, dup, "ticket %s in two groups", ticket.ID)
			seen[ticket.ID] = g.Key.GroupKey()
			assert.True(t, ticket.Destination.Equal(g.Key))
		}
	}
	assert.Len(t, seen, len(tickets))
	assert.Len(t, groups, 3)
}
