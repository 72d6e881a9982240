package participation

import "ms-attendance/internal/models"

type TicketOption struct {
	Ticket    models.Ticket `json:"ticket"`
	Confirmed bool          `json:"confirmed"`
}

// TicketGroup lists the tickets an email holds for one event.
type TicketGroup struct {
	Event   models.Event   `json:"event"`
	Tickets []TicketOption `json:"tickets"`
}

// EventOption is an event the email holds no ticket for.
type EventOption struct {
	Event     models.Event `json:"event"`
	Confirmed bool         `json:"confirmed"`
}

type Overview struct {
	Email          string         `json:"email"`
	Source         *models.Ticket `json:"source,omitempty"`
	TicketGroups   []TicketGroup  `json:"ticket_groups"`
	NoTicketEvents []EventOption  `json:"no_ticket_events"`
}

// Selection is what the operator ticked. Anything not offered by the
// overview is ignored.
type Selection struct {
	TicketUUIDs []string `json:"tickets"`
	EventIDs    []int64  `json:"no_ticket_events"`
}

// buildOverview groups tickets under the events list (ordered by date, name).
// Every event without a ticket for the email becomes a ticket-less option.
func buildOverview(email string, events []models.Event, tickets []models.Ticket, participants []models.Participant) *Overview {
	paidTickets := make(map[string]bool)
	paidTicketless := make(map[int64]bool)
	for _, p := range participants {
		if p.PaidAt == nil {
			continue
		}
		if p.HasTicket() {
			paidTickets[p.TicketUUID] = true
		} else {
			paidTicketless[p.EventID] = true
		}
	}

	byEvent := make(map[int64][]models.Ticket)
	for _, t := range tickets {
		t.Event = nil
		byEvent[t.EventID] = append(byEvent[t.EventID], t)
	}

	ov := &Overview{Email: email, TicketGroups: []TicketGroup{}, NoTicketEvents: []EventOption{}}
	for _, e := range events {
		held, ok := byEvent[e.ID]
		if !ok {
			ov.NoTicketEvents = append(ov.NoTicketEvents, EventOption{Event: e, Confirmed: paidTicketless[e.ID]})
			continue
		}
		group := TicketGroup{Event: e}
		for _, t := range held {
			group.Tickets = append(group.Tickets, TicketOption{Ticket: t, Confirmed: paidTickets[t.TicketUUID]})
		}
		ov.TicketGroups = append(ov.TicketGroups, group)
	}
	return ov
}

// offered returns the unconfirmed items of the overview keyed by ticket uuid
// and event id.
func (ov *Overview) offered() (map[string]models.Ticket, map[int64]models.Event) {
	tickets := make(map[string]models.Ticket)
	events := make(map[int64]models.Event)
	for _, g := range ov.TicketGroups {
		for _, opt := range g.Tickets {
			if !opt.Confirmed {
				tickets[opt.Ticket.TicketUUID] = opt.Ticket
			}
		}
	}
	for _, opt := range ov.NoTicketEvents {
		if !opt.Confirmed {
			events[opt.Event.ID] = opt.Event
		}
	}
	return tickets, events
}

// resolved is a selection reduced to offered items, in overview order and
// without duplicates.
type resolved struct {
	tickets []models.Ticket
	events  []models.Event
}

func (ov *Overview) resolve(sel Selection) resolved {
	offeredTickets, offeredEvents := ov.offered()

	wantTicket := make(map[string]bool, len(sel.TicketUUIDs))
	for _, id := range sel.TicketUUIDs {
		wantTicket[normalizeUUID(id)] = true
	}
	wantEvent := make(map[int64]bool, len(sel.EventIDs))
	for _, id := range sel.EventIDs {
		wantEvent[id] = true
	}

	var r resolved
	for _, g := range ov.TicketGroups {
		for _, opt := range g.Tickets {
			if t, ok := offeredTickets[opt.Ticket.TicketUUID]; ok && wantTicket[t.TicketUUID] {
				r.tickets = append(r.tickets, t)
			}
		}
	}
	for _, opt := range ov.NoTicketEvents {
		if e, ok := offeredEvents[opt.Event.ID]; ok && wantEvent[e.ID] {
			r.events = append(r.events, e)
		}
	}
	return r
}
