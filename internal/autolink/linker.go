// Package autolink pairs participants without a ticket with unclaimed tickets
// of the same event and email.
//
// Every trigger goes through candidates and choose, so ticket saves,
// participant saves and bulk runs all follow the same tie-break: the most
// recently created row wins, ties broken by the highest key.
package autolink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-attendance/internal/clock"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
)

type TicketStore interface {
	ListUnclaimedTickets(ctx context.Context, eventID int64, email string) ([]models.Ticket, error)
}

type ParticipantStore interface {
	ListUnlinkedParticipants(ctx context.Context, eventID int64, email string) ([]models.Participant, error)
	ListParticipantsByIDs(ctx context.Context, ids []int64) ([]models.Participant, error)
	SetTicketIfUnlinked(ctx context.Context, participantID int64, ticketUUID string, now time.Time) (bool, error)
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockKey(ctx context.Context, key string) error
}

type Linker struct {
	Tickets      TicketStore
	Participants ParticipantStore
	Tx           Transactor
	Clock        clock.Clock
	Logger       *logger.Logger
}

func NewLinker(tickets TicketStore, participants ParticipantStore, tx Transactor, clk clock.Clock, log *logger.Logger) *Linker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Linker{Tickets: tickets, Participants: participants, Tx: tx, Clock: clk, Logger: log}
}

// PairKey is the serialization key of one (event, email) pair.
func PairKey(eventID int64, email string) string {
	return fmt.Sprintf("autolink:%d:%s", eventID, strings.ToLower(strings.TrimSpace(email)))
}

// candidates locks the pair and loads both sides of the match. Must run
// inside a transaction.
func (l *Linker) candidates(ctx context.Context, eventID int64, email string) ([]models.Participant, []models.Ticket, error) {
	if err := l.Tx.LockKey(ctx, PairKey(eventID, email)); err != nil {
		return nil, nil, fmt.Errorf("lock %s: %w", PairKey(eventID, email), err)
	}
	participants, err := l.Participants.ListUnlinkedParticipants(ctx, eventID, email)
	if err != nil {
		return nil, nil, err
	}
	tickets, err := l.Tickets.ListUnclaimedTickets(ctx, eventID, email)
	if err != nil {
		return nil, nil, err
	}
	return participants, tickets, nil
}

// choose picks the newest participant and the newest ticket. ok is false when
// either side is empty.
func choose(participants []models.Participant, tickets []models.Ticket) (*models.Participant, *models.Ticket, bool) {
	if len(participants) == 0 || len(tickets) == 0 {
		return nil, nil, false
	}
	p := &participants[0]
	for i := range participants[1:] {
		c := &participants[i+1]
		if c.CreatedAt.After(p.CreatedAt) || (c.CreatedAt.Equal(p.CreatedAt) && c.ID > p.ID) {
			p = c
		}
	}
	t := &tickets[0]
	for i := range tickets[1:] {
		c := &tickets[i+1]
		if c.CreatedAt.After(t.CreatedAt) || (c.CreatedAt.Equal(t.CreatedAt) && c.TicketUUID > t.TicketUUID) {
			t = c
		}
	}
	return p, t, true
}

// LinkTicket runs after a ticket save: the newest unlinked participant of the
// ticket's pair gets the ticket, unless it is already claimed.
func (l *Linker) LinkTicket(ctx context.Context, ticket *models.Ticket) (bool, error) {
	linked := false
	err := l.Tx.WithTx(ctx, func(ctx context.Context) error {
		participants, tickets, err := l.candidates(ctx, ticket.EventID, ticket.Email)
		if err != nil {
			return err
		}

		var self []models.Ticket
		for _, t := range tickets {
			if t.TicketUUID == ticket.TicketUUID {
				self = append(self, t)
			}
		}
		p, t, ok := choose(participants, self)
		if !ok {
			return nil
		}

		linked, err = l.Participants.SetTicketIfUnlinked(ctx, p.ID, t.TicketUUID, l.Clock.Now())
		if err != nil {
			return err
		}
		if linked {
			l.Logger.LogLink("TICKET_SAVE", PairKey(ticket.EventID, ticket.Email),
				fmt.Sprintf("participant %d -> ticket %s", p.ID, t.TicketUUID))
		}
		return nil
	})
	return linked, err
}

// Match runs inside a participant save: when p has no ticket, the newest
// unclaimed ticket of its pair is assigned to p in memory. The caller
// persists p in the same transaction.
func (l *Linker) Match(ctx context.Context, p *models.Participant) (bool, error) {
	if p.HasTicket() {
		return false, nil
	}
	matched := false
	err := l.Tx.WithTx(ctx, func(ctx context.Context) error {
		_, tickets, err := l.candidates(ctx, p.EventID, p.Email)
		if err != nil {
			return err
		}
		_, t, ok := choose([]models.Participant{*p}, tickets)
		if !ok {
			return nil
		}
		p.TicketUUID = t.TicketUUID
		matched = true
		l.Logger.LogLink("PARTICIPANT_SAVE", PairKey(p.EventID, p.Email),
			fmt.Sprintf("participant %d -> ticket %s", p.ID, t.TicketUUID))
		return nil
	})
	return matched, err
}

// LinkParticipants is the bulk run over the given participants, all in one
// transaction. Participants that already have a ticket are skipped.
func (l *Linker) LinkParticipants(ctx context.Context, ids []int64) (models.LinkReport, error) {
	var report models.LinkReport
	err := l.Tx.WithTx(ctx, func(ctx context.Context) error {
		participants, err := l.Participants.ListParticipantsByIDs(ctx, ids)
		if err != nil {
			return err
		}

		for _, current := range participants {
			if current.HasTicket() {
				report.Skipped++
				continue
			}
			unlinked, tickets, err := l.candidates(ctx, current.EventID, current.Email)
			if err != nil {
				return err
			}

			// re-check under the pair lock, an earlier iteration may have linked it
			var self []models.Participant
			for _, p := range unlinked {
				if p.ID == current.ID {
					self = append(self, p)
				}
			}
			if len(self) == 0 {
				report.Skipped++
				continue
			}

			p, t, ok := choose(self, tickets)
			if !ok {
				report.Unmatched++
				continue
			}
			linked, err := l.Participants.SetTicketIfUnlinked(ctx, p.ID, t.TicketUUID, l.Clock.Now())
			if err != nil {
				return err
			}
			if linked {
				report.Linked++
				l.Logger.LogLink("BULK", PairKey(p.EventID, p.Email),
					fmt.Sprintf("participant %d -> ticket %s", p.ID, t.TicketUUID))
			} else {
				report.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return models.LinkReport{}, err
	}
	return report, nil
}
