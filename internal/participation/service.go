// Package participation confirms which events an email has paid for.
//
// The overview for an email offers every unconfirmed ticket of that email
// and every event the email has no ticket for. Confirming a selection turns
// the offered items into paid participants; anything outside the offer is
// ignored, so submitting the same selection twice is harmless.
package participation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-attendance/internal/clock"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
)

type EventLister interface {
	ListEvents(ctx context.Context) ([]models.Event, error)
}

type TicketReader interface {
	GetTicketByUUID(ctx context.Context, ticketUUID string) (*models.Ticket, error)
	ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error)
}

type ParticipantReader interface {
	ListParticipantsByEmail(ctx context.Context, email string) ([]models.Participant, error)
	GetParticipantByTicket(ctx context.Context, ticketUUID string) (*models.Participant, error)
	FindTicketlessParticipant(ctx context.Context, eventID int64, email string) (*models.Participant, error)
}

// Saver persists participants through the validating, autolinking save path.
type Saver interface {
	Save(ctx context.Context, p *models.Participant) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, payload any) error
}

type Service struct {
	Events         EventLister
	Tickets        TicketReader
	Participants   ParticipantReader
	Saver          Saver
	Tx             Transactor
	Clock          clock.Clock
	Logger         *logger.Logger
	StandardAmount decimal.Decimal
	Prices         Prices
	Publisher      Publisher // optional
	Topic          string
}

func NewService(events EventLister, tickets TicketReader, participants ParticipantReader, saver Saver, tx Transactor, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		Events:         events,
		Tickets:        tickets,
		Participants:   participants,
		Saver:          saver,
		Tx:             tx,
		Clock:          clk,
		Logger:         log,
		StandardAmount: decimal.RequireFromString("23.00"),
		Prices: Prices{
			Ticket:   decimal.RequireFromString("23.00"),
			NoTicket: decimal.RequireFromString("27.00"),
		},
	}
}

func (s *Service) WithPublisher(p Publisher, topic string) *Service {
	s.Publisher = p
	s.Topic = topic
	return s
}

func normalizeUUID(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return strings.ToLower(raw)
}

func (s *Service) sourceTicket(ctx context.Context, ticketUUID string) (*models.Ticket, error) {
	if _, err := uuid.Parse(strings.TrimSpace(ticketUUID)); err != nil {
		return nil, models.ErrTicketNotFound
	}
	return s.Tickets.GetTicketByUUID(ctx, normalizeUUID(ticketUUID))
}

// OverviewForTicket builds the overview for the email of the given ticket.
func (s *Service) OverviewForTicket(ctx context.Context, ticketUUID string) (*Overview, error) {
	source, err := s.sourceTicket(ctx, ticketUUID)
	if err != nil {
		return nil, err
	}
	ov, err := s.OverviewForEmail(ctx, source.Email)
	if err != nil {
		return nil, err
	}
	ov.Source = source
	return ov, nil
}

func (s *Service) OverviewForEmail(ctx context.Context, email string) (*Overview, error) {
	email = strings.TrimSpace(email)
	events, err := s.Events.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	tickets, err := s.Tickets.ListTicketsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	participants, err := s.Participants.ListParticipantsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return buildOverview(email, events, tickets, participants), nil
}

// Confirm confirms sel for the email of the given ticket. The ticket's name
// is the default name of new ticket-less participants.
func (s *Service) Confirm(ctx context.Context, ticketUUID string, sel Selection) (int, error) {
	ov, err := s.OverviewForTicket(ctx, ticketUUID)
	if err != nil {
		return 0, err
	}
	return s.confirm(ctx, ov, sel)
}

// ConfirmForEmail confirms sel without a source ticket; ticket-less
// participants default to the email as their name.
func (s *Service) ConfirmForEmail(ctx context.Context, email string, sel Selection) (int, error) {
	ov, err := s.OverviewForEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	return s.confirm(ctx, ov, sel)
}

// Quote prices sel against the overview of the given ticket's email.
func (s *Service) Quote(ctx context.Context, ticketUUID string, sel Selection) (Quote, error) {
	ov, err := s.OverviewForTicket(ctx, ticketUUID)
	if err != nil {
		return Quote{}, err
	}
	return quote(ov, sel, s.Prices), nil
}

func (s *Service) confirm(ctx context.Context, ov *Overview, sel Selection) (int, error) {
	r := ov.resolve(sel)
	paidAt := clock.Today(s.Clock)

	fallbackName := ov.Email
	if ov.Source != nil && strings.TrimSpace(ov.Source.Name) != "" {
		fallbackName = strings.TrimSpace(ov.Source.Name)
	}

	touched := 0
	var confirmedTickets []string
	var confirmedEvents []int64
	for _, t := range r.tickets {
		t := t
		err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
			return s.confirmTicket(ctx, ov.Email, &t, paidAt)
		})
		if err != nil {
			return touched, fmt.Errorf("confirm ticket %s: %w", t.TicketUUID, err)
		}
		touched++
		confirmedTickets = append(confirmedTickets, t.TicketUUID)
	}
	for _, e := range r.events {
		e := e
		err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
			return s.confirmTicketless(ctx, ov.Email, &e, fallbackName, paidAt)
		})
		if err != nil {
			return touched, fmt.Errorf("confirm event %d: %w", e.ID, err)
		}
		touched++
		confirmedEvents = append(confirmedEvents, e.ID)
	}

	s.Logger.Info("PARTICIPATION", fmt.Sprintf("%s: confirmed %d item(s), %d ticket(s), %d without ticket",
		ov.Email, touched, len(confirmedTickets), len(confirmedEvents)))

	if touched > 0 && s.Publisher != nil {
		evt := models.ParticipationConfirmedEvent{
			Email:       ov.Email,
			TicketUUIDs: confirmedTickets,
			EventIDs:    confirmedEvents,
			Touched:     touched,
			ConfirmedAt: s.Clock.Now(),
		}
		if err := s.Publisher.PublishJSON(ctx, s.Topic, strings.ToLower(ov.Email), evt); err != nil {
			s.Logger.Warn("PARTICIPATION", fmt.Sprintf("confirmation stored but notification failed: %v", err))
		}
	}
	return touched, nil
}

// confirmTicket upserts the participant that holds t. A ticket-less
// participant of the same pair takes the ticket before a new row is made.
func (s *Service) confirmTicket(ctx context.Context, email string, t *models.Ticket, paidAt time.Time) error {
	p, err := s.Participants.GetParticipantByTicket(ctx, t.TicketUUID)
	if errors.Is(err, models.ErrParticipantNotFound) {
		p, err = s.Participants.FindTicketlessParticipant(ctx, t.EventID, email)
		if errors.Is(err, models.ErrParticipantNotFound) {
			p, err = &models.Participant{}, nil
		}
	}
	if err != nil {
		return err
	}

	p.TicketUUID = t.TicketUUID
	p.EventID = t.EventID
	p.Email = email
	if strings.TrimSpace(p.Name) == "" {
		p.Name = strings.TrimSpace(t.Name)
		if p.Name == "" {
			p.Name = email
		}
	}
	p.PaidAt = &paidAt
	p.Amount = s.StandardAmount
	return s.Saver.Save(ctx, p)
}

func (s *Service) confirmTicketless(ctx context.Context, email string, e *models.Event, fallbackName string, paidAt time.Time) error {
	p, err := s.Participants.FindTicketlessParticipant(ctx, e.ID, email)
	if errors.Is(err, models.ErrParticipantNotFound) {
		p, err = &models.Participant{EventID: e.ID, Email: email}, nil
	}
	if err != nil {
		return err
	}

	if strings.TrimSpace(p.Name) == "" {
		p.Name = fallbackName
	}
	p.PaidAt = &paidAt
	p.Amount = s.StandardAmount
	return s.Saver.Save(ctx, p)
}
