package participants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"ms-attendance/internal/clock"
	"ms-attendance/internal/database"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
)

type DBLayer interface {
	GetParticipantByTicket(ctx context.Context, ticketUUID string) (*models.Participant, error)
	CountOtherTicketless(ctx context.Context, eventID int64, email string, excludeID int64) (int, error)
	CreateParticipant(ctx context.Context, p *models.Participant) error
	UpdateParticipant(ctx context.Context, p *models.Participant) error
	ListUnlinkedParticipantIDs(ctx context.Context, eventID int64) ([]int64, error)
	UnlinkParticipants(ctx context.Context, ids []int64, now time.Time) (int, error)
}

type TicketReader interface {
	GetTicketByUUID(ctx context.Context, ticketUUID string) (*models.Ticket, error)
}

type EventReader interface {
	GetEventByID(ctx context.Context, id int64) (*models.Event, error)
}

// Matcher is the autolink engine as seen from participant saves.
type Matcher interface {
	Match(ctx context.Context, p *models.Participant) (bool, error)
	LinkParticipants(ctx context.Context, ids []int64) (models.LinkReport, error)
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ParticipantService struct {
	DB       DBLayer
	Tickets  TicketReader
	Events   EventReader
	Linker   Matcher
	Tx       Transactor
	Clock    clock.Clock
	Logger   *logger.Logger
	validate *validator.Validate
}

func NewParticipantService(db DBLayer, tickets TicketReader, events EventReader, linker Matcher, tx Transactor, clk clock.Clock, log *logger.Logger) *ParticipantService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ParticipantService{
		DB:       db,
		Tickets:  tickets,
		Events:   events,
		Linker:   linker,
		Tx:       tx,
		Clock:    clk,
		Logger:   log,
		validate: validator.New(),
	}
}

// CreateRequest is the administrative input for a new participant.
type CreateRequest struct {
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	EventID    int64            `json:"event_id"`
	TicketUUID string           `json:"ticket_uuid,omitempty"`
	Paid       bool             `json:"paid"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
}

func (s *ParticipantService) Create(ctx context.Context, req CreateRequest) (*models.Participant, error) {
	p := &models.Participant{
		Name:       req.Name,
		Email:      req.Email,
		EventID:    req.EventID,
		TicketUUID: strings.ToLower(strings.TrimSpace(req.TicketUUID)),
		Amount:     decimal.Zero,
	}
	if req.Amount != nil {
		p.Amount = *req.Amount
	}
	if req.Paid {
		today := clock.Today(s.Clock)
		p.PaidAt = &today
	}
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save validates and persists p. A participant without a ticket is first
// offered to the autolink engine. Invariant checks and the write share one
// transaction.
func (s *ParticipantService) Save(ctx context.Context, p *models.Participant) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.TicketUUID = strings.TrimSpace(p.TicketUUID)

	if err := s.validateFields(p); err != nil {
		return err
	}

	return s.Tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.Events.GetEventByID(ctx, p.EventID); err != nil {
			if errors.Is(err, models.ErrEventNotFound) {
				return &models.ValidationError{Field: "event", Msg: fmt.Sprintf("event %d does not exist", p.EventID)}
			}
			return err
		}

		if !p.HasTicket() {
			if _, err := s.Linker.Match(ctx, p); err != nil {
				return fmt.Errorf("autolink participant: %w", err)
			}
		}

		if p.HasTicket() {
			if err := s.checkTicket(ctx, p); err != nil {
				return err
			}
		} else {
			n, err := s.DB.CountOtherTicketless(ctx, p.EventID, p.Email, p.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return &models.ValidationError{Field: "email", Msg: "a participant without ticket already exists for this event and email"}
			}
		}

		now := s.Clock.Now()
		p.UpdatedAt = now
		var err error
		if p.ID == 0 {
			if p.CreatedAt.IsZero() {
				p.CreatedAt = now
			}
			err = s.DB.CreateParticipant(ctx, p)
		} else {
			err = s.DB.UpdateParticipant(ctx, p)
		}
		if err != nil {
			if database.IsUniqueViolation(err) {
				return &models.ValidationError{Field: "ticket", Msg: "conflicts with an existing participant"}
			}
			return err
		}

		s.Logger.LogDatabase("SAVE", "participants", fmt.Sprintf("participant %d event=%d ticket=%q", p.ID, p.EventID, p.TicketUUID))
		return nil
	})
}

func (s *ParticipantService) validateFields(p *models.Participant) error {
	if err := s.validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &models.ValidationError{Field: strings.ToLower(fe.Field()), Msg: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return err
	}
	if p.Amount.IsNegative() {
		return &models.ValidationError{Field: "amount", Msg: "must not be negative"}
	}
	return nil
}

// checkTicket enforces that a linked ticket belongs to the participant's
// event and email and is not held by another participant.
func (s *ParticipantService) checkTicket(ctx context.Context, p *models.Participant) error {
	ticket, err := s.Tickets.GetTicketByUUID(ctx, p.TicketUUID)
	if errors.Is(err, models.ErrTicketNotFound) {
		return &models.ValidationError{Field: "ticket", Msg: fmt.Sprintf("ticket %s does not exist", p.TicketUUID)}
	}
	if err != nil {
		return err
	}
	if ticket.EventID != p.EventID {
		return &models.ValidationError{Field: "ticket", Msg: "ticket belongs to another event"}
	}
	if !ticket.MatchesEmail(p.Email) {
		return &models.ValidationError{Field: "email", Msg: "email does not match the ticket's email"}
	}

	holder, err := s.DB.GetParticipantByTicket(ctx, p.TicketUUID)
	switch {
	case errors.Is(err, models.ErrParticipantNotFound):
		return nil
	case err != nil:
		return err
	case holder.ID != p.ID:
		return &models.ValidationError{Field: "ticket", Msg: fmt.Sprintf("ticket already belongs to participant %d", holder.ID)}
	}
	return nil
}

// Autolink runs the bulk link over the given participants.
func (s *ParticipantService) Autolink(ctx context.Context, ids []int64) (models.LinkReport, error) {
	report, err := s.Linker.LinkParticipants(ctx, ids)
	if err != nil {
		return models.LinkReport{}, err
	}
	s.Logger.LogLink("BULK", "-", fmt.Sprintf("linked=%d skipped=%d unmatched=%d", report.Linked, report.Skipped, report.Unmatched))
	return report, nil
}

// AutolinkAll links every participant without ticket, optionally limited to
// one event (eventID 0 means all events).
func (s *ParticipantService) AutolinkAll(ctx context.Context, eventID int64) (models.LinkReport, error) {
	ids, err := s.DB.ListUnlinkedParticipantIDs(ctx, eventID)
	if err != nil {
		return models.LinkReport{}, err
	}
	return s.Autolink(ctx, ids)
}

// Unlink clears the ticket of the given participants and reports how many
// were detached.
func (s *ParticipantService) Unlink(ctx context.Context, ids []int64) (int, error) {
	var n int
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.DB.UnlinkParticipants(ctx, ids, s.Clock.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.Logger.LogLink("UNLINK", "-", fmt.Sprintf("unlinked=%d", n))
	return n, nil
}
