package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-attendance/internal/clock"
	"ms-attendance/internal/lock"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
)

// LockKey guards the import so only one runs at a time across instances.
const LockKey = "import:tickets"

type TicketStore interface {
	GetTicketForUpdate(ctx context.Context, ticketUUID string) (*models.Ticket, error)
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	UpdateTicket(ctx context.Context, ticket *models.Ticket) error
	DeleteTicket(ctx context.Context, ticketUUID string) (bool, error)
	IsTicketClaimed(ctx context.Context, ticketUUID string) (bool, error)
}

type EventStore interface {
	FindByName(ctx context.Context, name string) (*models.Event, error)
	CreateEvent(ctx context.Context, event *models.Event) error
}

type TicketLinker interface {
	LinkTicket(ctx context.Context, ticket *models.Ticket) (bool, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, payload any) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	Tickets   TicketStore
	Events    EventStore
	Linker    TicketLinker
	Tx        Transactor
	Locker    lock.Locker
	Clock     clock.Clock
	Logger    *logger.Logger
	LockTTL   time.Duration
	Publisher Publisher // optional
	Topic     string
	parser    *Parser
}

func NewService(tickets TicketStore, events EventStore, linker TicketLinker, tx Transactor, locker lock.Locker, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		Tickets: tickets,
		Events:  events,
		Linker:  linker,
		Tx:      tx,
		Locker:  locker,
		Clock:   clk,
		Logger:  log,
		LockTTL: 2 * time.Minute,
		parser:  NewParser(),
	}
}

// WithPublisher enables the import-completed notification.
func (s *Service) WithPublisher(p Publisher, topic string) *Service {
	s.Publisher = p
	s.Topic = topic
	return s
}

// Import parses r and applies every row in one transaction. All failures are
// returned as *models.ImportError and leave the database untouched.
func (s *Service) Import(ctx context.Context, r io.Reader, source string) (models.ImportResult, error) {
	importID := uuid.NewString()
	start := time.Now()

	release, err := s.Locker.Acquire(ctx, LockKey, s.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.Logger.LogImport(importID, "rejected: another import is running")
			return models.ImportResult{}, &models.ImportError{Err: models.ErrImportInProgress}
		}
		return models.ImportResult{}, &models.ImportError{Err: err}
	}
	defer release()

	s.Logger.LogImport(importID, fmt.Sprintf("started from %s", source))

	rows, err := s.parser.Parse(r)
	if err != nil {
		return models.ImportResult{}, s.fail(importID, err)
	}

	var result models.ImportResult
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		events := make(map[string]*models.Event)
		for _, row := range rows {
			if err := s.apply(ctx, row, events, &result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.ImportResult{}, s.fail(importID, err)
	}

	s.Logger.LogImport(importID, fmt.Sprintf("finished in %s: created=%d updated=%d deleted=%d skipped=%d",
		time.Since(start).Round(time.Millisecond), result.Created, result.Updated, result.Deleted, result.Skipped))
	s.publish(ctx, importID, source, result)
	return result, nil
}

func (s *Service) fail(importID string, err error) error {
	importErr := &models.ImportError{Err: err}
	if importErr.Unexpected() {
		s.Logger.Error("IMPORT", fmt.Sprintf("[%s] unexpected failure: %v", importID, err))
	} else {
		s.Logger.LogImport(importID, "rejected: "+err.Error())
	}
	return importErr
}

func (s *Service) apply(ctx context.Context, row Row, events map[string]*models.Event, result *models.ImportResult) error {
	if row.Status == StatusCanceled {
		deleted, err := s.Tickets.DeleteTicket(ctx, row.UUID)
		if err != nil {
			var intErr *models.IntegrityError
			if errors.As(err, &intErr) {
				intErr.Line = row.Line
			}
			return err
		}
		if deleted {
			result.Deleted++
		} else {
			result.Skipped++
		}
		return nil
	}

	event, err := s.resolveEvent(ctx, row.EventName, events)
	if err != nil {
		return err
	}

	now := s.Clock.Now()
	ticket, err := s.Tickets.GetTicketForUpdate(ctx, row.UUID)
	switch {
	case errors.Is(err, models.ErrTicketNotFound):
		ticket = &models.Ticket{TicketUUID: row.UUID, CreatedAt: now}
		fill(ticket, row, event, now)
		if err := s.Tickets.CreateTicket(ctx, ticket); err != nil {
			return err
		}
		result.Created++
	case err != nil:
		return err
	default:
		oldEmail, oldEventID := ticket.Email, ticket.EventID
		fill(ticket, row, event, now)
		if err := s.Tickets.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		if oldEventID != ticket.EventID || !strings.EqualFold(oldEmail, ticket.Email) {
			if err := s.warnIfClaimed(ctx, ticket, oldEmail, oldEventID, row.Line); err != nil {
				return err
			}
		}
		result.Updated++
	}

	if _, err := s.Linker.LinkTicket(ctx, ticket); err != nil {
		return fmt.Errorf("line %d: autolink ticket %s: %w", row.Line, ticket.TicketUUID, err)
	}
	return nil
}

// warnIfClaimed flags re-imports that move a claimed ticket to another event
// or holder. The participant keeps its ticket; staff has to review it.
func (s *Service) warnIfClaimed(ctx context.Context, ticket *models.Ticket, oldEmail string, oldEventID int64, line int) error {
	claimed, err := s.Tickets.IsTicketClaimed(ctx, ticket.TicketUUID)
	if err != nil {
		return fmt.Errorf("line %d: %w", line, err)
	}
	if claimed {
		s.Logger.Warn("IMPORT", fmt.Sprintf("line %d: claimed ticket %s changed from event %d / %s to event %d / %s",
			line, ticket.TicketUUID, oldEventID, oldEmail, ticket.EventID, ticket.Email))
	}
	return nil
}

func fill(ticket *models.Ticket, row Row, event *models.Event, now time.Time) {
	ticket.Name = row.Name
	ticket.Email = row.Email
	ticket.Comment = row.Comment
	ticket.EventID = event.ID
	ticket.UpdatedAt = now
}

// resolveEvent finds the newest event with this exact name or creates one
// dated today. Results are cached for the rest of the import.
func (s *Service) resolveEvent(ctx context.Context, name string, cache map[string]*models.Event) (*models.Event, error) {
	if event, ok := cache[name]; ok {
		return event, nil
	}

	event, err := s.Events.FindByName(ctx, name)
	if errors.Is(err, models.ErrEventNotFound) {
		event = &models.Event{Name: name, Date: clock.Today(s.Clock)}
		if err := s.Events.CreateEvent(ctx, event); err != nil {
			return nil, err
		}
		s.Logger.LogDatabase("CREATE", "events", fmt.Sprintf("created event %q", name))
	} else if err != nil {
		return nil, err
	}

	cache[name] = event
	return event, nil
}

func (s *Service) publish(ctx context.Context, importID, source string, result models.ImportResult) {
	if s.Publisher == nil {
		return
	}
	evt := models.ImportCompletedEvent{
		ImportID:   importID,
		Source:     source,
		Result:     result,
		FinishedAt: s.Clock.Now(),
	}
	if err := s.Publisher.PublishJSON(ctx, s.Topic, importID, evt); err != nil {
		s.Logger.Warn("IMPORT", fmt.Sprintf("[%s] committed but notification failed: %v", importID, err))
	}
}
