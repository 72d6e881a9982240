package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"ms-attendance/internal/database"
	"ms-attendance/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, d.Bun)
}

func (d *DB) GetTicketByUUID(ctx context.Context, ticketUUID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.conn(ctx).NewSelect().
		Model(&ticket).
		Relation("Event").
		Where("ticket.ticket_uuid = ?", ticketUUID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", ticketUUID, err)
	}
	return &ticket, nil
}

// GetTicketForUpdate loads the bare ticket row and locks it for the rest of the transaction.
func (d *DB) GetTicketForUpdate(ctx context.Context, ticketUUID string) (*models.Ticket, error) {
	var ticket models.Ticket
	idb := d.conn(ctx)
	err := database.ForUpdate(idb.NewSelect().
		Model(&ticket).
		Where("ticket_uuid = ?", ticketUUID).
		Limit(1), idb).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock ticket %s: %w", ticketUUID, err)
	}
	return &ticket, nil
}

func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	_, err := d.conn(ctx).NewInsert().Model(ticket).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create ticket %s: %w", ticket.TicketUUID, err)
	}
	return nil
}

// UpdateTicket → overwrite the imported fields
func (d *DB) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	_, err := d.conn(ctx).NewUpdate().
		Model(ticket).
		Column("name", "email", "comment", "event_id", "updated_at").
		Where("ticket_uuid = ?", ticket.TicketUUID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", ticket.TicketUUID, err)
	}
	return nil
}

var errTicketlessTwin = errors.New("its participant has a ticket-less twin for the same event and email")

// DeleteTicket removes a ticket and detaches the participant that pointed at
// it. It reports whether a row existed.
func (d *DB) DeleteTicket(ctx context.Context, ticketUUID string) (bool, error) {
	deleted := false
	err := database.WithTx(ctx, d.Bun, func(ctx context.Context) error {
		idb := d.conn(ctx)

		if _, err := idb.NewUpdate().
			Model((*models.Participant)(nil)).
			Set("ticket_uuid = NULL").
			Where("ticket_uuid = ?", ticketUUID).
			Exec(ctx); err != nil {
			// the holder would become a second ticket-less participant for its (event, email)
			if database.IsUniqueViolation(err) {
				return &models.IntegrityError{Entity: "ticket", Key: ticketUUID, Err: errTicketlessTwin}
			}
			return fmt.Errorf("detach participant from ticket %s: %w", ticketUUID, err)
		}

		res, err := idb.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("ticket_uuid = ?", ticketUUID).
			Exec(ctx)
		if err != nil {
			if database.IsForeignKeyViolation(err) {
				return &models.IntegrityError{Entity: "ticket", Key: ticketUUID, Err: err}
			}
			return fmt.Errorf("delete ticket %s: %w", ticketUUID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// ListTicketsByEmail → tickets of one email (case-insensitive) ordered by event date, event name, newest first
func (d *DB) ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.conn(ctx).NewSelect().
		Model(&tickets).
		Relation("Event").
		Where("lower(ticket.email) = lower(?)", strings.TrimSpace(email)).
		OrderExpr(`"event"."date" ASC, "event"."name" ASC, "ticket"."created_at" DESC`).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for %s: %w", email, err)
	}
	return tickets, nil
}

// ListUnclaimedTickets returns the tickets of (event, email) that no
// participant points to yet, newest first, locked on PostgreSQL.
func (d *DB) ListUnclaimedTickets(ctx context.Context, eventID int64, email string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	idb := d.conn(ctx)
	err := database.ForUpdate(idb.NewSelect().
		Model(&tickets).
		Where("event_id = ?", eventID).
		Where("lower(email) = lower(?)", strings.TrimSpace(email)).
		Where("NOT EXISTS (SELECT 1 FROM participants AS p WHERE p.ticket_uuid = ticket.ticket_uuid)").
		Order("created_at DESC", "ticket_uuid DESC"), idb).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unclaimed tickets: %w", err)
	}
	return tickets, nil
}

func (d *DB) IsTicketClaimed(ctx context.Context, ticketUUID string) (bool, error) {
	exists, err := d.conn(ctx).NewSelect().
		Model((*models.Participant)(nil)).
		Where("ticket_uuid = ?", ticketUUID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check claim of ticket %s: %w", ticketUUID, err)
	}
	return exists, nil
}

// ListTickets → filtered, paginated ticket list; unpaid tickets first, then by name
func (d *DB) ListTickets(ctx context.Context, filter models.TicketFilter) ([]models.TicketListItem, int, error) {
	if filter.PerPage <= 0 {
		filter.PerPage = 10
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	var tickets []models.Ticket
	q := d.conn(ctx).NewSelect().
		Model(&tickets).
		Relation("Event")

	if filter.EventID > 0 {
		q = q.Where("ticket.event_id = ?", filter.EventID)
	}
	if search := strings.TrimSpace(filter.Query); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("lower(ticket.name) LIKE ?", pattern).
				WhereOr("lower(ticket.email) LIKE ?", pattern).
				WhereOr("lower(CAST(ticket.ticket_uuid AS TEXT)) LIKE ?", pattern)
		})
	}

	total, err := q.
		OrderExpr(paidExpr + " ASC").
		OrderExpr("ticket.name ASC").
		Limit(filter.PerPage).
		Offset((filter.Page - 1) * filter.PerPage).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}

	paid, err := d.paidTicketSet(ctx, tickets)
	if err != nil {
		return nil, 0, err
	}

	items := make([]models.TicketListItem, len(tickets))
	for i, t := range tickets {
		items[i] = models.TicketListItem{Ticket: t, IsPaid: paid[t.TicketUUID]}
	}
	return items, total, nil
}

const paidExpr = "EXISTS (SELECT 1 FROM participants AS p WHERE p.ticket_uuid = ticket.ticket_uuid AND p.paid_at IS NOT NULL)"

func (d *DB) paidTicketSet(ctx context.Context, tickets []models.Ticket) (map[string]bool, error) {
	paid := make(map[string]bool)
	if len(tickets) == 0 {
		return paid, nil
	}

	uuids := make([]string, len(tickets))
	for i, t := range tickets {
		uuids[i] = t.TicketUUID
	}

	var paidUUIDs []string
	err := d.conn(ctx).NewSelect().
		Column("ticket_uuid").
		Table("participants").
		Where("ticket_uuid IN (?)", bun.In(uuids)).
		Where("paid_at IS NOT NULL").
		Scan(ctx, &paidUUIDs)
	if err != nil {
		return nil, fmt.Errorf("load paid tickets: %w", err)
	}
	for _, u := range paidUUIDs {
		paid[u] = true
	}
	return paid, nil
}
