package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

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

func (d *DB) GetParticipantByID(ctx context.Context, id int64) (*models.Participant, error) {
	var p models.Participant
	err := d.conn(ctx).NewSelect().
		Model(&p).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %d: %w", id, err)
	}
	return &p, nil
}

// GetParticipantByTicket → the participant holding a ticket, if any
func (d *DB) GetParticipantByTicket(ctx context.Context, ticketUUID string) (*models.Participant, error) {
	var p models.Participant
	idb := d.conn(ctx)
	err := database.ForUpdate(idb.NewSelect().
		Model(&p).
		Where("ticket_uuid = ?", ticketUUID).
		Limit(1), idb).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant of ticket %s: %w", ticketUUID, err)
	}
	return &p, nil
}

// FindTicketlessParticipant → the unique participant of (event, email) without ticket
func (d *DB) FindTicketlessParticipant(ctx context.Context, eventID int64, email string) (*models.Participant, error) {
	var p models.Participant
	idb := d.conn(ctx)
	err := database.ForUpdate(idb.NewSelect().
		Model(&p).
		Where("event_id = ?", eventID).
		Where("lower(email) = lower(?)", strings.TrimSpace(email)).
		Where("ticket_uuid IS NULL").
		Order("created_at DESC", "id DESC").
		Limit(1), idb).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticketless participant: %w", err)
	}
	return &p, nil
}

// ListUnlinkedParticipants returns the participants of (event, email) without
// ticket, newest first, locked on PostgreSQL.
func (d *DB) ListUnlinkedParticipants(ctx context.Context, eventID int64, email string) ([]models.Participant, error) {
	var participants []models.Participant
	idb := d.conn(ctx)
	err := database.ForUpdate(idb.NewSelect().
		Model(&participants).
		Where("event_id = ?", eventID).
		Where("lower(email) = lower(?)", strings.TrimSpace(email)).
		Where("ticket_uuid IS NULL").
		Order("created_at DESC", "id DESC"), idb).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unlinked participants: %w", err)
	}
	return participants, nil
}

// CountOtherTicketless counts ticket-less participants of (event, email) other than excludeID.
func (d *DB) CountOtherTicketless(ctx context.Context, eventID int64, email string, excludeID int64) (int, error) {
	q := d.conn(ctx).NewSelect().
		Model((*models.Participant)(nil)).
		Where("event_id = ?", eventID).
		Where("lower(email) = lower(?)", strings.TrimSpace(email)).
		Where("ticket_uuid IS NULL")
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count ticketless participants: %w", err)
	}
	return n, nil
}

func (d *DB) CreateParticipant(ctx context.Context, p *models.Participant) error {
	_, err := d.conn(ctx).NewInsert().Model(p).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (d *DB) UpdateParticipant(ctx context.Context, p *models.Participant) error {
	_, err := d.conn(ctx).NewUpdate().
		Model(p).
		Column("name", "email", "event_id", "ticket_uuid", "paid_at", "amount", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update participant %d: %w", p.ID, err)
	}
	return nil
}

// SetTicketIfUnlinked fills the ticket reference only while it is still
// empty. It reports whether this call made the link.
func (d *DB) SetTicketIfUnlinked(ctx context.Context, participantID int64, ticketUUID string, now time.Time) (bool, error) {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Participant)(nil)).
		Set("ticket_uuid = ?", ticketUUID).
		Set("updated_at = ?", now).
		Where("id = ?", participantID).
		Where("ticket_uuid IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("link participant %d to ticket %s: %w", participantID, ticketUUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListParticipantsByEmail → every participant of one email (case-insensitive)
func (d *DB) ListParticipantsByEmail(ctx context.Context, email string) ([]models.Participant, error) {
	var participants []models.Participant
	err := d.conn(ctx).NewSelect().
		Model(&participants).
		Where("lower(email) = lower(?)", strings.TrimSpace(email)).
		Order("event_id ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants for %s: %w", email, err)
	}
	return participants, nil
}

func (d *DB) ListParticipantsByIDs(ctx context.Context, ids []int64) ([]models.Participant, error) {
	var participants []models.Participant
	if len(ids) == 0 {
		return participants, nil
	}
	err := d.conn(ctx).NewSelect().
		Model(&participants).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants by id: %w", err)
	}
	return participants, nil
}

// ListUnlinkedParticipantIDs → ids of participants without ticket, optionally for one event
func (d *DB) ListUnlinkedParticipantIDs(ctx context.Context, eventID int64) ([]int64, error) {
	var ids []int64
	q := d.conn(ctx).NewSelect().
		Column("id").
		Table("participants").
		Where("ticket_uuid IS NULL")
	if eventID > 0 {
		q = q.Where("event_id = ?", eventID)
	}
	if err := q.Order("id ASC").Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("list unlinked participants: %w", err)
	}
	return ids, nil
}

// UnlinkParticipants clears the ticket of the given participants and returns how many had one.
func (d *DB) UnlinkParticipants(ctx context.Context, ids []int64, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Participant)(nil)).
		Set("ticket_uuid = NULL").
		Set("updated_at = ?", now).
		Where("id IN (?)", bun.In(ids)).
		Where("ticket_uuid IS NOT NULL").
		Exec(ctx)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, &models.ValidationError{Field: "ticket", Msg: "unlinking would create a second ticket-less participant for the same event and email"}
		}
		return 0, fmt.Errorf("unlink participants: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
