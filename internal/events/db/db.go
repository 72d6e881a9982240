package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
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

// FindByName returns the newest event with exactly this name.
func (d *DB) FindByName(ctx context.Context, name string) (*models.Event, error) {
	var event models.Event
	err := d.conn(ctx).NewSelect().
		Model(&event).
		Where("name = ?", name).
		Order("date DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event by name: %w", err)
	}
	return &event, nil
}

func (d *DB) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	var event models.Event
	err := d.conn(ctx).NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return &event, nil
}

func (d *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	_, err := d.conn(ctx).NewInsert().Model(event).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create event %q: %w", event.Name, err)
	}
	return nil
}

// ListEvents → every event ordered by (date, name)
func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.conn(ctx).NewSelect().
		Model(&events).
		Order("date ASC", "name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// ListAvailableEvents → events from the given day on
func (d *DB) ListAvailableEvents(ctx context.Context, from time.Time) ([]models.Event, error) {
	var events []models.Event
	err := d.conn(ctx).NewSelect().
		Model(&events).
		Where("date >= ?", from).
		Order("date ASC", "name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available events: %w", err)
	}
	return events, nil
}

// FindEventOnDate returns the first event (by name) held on the given day.
func (d *DB) FindEventOnDate(ctx context.Context, day time.Time) (*models.Event, error) {
	var event models.Event
	err := d.conn(ctx).NewSelect().
		Model(&event).
		Where("date = ?", day).
		Order("name ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event on %s: %w", day.Format("2006-01-02"), err)
	}
	return &event, nil
}

func (d *DB) ListEventStats(ctx context.Context) ([]models.EventStats, error) {
	events, err := d.ListEvents(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]models.EventStats, len(events))
	for i, e := range events {
		tickets, participants, err := d.countReferences(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		stats[i] = models.EventStats{Event: e, TicketsCount: tickets, ParticipantsCount: participants}
	}
	return stats, nil
}

// DeleteEvent refuses to delete events that tickets or participants still point to.
func (d *DB) DeleteEvent(ctx context.Context, id int64) error {
	return database.WithTx(ctx, d.Bun, func(ctx context.Context) error {
		if _, err := d.GetEventByID(ctx, id); err != nil {
			return err
		}

		tickets, participants, err := d.countReferences(ctx, id)
		if err != nil {
			return err
		}
		if tickets > 0 || participants > 0 {
			return &models.IntegrityError{
				Entity: "event",
				Key:    strconv.FormatInt(id, 10),
				Err:    fmt.Errorf("%d ticket(s) and %d participant(s) reference it", tickets, participants),
			}
		}

		_, err = d.conn(ctx).NewDelete().
			Model((*models.Event)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if database.IsForeignKeyViolation(err) {
			return &models.IntegrityError{Entity: "event", Key: strconv.FormatInt(id, 10), Err: err}
		}
		return err
	})
}

func (d *DB) countReferences(ctx context.Context, eventID int64) (int, int, error) {
	tickets, err := d.conn(ctx).NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count tickets of event %d: %w", eventID, err)
	}

	participants, err := d.conn(ctx).NewSelect().
		Model((*models.Participant)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count participants of event %d: %w", eventID, err)
	}
	return tickets, participants, nil
}
