package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-attendance/internal/database"
	"ms-attendance/internal/models"
)

// NewDB opens a private in-memory SQLite database with the attendance schema.
// A single connection keeps every query on the same in-memory database.
func NewDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func CreateEvent(t *testing.T, db *bun.DB, name string, date time.Time) *models.Event {
	t.Helper()
	event := &models.Event{Name: name, Date: date}
	_, err := db.NewInsert().Model(event).Exec(context.Background())
	require.NoError(t, err)
	return event
}

func CreateTicket(t *testing.T, db *bun.DB, ticketUUID string, eventID int64, name, email string, createdAt time.Time) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		TicketUUID: ticketUUID,
		Name:       name,
		Email:      email,
		EventID:    eventID,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	_, err := db.NewInsert().Model(ticket).Exec(context.Background())
	require.NoError(t, err)
	return ticket
}

// CreateParticipant inserts a row as-is, bypassing the autolink save path.
func CreateParticipant(t *testing.T, db *bun.DB, eventID int64, name, email, ticketUUID string, createdAt time.Time) *models.Participant {
	t.Helper()
	p := &models.Participant{
		Name:       name,
		Email:      email,
		EventID:    eventID,
		TicketUUID: ticketUUID,
		Amount:     decimal.Zero,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	_, err := db.NewInsert().Model(p).Exec(context.Background())
	require.NoError(t, err)
	return p
}

func GetParticipant(t *testing.T, db *bun.DB, id int64) *models.Participant {
	t.Helper()
	var p models.Participant
	require.NoError(t, db.NewSelect().Model(&p).Where("id = ?", id).Scan(context.Background()))
	return &p
}

func CountRows(t *testing.T, db *bun.DB, model interface{}) int {
	t.Helper()
	n, err := db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

// AssertTicketlessUnique fails when two ticket-less participants share an (event, email) pair.
func AssertTicketlessUnique(t *testing.T, db *bun.DB) {
	t.Helper()
	var dupes []struct {
		EventID int64  `bun:"event_id"`
		Email   string `bun:"email"`
		N       int    `bun:"n"`
	}
	err := db.NewSelect().
		ColumnExpr("event_id, lower(email) AS email, count(*) AS n").
		Table("participants").
		Where("ticket_uuid IS NULL").
		GroupExpr("event_id, lower(email)").
		Having("count(*) > 1").
		Scan(context.Background(), &dupes)
	require.NoError(t, err)
	require.Empty(t, dupes, "ticket-less participants must be unique per (event, email)")
}
