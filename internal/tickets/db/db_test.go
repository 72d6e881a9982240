package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-attendance/internal/models"
	"ms-attendance/internal/testutil"
	"ms-attendance/internal/tickets/db"
)

const (
	uuidA = "aaaaaaaa-0000-0000-0000-000000000001"
	uuidB = "bbbbbbbb-0000-0000-0000-000000000002"
	uuidC = "cccccccc-0000-0000-0000-000000000003"
)

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB, *models.Event) {
	bunDB := testutil.NewDB(t)
	event := testutil.CreateEvent(t, bunDB, "Summer Meetup", testutil.Day(2024, 6, 1))
	return &db.DB{Bun: bunDB}, bunDB, event
}

func markPaid(t *testing.T, bunDB *bun.DB, id int64) {
	t.Helper()
	paid := testutil.Day(2024, 6, 1)
	_, err := bunDB.NewUpdate().
		Model((*models.Participant)(nil)).
		Set("paid_at = ?", paid).
		Where("id = ?", id).
		Exec(context.Background())
	require.NoError(t, err)
}

func TestCreateAndGetTicket(t *testing.T) {
	ticketDB, _, event := setupTestDB(t)
	ctx := context.Background()

	ticket := &models.Ticket{
		TicketUUID: uuidA,
		Name:       "Ann",
		Email:      "ann@example.com",
		Comment:    "vegan",
		EventID:    event.ID,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	require.NoError(t, ticketDB.CreateTicket(ctx, ticket))

	got, err := ticketDB.GetTicketByUUID(ctx, uuidA)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, "vegan", got.Comment)
	require.NotNil(t, got.Event)
	assert.Equal(t, "Summer Meetup", got.Event.Name)

	_, err = ticketDB.GetTicketByUUID(ctx, uuidB)
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
	_, err = ticketDB.GetTicketForUpdate(ctx, uuidB)
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
}

func TestUpdateTicket(t *testing.T) {
	ticketDB, bunDB, event := setupTestDB(t)
	ctx := context.Background()
	other := testutil.CreateEvent(t, bunDB, "Autumn Meetup", testutil.Day(2024, 9, 1))
	testutil.CreateTicket(t, bunDB, uuidA, event.ID, "Ann", "ann@example.com", created)

	ticket, err := ticketDB.GetTicketForUpdate(ctx, uuidA)
	require.NoError(t, err)
	ticket.Name = "Ann Smith"
	ticket.EventID = other.ID
	ticket.UpdatedAt = created.Add(time.Hour)
	require.NoError(t, ticketDB.UpdateTicket(ctx, ticket))

	got, err := ticketDB.GetTicketByUUID(ctx, uuidA)
	require.NoError(t, err)
	assert.Equal(t, "Ann Smith", got.Name)
	assert.Equal(t, other.ID, got.EventID)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestDeleteTicketDetachesParticipant(t *testing.T) {
	ticketDB, bunDB, event := setupTestDB(t)
	ctx := context.Background()
	testutil.CreateTicket(t, bunDB, uuidA, event.ID, "Ann", "ann@example.com", created)
	p := testutil.CreateParticipant(t, bunDB, event.ID, "Ann", "ann@example.com", uuidA, created)

	deleted, err := ticketDB.DeleteTicket(ctx, uuidA)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Empty(t, testutil.GetParticipant(t, bunDB, p.ID).TicketUUID)

	deleted, err = ticketDB.DeleteTicket(ctx, uuidA)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteTicketBlockedByTicketlessTwin(t *testing.T) {
	ticketDB, bunDB, event := setupTestDB(t)
	ctx := context.Background()
	testutil.CreateTicket(t, bunDB, uuidA, event.ID, "Ann", "ann@example.com", created)
	holder := testutil.CreateParticipant(t, bunDB, event.ID, "Ann", "ann@example.com", uuidA, created)
	testutil.CreateParticipant(t, bunDB, event.ID, "Ann", "ANN@example.com", "", created)

	deleted, err := ticketDB.DeleteTicket(ctx, uuidA)
	assert.False(t, deleted)
	var intErr *models.IntegrityError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "ticket", intErr.Entity)
	assert.Equal(t, uuidA, intErr.Key)
	assert.NotContains(t, intErr.Error(), "UNIQUE constraint")

	assert.Equal(t, uuidA, testutil.GetParticipant(t, bunDB, holder.ID).TicketUUID)
	_, err = ticketDB.GetTicketByUUID(ctx, uuidA)
	assert.NoError(t, err)
}

func TestListUnclaimedTickets(t *testing.T) {
	ticketDB, bunDB, event := setupTestDB(t)
	ctx := context.Background()
	testutil.CreateTicket(t, bunDB, uuidA, event.ID, "Ann", "ann@example.com", created)
	testutil.CreateTicket(t, bunDB, uuidB, event.ID, "Ann", "Ann@Example.com", created.Add(time.Hour))
	testutil.CreateTicket(t, bunDB, uuidC, event.ID, "Ann", "ann@example.com", created.Add(2*time.Hour))
	testutil.CreateParticipant(t, bunDB, event.ID, "Ann", "ann@example.com", uuidC, created)

	tickets, err := ticketDB.ListUnclaimedTickets(ctx, event.ID, " ANN@example.com ")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, uuidB, tickets[0].TicketUUID, "newest first")
	assert.Equal(t, uuidA, tickets[1].TicketUUID)

	claimed, err := ticketDB.IsTicketClaimed(ctx, uuidC)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestListTickets(t *testing.T) {
	ticketDB, bunDB, event := setupTestDB(t)
	ctx := context.Background()
	other := testutil.CreateEvent(t, bunDB, "Autumn Meetup", testutil.Day(2024, 9, 1))

	testutil.CreateTicket(t, bunDB, uuidA, event.ID, "Anna", "anna@example.com", created)
	testutil.CreateTicket(t, bunDB, uuidB, event.ID, "Bert", "bert@example.com", created)
	testutil.CreateTicket(t, bunDB, uuidC, other.ID, "Carl", "carl@example.com", created)
	p := testutil.CreateParticipant(t, bunDB, event.ID, "Anna", "anna@example.com", uuidA, created)
	markPaid(t, bunDB, p.ID)

	items, total, err := ticketDB.ListTickets(ctx, models.TicketFilter{EventID: event.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, "Bert", items[0].Name, "unpaid tickets first")
	assert.False(t, items[0].IsPaid)
	assert.True(t, items[1].IsPaid)

	items, total, err = ticketDB.ListTickets(ctx, models.TicketFilter{Query: "CARL"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, uuidC, items[0].TicketUUID)

	items, total, err = ticketDB.ListTickets(ctx, models.TicketFilter{Query: "bbbbbbbb"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Bert", items[0].Name)

	items, total, err = ticketDB.ListTickets(ctx, models.TicketFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 1)
}
