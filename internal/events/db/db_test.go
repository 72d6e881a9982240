package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-attendance/internal/events/db"
	"ms-attendance/internal/models"
	"ms-attendance/internal/testutil"
)

func TestFindByNamePrefersNewestEvent(t *testing.T) {
	bunDB := testutil.NewDB(t)
	eventDB := &db.DB{Bun: bunDB}
	ctx := context.Background()

	testutil.CreateEvent(t, bunDB, "Meetup", testutil.Day(2023, 6, 1))
	newer := testutil.CreateEvent(t, bunDB, "Meetup", testutil.Day(2024, 6, 1))

	got, err := eventDB.FindByName(ctx, "Meetup")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, err = eventDB.FindByName(ctx, "meetup")
	assert.ErrorIs(t, err, models.ErrEventNotFound)
}

func TestListEventsOrdering(t *testing.T) {
	bunDB := testutil.NewDB(t)
	eventDB := &db.DB{Bun: bunDB}
	ctx := context.Background()

	testutil.CreateEvent(t, bunDB, "Zeta", testutil.Day(2024, 6, 1))
	testutil.CreateEvent(t, bunDB, "Alpha", testutil.Day(2024, 6, 1))
	testutil.CreateEvent(t, bunDB, "Spring", testutil.Day(2024, 3, 1))

	events, err := eventDB.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"Spring", "Alpha", "Zeta"}, []string{events[0].Name, events[1].Name, events[2].Name})

	available, err := eventDB.ListAvailableEvents(ctx, testutil.Day(2024, 6, 1))
	require.NoError(t, err)
	assert.Len(t, available, 2)

	today, err := eventDB.FindEventOnDate(ctx, testutil.Day(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, "Alpha", today.Name)

	_, err = eventDB.FindEventOnDate(ctx, testutil.Day(2024, 7, 1))
	assert.ErrorIs(t, err, models.ErrEventNotFound)
}

func TestEventStatsAndProtectedDelete(t *testing.T) {
	bunDB := testutil.NewDB(t)
	eventDB := &db.DB{Bun: bunDB}
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	used := testutil.CreateEvent(t, bunDB, "Used", testutil.Day(2024, 6, 1))
	empty := testutil.CreateEvent(t, bunDB, "Empty", testutil.Day(2024, 7, 1))
	testutil.CreateTicket(t, bunDB, "11111111-1111-1111-1111-111111111111", used.ID, "Ann", "ann@example.com", created)
	testutil.CreateParticipant(t, bunDB, used.ID, "Bob", "bob@example.com", "", created)

	stats, err := eventDB.ListEventStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].TicketsCount)
	assert.Equal(t, 1, stats[0].ParticipantsCount)
	assert.Zero(t, stats[1].TicketsCount)

	var intErr *models.IntegrityError
	require.ErrorAs(t, eventDB.DeleteEvent(ctx, used.ID), &intErr)
	assert.Equal(t, "event", intErr.Entity)

	require.NoError(t, eventDB.DeleteEvent(ctx, empty.ID))
	assert.ErrorIs(t, eventDB.DeleteEvent(ctx, empty.ID), models.ErrEventNotFound)
	assert.Equal(t, 1, testutil.CountRows(t, bunDB, (*models.Event)(nil)))
}
