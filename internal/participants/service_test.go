package participants_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-attendance/internal/autolink"
	"ms-attendance/internal/clock"
	"ms-attendance/internal/database"
	eventdb "ms-attendance/internal/events/db"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/participants"
	participantdb "ms-attendance/internal/participants/db"
	"ms-attendance/internal/testutil"
	ticketdb "ms-attendance/internal/tickets/db"
)

const (
	uuidA = "aaaaaaaa-0000-4000-8000-000000000001"
	uuidB = "bbbbbbbb-0000-4000-8000-000000000002"
)

var now = time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*participants.ParticipantService, *bun.DB) {
	db := testutil.NewDB(t)
	clk := clock.NewFixed(now)
	tx := &database.Transactor{Bun: db}
	pdb := &participantdb.DB{Bun: db}
	tdb := &ticketdb.DB{Bun: db}
	linker := autolink.NewLinker(tdb, pdb, tx, clk, logger.NewNop())
	svc := participants.NewParticipantService(pdb, tdb, &eventdb.DB{Bun: db}, linker, tx, clk, logger.NewNop())
	return svc, db
}

func TestCreateTicketlessParticipant(t *testing.T) {
	svc, db := newService(t)
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))

	p, err := svc.Create(context.Background(), participants.CreateRequest{
		Name:    "  Ann ",
		Email:   "a@x.com",
		EventID: event.ID,
		Paid:    true,
	})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, "Ann", p.Name)
	assert.False(t, p.HasTicket())
	require.NotNil(t, p.PaidAt)
	assert.Equal(t, testutil.Day(2024, 6, 1), *p.PaidAt)
}

func TestCreateAutolinksNewestUnclaimedTicket(t *testing.T) {
	svc, db := newService(t)
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))
	testutil.CreateTicket(t, db, uuidA, event.ID, "Ann", "a@x.com", now.Add(-2*time.Hour))
	testutil.CreateTicket(t, db, uuidB, event.ID, "Ann", "A@X.COM", now.Add(-time.Hour))

	p, err := svc.Create(context.Background(), participants.CreateRequest{Email: "a@x.com", EventID: event.ID})
	require.NoError(t, err)
	assert.Equal(t, uuidB, p.TicketUUID)
	assert.Equal(t, uuidB, testutil.GetParticipant(t, db, p.ID).TicketUUID)
}

func TestSecondTicketlessParticipantIsRejected(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))

	_, err := svc.Create(ctx, participants.CreateRequest{Email: "a@x.com", EventID: event.ID})
	require.NoError(t, err)

	_, err = svc.Create(ctx, participants.CreateRequest{Email: "A@x.com", EventID: event.ID})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "email", vErr.Field)

	testutil.AssertTicketlessUnique(t, db)
}

func TestSaveRejectsTicketMismatch(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	summer := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))
	winter := testutil.CreateEvent(t, db, "Winter Fest", testutil.Day(2024, 12, 1))
	testutil.CreateTicket(t, db, uuidA, summer.ID, "Ann", "a@x.com", now)

	tests := []struct {
		name  string
		req   participants.CreateRequest
		field string
	}{
		{"other event", participants.CreateRequest{Email: "a@x.com", EventID: winter.ID, TicketUUID: uuidA}, "ticket"},
		{"other email", participants.CreateRequest{Email: "b@x.com", EventID: summer.ID, TicketUUID: uuidA}, "email"},
		{"unknown ticket", participants.CreateRequest{Email: "a@x.com", EventID: summer.ID, TicketUUID: uuidB}, "ticket"},
		{"unknown event", participants.CreateRequest{Email: "a@x.com", EventID: 999}, "event"},
		{"bad email", participants.CreateRequest{Email: "not-an-email", EventID: summer.ID}, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			var vErr *models.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
	assert.Equal(t, 0, testutil.CountRows(t, db, (*models.Participant)(nil)))
}

func TestSaveRejectsNegativeAmount(t *testing.T) {
	svc, db := newService(t)
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))
	amount := decimal.NewFromInt(-1)

	_, err := svc.Create(context.Background(), participants.CreateRequest{Email: "a@x.com", EventID: event.ID, Amount: &amount})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "amount", vErr.Field)
}

func TestSaveRejectsClaimedTicket(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))
	testutil.CreateTicket(t, db, uuidA, event.ID, "Ann", "a@x.com", now)
	testutil.CreateParticipant(t, db, event.ID, "Ann", "a@x.com", uuidA, now)

	_, err := svc.Create(ctx, participants.CreateRequest{Email: "a@x.com", EventID: event.ID, TicketUUID: uuidA})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "ticket", vErr.Field)
}

func TestAutolinkAllIsIdempotent(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))
	ann := testutil.CreateParticipant(t, db, event.ID, "Ann", "a@x.com", "", now)
	testutil.CreateParticipant(t, db, event.ID, "Bob", "b@x.com", "", now)
	testutil.CreateTicket(t, db, uuidA, event.ID, "Ann", "a@x.com", now)

	report, err := svc.AutolinkAll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Linked)
	assert.Equal(t, uuidA, testutil.GetParticipant(t, db, ann.ID).TicketUUID)

	report, err = svc.AutolinkAll(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Linked)
}

func TestUnlink(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))
	testutil.CreateTicket(t, db, uuidA, event.ID, "Ann", "a@x.com", now)
	linked := testutil.CreateParticipant(t, db, event.ID, "Ann", "a@x.com", uuidA, now)
	plain := testutil.CreateParticipant(t, db, event.ID, "Bob", "b@x.com", "", now)

	n, err := svc.Unlink(ctx, []int64{linked.ID, plain.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, testutil.GetParticipant(t, db, linked.ID).TicketUUID)
}

func TestUnlinkRefusesDuplicateTicketless(t *testing.T) {
	svc, db := newService(t)
	event := testutil.CreateEvent(t, db, "Summer Fest", testutil.Day(2024, 6, 1))
	testutil.CreateTicket(t, db, uuidA, event.ID, "Ann", "a@x.com", now)
	linked := testutil.CreateParticipant(t, db, event.ID, "Ann", "a@x.com", uuidA, now)
	testutil.CreateParticipant(t, db, event.ID, "Ann", "a@x.com", "", now)

	_, err := svc.Unlink(context.Background(), []int64{linked.ID})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, uuidA, testutil.GetParticipant(t, db, linked.ID).TicketUUID)
	testutil.AssertTicketlessUnique(t, db)
}
