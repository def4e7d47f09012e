package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/queue"
	"github.com/avshalomt/event-seat-booking/internal/repository"
)

var bookingCols = []string{
	"id", "booking_ref", "event_id", "user_id", "status",
	"total_amount_cents", "payment_ref", "created_at", "updated_at",
}

var seatCols = []string{
	"id", "event_id", "category_id", "label", "price_cents",
	"status", "holder_id", "lock_expires_at", "booking_id",
}

func newBookingService(t *testing.T) (*BookingService, sqlmock.Sqlmock, *recordingNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := repository.NewTxRunner(db)
	seats := repository.NewSeatRepo(db)
	reservations := repository.NewReservationRepo(db)
	expiry := repository.NewExpiryQueueRepo(db)
	categories := repository.NewCategoryRepo(db)
	events := repository.NewEventRepo(db)
	notifier := &recordingNotifier{}

	locks := NewLockService(runner, seats, reservations, expiry, NopNotifier{}, 5*time.Minute,
		repository.TxOptions{}, repository.RetryPolicy{MaxAttempts: 1})
	locks.EnableFallbackTimers(false)

	svc := NewBookingService(
		runner, seats, reservations, expiry, categories, events,
		repository.NewBookingRepo(db), repository.NewUserRepo(db),
		locks, NewAvailabilityService(nil, events, categories, time.Second),
		notifier, repository.TxOptions{}, repository.RetryPolicy{MaxAttempts: 1},
		2*time.Hour,
	)
	return svc, mock, notifier
}

func TestCommitRejectsInvalidInput(t *testing.T) {
	svc, mock, _ := newBookingService(t)
	ctx := context.Background()

	_, err := svc.Commit(ctx, CommitInput{EventID: 1, BuyerID: 77})
	assert.ErrorIs(t, err, repository.ErrValidation, "no seats requested")

	_, err = svc.Commit(ctx, CommitInput{EventID: 1, SeatIDs: []uint64{4}})
	assert.ErrorIs(t, err, repository.ErrValidation, "no buyer identity")

	_, err = svc.Commit(ctx, CommitInput{
		EventID:  1,
		BuyerID:  77,
		Sections: []SectionRequest{{CategoryID: 10, Quantity: 0}},
	})
	assert.ErrorIs(t, err, repository.ErrValidation, "non-positive quantity")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitGuestBooksExplicitSeats(t *testing.T) {
	svc, mock, notifier := newBookingService(t)
	starts := time.Now().UTC().Add(72 * time.Hour)

	mock.ExpectBegin()
	// Guest bootstrap: no account yet, one is created in-transaction.
	mock.ExpectQuery("SELECT id FROM users WHERE email").
		WithArgs("guest@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs("guest@example.com", model.RoleCustomer).
		WillReturnResult(sqlmock.NewResult(88, 1))
	mock.ExpectQuery("FROM events WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(1, "Launch Night", starts, 100, 40, false))
	mock.ExpectQuery("FROM seats").
		WithArgs(uint64(1), uint64(4), uint64(5)).
		WillReturnRows(sqlmock.NewRows(seatCols).
			AddRow(4, 1, 10, "A-4", 2500, model.SeatAvailable, nil, nil, nil).
			AddRow(5, 1, 10, "A-5", 2500, model.SeatAvailable, nil, nil, nil))
	mock.ExpectExec("INSERT INTO bookings").
		WillReturnResult(sqlmock.NewResult(55, 1))
	mock.ExpectExec("INSERT INTO booking_seats").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE seats").
		WithArgs(uint64(55), uint64(4), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	// The guest holds nothing, so there are no reservations to fold in.
	mock.ExpectQuery("FROM seat_reservations r").
		WithArgs(uint64(88), uint64(4), uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("GROUP BY category_id").
		WithArgs(uint64(4), uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"category_id", "count"}).AddRow(10, 2))
	mock.ExpectExec("UPDATE ticket_categories").
		WithArgs(2, uint64(10), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE events").
		WithArgs(2, uint64(1), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	b, err := svc.Commit(context.Background(), CommitInput{
		EventID:            1,
		GuestEmail:         "guest@example.com",
		SeatIDs:            []uint64{4, 5},
		ExpectedTotalCents: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(55), b.ID)
	assert.Equal(t, uint64(88), b.UserID)
	assert.Equal(t, model.BookingPending, b.Status)
	assert.Equal(t, uint32(5000), b.TotalAmountCents)
	assert.Equal(t, []uint64{4, 5}, b.SeatIDs)
	assert.NotEmpty(t, b.Ref)
	require.NoError(t, mock.ExpectationsWereMet())

	msgs := notifier.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "event.1", msgs[0].scope)
	assert.Equal(t, queue.EventSeatsChanged, msgs[0].event)
	changed, ok := msgs[0].payload.(queue.SeatStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, model.SeatBooked, changed.Status)
	assert.Equal(t, uint64(88), changed.HolderID)
	assert.Equal(t, []uint64{4, 5}, changed.SeatIDs)
}

func TestCommitRollsBackOnCounterDrift(t *testing.T) {
	svc, mock, notifier := newBookingService(t)
	starts := time.Now().UTC().Add(72 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM events WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(1, "Launch Night", starts, 100, 40, false))
	mock.ExpectQuery("FROM seats").
		WithArgs(uint64(1), uint64(4)).
		WillReturnRows(sqlmock.NewRows(seatCols).
			AddRow(4, 1, 10, "A-4", 2500, model.SeatAvailable, nil, nil, nil))
	mock.ExpectExec("INSERT INTO bookings").
		WillReturnResult(sqlmock.NewResult(55, 1))
	mock.ExpectExec("INSERT INTO booking_seats").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE seats").
		WithArgs(uint64(55), uint64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM seat_reservations r").
		WithArgs(uint64(77), uint64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("GROUP BY category_id").
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"category_id", "count"}).AddRow(10, 1))
	// The guarded counter update matches no row: the category's counter
	// has drifted, so the whole unit unwinds.
	mock.ExpectExec("UPDATE ticket_categories").
		WithArgs(1, uint64(10), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.Commit(context.Background(), CommitInput{
		EventID: 1,
		BuyerID: 77,
		SeatIDs: []uint64{4},
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Empty(t, notifier.all())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelForbiddenForNonOwner(t *testing.T) {
	svc, mock, notifier := newBookingService(t)
	past := time.Now().UTC().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings WHERE booking_ref").
		WithArgs("ref-abc").
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow(5, "ref-abc", 1, 99, model.BookingConfirmed, 5000, nil, past, past))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "ref-abc", 77, false)
	assert.ErrorIs(t, err, repository.ErrForbidden)
	assert.Empty(t, notifier.all())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRejectsClosedBooking(t *testing.T) {
	svc, mock, _ := newBookingService(t)
	past := time.Now().UTC().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings WHERE booking_ref").
		WithArgs("ref-abc").
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow(5, "ref-abc", 1, 77, model.BookingCancelled, 5000, nil, past, past))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "ref-abc", 77, false)
	assert.ErrorIs(t, err, repository.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBlockedInsideCutoffWindow(t *testing.T) {
	svc, mock, _ := newBookingService(t)
	past := time.Now().UTC().Add(-time.Hour)
	// Event starts in one hour, the cutoff is two.
	starts := time.Now().UTC().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings WHERE booking_ref").
		WithArgs("ref-abc").
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow(5, "ref-abc", 1, 77, model.BookingConfirmed, 5000, nil, past, past))
	mock.ExpectQuery("FROM events WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(1, "Launch Night", starts, 100, 40, false))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "ref-abc", 77, false)
	assert.ErrorIs(t, err, repository.ErrCancellationWindow)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelReleasesSeatsAndCounters(t *testing.T) {
	svc, mock, notifier := newBookingService(t)
	past := time.Now().UTC().Add(-time.Hour)
	starts := time.Now().UTC().Add(72 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings WHERE booking_ref").
		WithArgs("ref-abc").
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow(5, "ref-abc", 1, 77, model.BookingPending, 5000, nil, past, past))
	mock.ExpectQuery("FROM events WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(1, "Launch Night", starts, 100, 40, false))
	mock.ExpectExec("UPDATE bookings").
		WithArgs(model.BookingCancelled, uint64(5), model.BookingPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id FROM seats WHERE booking_id").
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(5))
	mock.ExpectExec("UPDATE seats").
		WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("GROUP BY category_id").
		WithArgs(uint64(4), uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"category_id", "count"}).AddRow(10, 2))
	mock.ExpectExec("UPDATE ticket_categories").
		WithArgs(-2, uint64(10), -2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE events").
		WithArgs(-2, uint64(1), -2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	b, err := svc.Cancel(context.Background(), "ref-abc", 77, false)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, b.Status)
	require.NoError(t, mock.ExpectationsWereMet())

	msgs := notifier.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "booking.5", msgs[0].scope)
	assert.Equal(t, queue.EventBookingCancelled, msgs[0].event)
	cancelled, ok := msgs[0].payload.(queue.BookingCancelledEvent)
	require.True(t, ok)
	assert.False(t, cancelled.Refunded)
	assert.Equal(t, []uint64{4, 5}, cancelled.SeatIDs)
	assert.Equal(t, "event.1", msgs[1].scope)
	assert.Equal(t, queue.EventSeatsChanged, msgs[1].event)
}

func TestConfirmPaymentRequiresReference(t *testing.T) {
	svc, mock, _ := newBookingService(t)

	_, err := svc.ConfirmPayment(context.Background(), "ref-abc", "")
	assert.ErrorIs(t, err, repository.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}
