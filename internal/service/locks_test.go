package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/queue"
	"github.com/avshalomt/event-seat-booking/internal/repository"
)

type published struct {
	scope   string
	event   string
	payload any
}

// recordingNotifier captures publishes so tests can assert on fanout
// without a broker.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []published
}

func (n *recordingNotifier) Publish(_ context.Context, scope, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, published{scope: scope, event: event, payload: payload})
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) all() []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]published(nil), n.msgs...)
}

var reservationCols = []string{
	"id", "reservation_ref", "holder_id", "event_id", "status",
	"expires_at", "created_at", "updated_at",
}

func newLockService(t *testing.T) (*LockService, sqlmock.Sqlmock, *recordingNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := repository.NewTxRunner(db)
	notifier := &recordingNotifier{}
	svc := NewLockService(
		runner,
		repository.NewSeatRepo(db),
		repository.NewReservationRepo(db),
		repository.NewExpiryQueueRepo(db),
		notifier,
		5*time.Minute,
		repository.TxOptions{},
		repository.RetryPolicy{MaxAttempts: 1},
	)
	svc.EnableFallbackTimers(false)
	return svc, mock, notifier
}

func TestReleaseExpiredReturnsSeatsAndNotifies(t *testing.T) {
	svc, mock, notifier := newLockService(t)
	past := time.Now().UTC().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(9, "ref-9", 77, 1, model.ReservationPending, past, past, past))
	mock.ExpectExec("UPDATE seat_reservations").
		WithArgs(model.ReservationExpired, uint64(9), model.ReservationPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT seat_id FROM reservation_seats").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"seat_id"}).AddRow(4).AddRow(5))
	mock.ExpectQuery("SELECT id FROM seats").
		WithArgs(uint64(4), uint64(5), uint64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(5))
	mock.ExpectExec("UPDATE seats").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM expiry_queue").
		WithArgs(uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	released, err := svc.ReleaseExpired(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, released)
	require.NoError(t, mock.ExpectationsWereMet())

	msgs := notifier.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "event.1", msgs[0].scope)
	assert.Equal(t, queue.EventSeatsChanged, msgs[0].event)
	seatMsg, ok := msgs[0].payload.(queue.SeatStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, model.SeatAvailable, seatMsg.Status)
	assert.Equal(t, "user.77", msgs[1].scope)
	assert.Equal(t, queue.EventReservationExpired, msgs[1].event)
}

func TestReleaseExpiredAlreadyClosedIsNoOp(t *testing.T) {
	svc, mock, notifier := newLockService(t)
	past := time.Now().UTC().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(9, "ref-9", 77, 1, model.ReservationExpired, past, past, past))
	mock.ExpectCommit()

	released, err := svc.ReleaseExpired(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Empty(t, notifier.all())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseExpiredMissingReservationIsNoOp(t *testing.T) {
	svc, mock, notifier := newLockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(404)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	released, err := svc.ReleaseExpired(context.Background(), 404)
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Empty(t, notifier.all())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseExpiredLeavesExtendedHoldAlone(t *testing.T) {
	svc, mock, notifier := newLockService(t)
	future := time.Now().UTC().Add(3 * time.Minute)
	past := time.Now().UTC().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(9, "ref-9", 77, 1, model.ReservationPending, future, past, past))
	mock.ExpectCommit()

	released, err := svc.ReleaseExpired(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Empty(t, notifier.all())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRejectsEmptySeatList(t *testing.T) {
	svc, mock, _ := newLockService(t)

	_, _, err := svc.Grant(context.Background(), 1, 77, nil)
	assert.ErrorIs(t, err, repository.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantSectionRejectsNonPositiveQuantity(t *testing.T) {
	svc, mock, _ := newLockService(t)

	_, _, err := svc.GrantSection(context.Background(), 1, 10, 0, 77)
	assert.ErrorIs(t, err, repository.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendWithoutHoldReturnsNotHolder(t *testing.T) {
	svc, mock, _ := newLockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM seat_reservations").
		WithArgs(uint64(77), uint64(1)).
		WillReturnRows(sqlmock.NewRows(reservationCols))
	mock.ExpectRollback()

	_, err := svc.Extend(context.Background(), 1, 77)
	assert.ErrorIs(t, err, repository.ErrNotHolder)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsValid(t *testing.T) {
	svc, mock, _ := newLockService(t)
	future := time.Now().UTC().Add(time.Minute)
	past := time.Now().UTC().Add(-time.Minute)

	mock.ExpectQuery("FROM seat_reservations WHERE id = \\?").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(9, "ref-9", 77, 1, model.ReservationPending, future, past, past))
	ok, err := svc.IsValid(context.Background(), 9, 77)
	require.NoError(t, err)
	assert.True(t, ok)

	// Wrong holder.
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\?").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(9, "ref-9", 77, 1, model.ReservationPending, future, past, past))
	ok, err = svc.IsValid(context.Background(), 9, 78)
	require.NoError(t, err)
	assert.False(t, ok)

	// Lapsed expiry still on a PENDING row.
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\?").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(9, "ref-9", 77, 1, model.ReservationPending, past, past, past))
	ok, err = svc.IsValid(context.Background(), 9, 77)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown reservation is invalid, not an error.
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\?").
		WithArgs(uint64(404)).
		WillReturnError(sql.ErrNoRows)
	ok, err = svc.IsValid(context.Background(), 404, 77)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
