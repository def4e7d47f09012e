package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/repository"
)

func newSweeper(t *testing.T, batch int) (*Sweeper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	expiry := repository.NewExpiryQueueRepo(db)
	locks := NewLockService(
		repository.NewTxRunner(db),
		repository.NewSeatRepo(db),
		repository.NewReservationRepo(db),
		expiry,
		NopNotifier{},
		5*time.Minute,
		repository.TxOptions{},
		repository.RetryPolicy{MaxAttempts: 1},
	)
	locks.EnableFallbackTimers(false)
	return NewSweeper(locks, expiry, time.Minute, batch), mock
}

func TestSweepOnceCountsOnlyActualReleases(t *testing.T) {
	sweeper, mock := newSweeper(t, 50)
	past := time.Now().UTC().Add(-time.Minute)

	mock.ExpectQuery("FROM expiry_queue q").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "holder_id", "expires_at"}).
			AddRow(1, 9, 77, past).
			AddRow(2, 10, 88, past))

	// Reservation 9 is still pending and gets swept.
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
		WillReturnRows(sqlmock.NewRows([]string{"seat_id"}).AddRow(4))
	mock.ExpectQuery("SELECT id FROM seats").
		WithArgs(uint64(4), uint64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectExec("UPDATE seats").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM expiry_queue").
		WithArgs(uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Reservation 10 was expired by its fallback timer between the scan
	// and the sweep; the pass skips it.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM seat_reservations WHERE id = \\? FOR UPDATE").
		WithArgs(uint64(10)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(10, "ref-10", 88, 1, model.ReservationExpired, past, past, past))
	mock.ExpectCommit()

	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepOnceEmptyQueue(t *testing.T) {
	sweeper, mock := newSweeper(t, 25)

	mock.ExpectQuery("FROM expiry_queue q").
		WithArgs(25).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "holder_id", "expires_at"}))

	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
