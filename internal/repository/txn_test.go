package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestRunInTxCommits(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seats").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runner := NewTxRunner(db)
	err := runner.RunInTx(context.Background(), TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE seats SET status = 'LOCKED'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	runner := NewTxRunner(db)
	boom := errors.New("boom")
	err := runner.RunInTx(context.Background(), TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInternal), "unclassified errors map to internal")
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxSetsLockWait(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("SET innodb_lock_wait_timeout").
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	runner := NewTxRunner(db)
	err := runner.RunInTx(context.Background(), TxOptions{LockWait: 3 * time.Second}, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithRetryRetriesTransient(t *testing.T) {
	db, mock := newMock(t)
	// First attempt deadlocks, second succeeds.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seats").WillReturnError(&mysql.MySQLError{Number: 1213})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seats").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runner := NewTxRunner(db)
	pol := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0
	err := runner.RunWithRetry(context.Background(), TxOptions{}, pol, func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		_, err := tx.ExecContext(ctx, "UPDATE seats SET status = 'LOCKED'")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithRetryDoesNotRetryNonTransient(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	runner := NewTxRunner(db)
	pol := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	attempts := 0
	err := runner.RunWithRetry(context.Background(), TxOptions{}, pol, func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return NewSeatUnavailableError([]uint64{4})
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "conflicts are not transient")

	var seatErr *SeatUnavailableError
	assert.True(t, errors.As(err, &seatErr), "the last error is returned verbatim")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithRetryExhaustsAttempts(t *testing.T) {
	db, mock := newMock(t)
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	runner := NewTxRunner(db)
	pol := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	attempts := 0
	err := runner.RunWithRetry(context.Background(), TxOptions{}, pol, func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return &mysql.MySQLError{Number: 1205}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(100*time.Millisecond, 0.2)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, jitter(50*time.Millisecond, 0))
}
