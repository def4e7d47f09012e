package repository

import (
	"context"
	"database/sql"
	"math/rand"
	"time"
)

// TxOptions controls a single transactional unit of work.
//
// LockWait bounds how long statements inside the transaction may wait to
// acquire row locks (mapped to innodb_lock_wait_timeout, whole seconds,
// minimum one). Timeout bounds the whole unit; exceeding it aborts the
// transaction with no side effects and surfaces a retryable error.
// Isolation defaults to read committed: the engine tolerates
// non-repeatable reads of other bookings' progress — exclusive row locks,
// not isolation level, are what prevent double-selling.
type TxOptions struct {
	Isolation sql.IsolationLevel
	LockWait  time.Duration
	Timeout   time.Duration
}

// RetryPolicy configures exponential backoff with jitter for transient
// storage conflicts. Only errors classified transient by MapError are
// retried; the last error is returned verbatim when attempts run out.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on the doubled delay
	Jitter      float64       // ± fraction of randomization, 0..1
}

// DefaultRetryPolicy suits short row-lock conflicts under checkout storms:
// 50ms, 100ms, 200ms (±20%) between four attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
	}
}

// TxRunner wraps multi-step operations in a single atomic transaction and
// is the only component that begins, commits or rolls back transactions.
// Every write in the commit path receives the *sql.Tx it opens, so the
// type system — not convention — guarantees the writes share one
// transaction boundary.
type TxRunner struct {
	db *sql.DB
}

// NewTxRunner returns a TxRunner bound to the given database handle.
func NewTxRunner(db *sql.DB) *TxRunner { return &TxRunner{db: db} }

// DB exposes the underlying handle for read-only queries that do not need
// transactional scope.
func (r *TxRunner) DB() *sql.DB { return r.db }

// RunInTx executes fn inside one transaction. The transaction is rolled
// back unless fn returns nil and the commit succeeds. Errors from fn are
// classified through MapError on the way out, so callers always observe
// taxonomy kinds.
func (r *TxRunner) RunInTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	iso := opts.Isolation
	if iso == sql.LevelDefault {
		iso = sql.LevelReadCommitted
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: iso})
	if err != nil {
		return MapError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if opts.LockWait > 0 {
		secs := int(opts.LockWait / time.Second)
		if secs < 1 {
			secs = 1
		}
		if _, err := tx.ExecContext(ctx, `SET innodb_lock_wait_timeout = ?`, secs); err != nil {
			return MapError(err)
		}
	}
	if err := fn(ctx, tx); err != nil {
		return MapError(err)
	}
	if err := tx.Commit(); err != nil {
		return MapError(err)
	}
	committed = true
	return nil
}

// RunWithRetry runs fn through RunInTx, retrying the whole unit on
// transient failures with exponential backoff and jitter. fn must be
// idempotent under retry: every attempt starts a fresh transaction and a
// failed attempt leaves no state behind.
func (r *TxRunner) RunWithRetry(ctx context.Context, opts TxOptions, pol RetryPolicy, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if pol.MaxAttempts < 1 {
		pol.MaxAttempts = 1
	}
	delay := pol.BaseDelay
	var last error
	for attempt := 1; ; attempt++ {
		err := r.RunInTx(ctx, opts, fn)
		if err == nil {
			return nil
		}
		last = err
		if attempt >= pol.MaxAttempts || !IsTransient(err) {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(jitter(delay, pol.Jitter)):
		}
		delay *= 2
		if pol.MaxDelay > 0 && delay > pol.MaxDelay {
			delay = pol.MaxDelay
		}
	}
}

// jitter spreads d by ±frac so that concurrent losers of the same
// conflict do not retry in lockstep.
func jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	span := float64(d) * frac
	out := float64(d) + (rand.Float64()*2-1)*span
	if out < 0 {
		return 0
	}
	return time.Duration(out)
}
