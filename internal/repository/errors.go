// Package repository defines the error taxonomy shared by every data
// access component plus the mapping from storage-layer failures onto it.
// Higher layers (services, handlers) only ever branch on these kinds via
// errors.Is / errors.As; raw driver errors never cross the repository
// boundary.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Sentinel error kinds. Each maps to exactly one class of user-visible
// behavior; handlers translate them to HTTP statuses in one place.
var (
	// ErrNotFound is returned when a seat, booking, category or event
	// lookup yields no rows.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals contended or already-claimed state: a seat
	// unavailable, a hold owned by someone else, a unique-key collision.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientInventory is the kind behind InsufficientInventoryError.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrForbidden is returned when the caller lacks ownership or role.
	ErrForbidden = errors.New("forbidden")

	// ErrNotHolder is returned when a lock operation names seats the
	// caller does not currently hold. It is a Forbidden-class error.
	ErrNotHolder = errors.New("not lock holder")

	// ErrValidation covers malformed quantities, past dates, mismatched
	// totals and other bad input.
	ErrValidation = errors.New("validation failed")

	// ErrCancellationWindow is returned when a booking may no longer be
	// cancelled because the event starts too soon. Conflict-class.
	ErrCancellationWindow = errors.New("cancellation window expired")

	// ErrTransient marks failures worth retrying: deadlocks, lock-wait
	// timeouts, dropped connections. The transaction runner retries these
	// automatically; anything else propagates immediately.
	ErrTransient = errors.New("transient storage failure")

	// ErrInternal is the catch-all for unclassified storage errors.
	ErrInternal = errors.New("internal storage error")
)

// SeatUnavailableError reports which explicitly requested seats could not
// be claimed. It matches ErrConflict so callers can treat it generically
// while clients still receive the precise seat list for a targeted retry.
type SeatUnavailableError struct {
	SeatIDs []uint64
}

func (e *SeatUnavailableError) Error() string {
	parts := make([]string, 0, len(e.SeatIDs))
	for _, id := range e.SeatIDs {
		parts = append(parts, fmt.Sprint(id))
	}
	return "seats unavailable: [" + strings.Join(parts, ",") + "]"
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *SeatUnavailableError) Is(target error) bool { return target == ErrConflict }

// NewSeatUnavailableError returns a SeatUnavailableError with the seat
// IDs sorted for deterministic messages and responses.
func NewSeatUnavailableError(seatIDs []uint64) *SeatUnavailableError {
	ids := append([]uint64(nil), seatIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &SeatUnavailableError{SeatIDs: ids}
}

// InsufficientInventoryError reports that a section/count request could
// not be fully satisfied, with both the requested quantity and how many
// seats were actually obtainable at that moment.
type InsufficientInventoryError struct {
	CategoryID uint64
	Requested  int
	Available  int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory in category %d: requested %d, available %d",
		e.CategoryID, e.Requested, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientInventory) match.
func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// StoreError pairs a taxonomy kind with the underlying storage error so
// that errors.Is matches the kind while the original cause stays
// reachable through Unwrap for logging.
type StoreError struct {
	Kind error
	Err  error
}

func (e *StoreError) Error() string        { return e.Kind.Error() + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error        { return e.Err }
func (e *StoreError) Is(target error) bool { return target == e.Kind }

// errCounterDrift is the cause attached when a guarded counter update
// matches no row: the denormalized counter disagrees with the seat rows.
var errCounterDrift = errors.New("denormalized counter out of range")

// errNotPending is the cause attached when a guarded booking status
// transition finds the booking no longer in the expected state.
var errNotPending = errors.New("booking not in expected status")

// MySQL server error numbers the engine cares about. See the server's
// errmsg reference; only codes that change control flow are listed.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrNoReferencedRow = 1452
	mysqlErrCheckViolated   = 3819
)

// MapError classifies a storage-layer error into the domain taxonomy.
// Errors that already carry a taxonomy kind pass through untouched, so
// repositories may call it defensively at any boundary.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		ErrNotFound, ErrConflict, ErrInsufficientInventory, ErrForbidden,
		ErrNotHolder, ErrValidation, ErrCancellationWindow, ErrTransient, ErrInternal,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &StoreError{Kind: ErrNotFound, Err: err}
	case errors.Is(err, driver.ErrBadConn):
		return &StoreError{Kind: ErrTransient, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &StoreError{Kind: ErrTransient, Err: err}
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return &StoreError{Kind: ErrTransient, Err: err}
		case mysqlErrDuplicateEntry:
			return &StoreError{Kind: ErrConflict, Err: err}
		case mysqlErrNoReferencedRow, mysqlErrCheckViolated:
			return &StoreError{Kind: ErrValidation, Err: err}
		}
	}
	return &StoreError{Kind: ErrInternal, Err: err}
}

// IsTransient reports whether the error (after classification) is worth
// retrying. Non-transient errors must never be retried — retrying a
// validation or not-found failure would be silently wrong.
func IsTransient(err error) bool {
	return errors.Is(MapError(err), ErrTransient)
}
