package repository // repository defines data access for seats

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/avshalomt/event-seat-booking/internal/model"
)

// SeatRepo provides the allocation primitives of the engine. The two
// claim modes mirror how buyers shop: explicit seat IDs for reserved
// seating (blocking row locks — the caller knows exactly which rows it
// wants and must wait or fail fast) and section/count for general
// admission (skip-locked scan — concurrent allocators look past each
// other's in-flight claims and make progress on disjoint subsets).
// Every mutating method takes *sql.Tx: seat rows are only ever touched
// inside a transaction owned by the TxRunner.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// placeholders returns "?,?,...,?" with n markers for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// idArgs converts seat IDs to query arguments.
func idArgs(ids []uint64) []interface{} {
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

const seatColumns = `id, event_id, category_id, label, price_cents, status, holder_id, lock_expires_at, booking_id`

func scanSeat(scan func(dest ...interface{}) error) (model.Seat, error) {
	var s model.Seat
	var categoryID, holderID, bookingID sql.NullInt64
	var lockExpires sql.NullTime
	err := scan(&s.ID, &s.EventID, &categoryID, &s.Label, &s.PriceCents, &s.Status,
		&holderID, &lockExpires, &bookingID)
	if err != nil {
		return model.Seat{}, err
	}
	if categoryID.Valid {
		v := uint64(categoryID.Int64)
		s.CategoryID = &v
	}
	if holderID.Valid {
		v := uint64(holderID.Int64)
		s.HolderID = &v
	}
	if bookingID.Valid {
		v := uint64(bookingID.Int64)
		s.BookingID = &v
	}
	if lockExpires.Valid {
		t := lockExpires.Time.UTC()
		s.LockExpiresAt = &t
	}
	return s, nil
}

// LockExplicitTx takes a blocking exclusive row lock on exactly the
// requested seats and verifies each one is claimable by the holder at the
// given instant: either AVAILABLE, or already LOCKED by this holder
// (confirming a prior hold). Rows that are missing, soft-deleted or held
// by someone else make the whole call fail with SeatUnavailableError
// listing the offending IDs — no partial success is ever returned.
func (r *SeatRepo) LockExplicitTx(ctx context.Context, tx *sql.Tx, eventID uint64, seatIDs []uint64, holderID uint64, now time.Time) ([]model.Seat, error) {
	query := `SELECT ` + seatColumns + ` FROM seats
	          WHERE event_id = ? AND id IN (` + placeholders(len(seatIDs)) + `) AND deleted_at IS NULL
	          ORDER BY id
	          FOR UPDATE`
	args := append([]interface{}{eventID}, idArgs(seatIDs)...)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[uint64]model.Seat, len(seatIDs))
	for rows.Next() {
		s, err := scanSeat(rows.Scan)
		if err != nil {
			return nil, err
		}
		found[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var offending []uint64
	claimed := make([]model.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		s, ok := found[id]
		if !ok {
			offending = append(offending, id)
			continue
		}
		if s.Status == model.SeatAvailable || s.HeldBy(holderID, now) {
			claimed = append(claimed, s)
			continue
		}
		offending = append(offending, id)
	}
	if len(offending) > 0 {
		return nil, NewSeatUnavailableError(offending)
	}
	return claimed, nil
}

// AllocateSectionTx selects up to quantity AVAILABLE seats in the given
// category using a lock-and-skip-locked scan: rows already exclusively
// locked by a concurrent transaction are skipped instead of waited on.
// If fewer than quantity rows are obtainable the call fails with
// InsufficientInventoryError carrying the obtainable count, and the
// caller's transaction must make no state change.
func (r *SeatRepo) AllocateSectionTx(ctx context.Context, tx *sql.Tx, eventID, categoryID uint64, quantity int) ([]model.Seat, error) {
	const query = `SELECT ` + seatColumns + ` FROM seats
	               WHERE event_id = ? AND category_id = ? AND status = 'AVAILABLE' AND deleted_at IS NULL
	               ORDER BY id
	               LIMIT ?
	               FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, query, eventID, categoryID, quantity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := make([]model.Seat, 0, quantity)
	for rows.Next() {
		s, err := scanSeat(rows.Scan)
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(seats) < quantity {
		return nil, &InsufficientInventoryError{
			CategoryID: categoryID,
			Requested:  quantity,
			Available:  len(seats),
		}
	}
	return seats, nil
}

// MarkLockedTx flips the given seats to LOCKED for the holder. The rows
// must already be exclusively locked by this transaction; a row count
// mismatch means a claim check was bypassed and surfaces as Conflict.
func (r *SeatRepo) MarkLockedTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, holderID uint64, expiresAt time.Time) error {
	if len(seatIDs) == 0 {
		return nil
	}
	query := `UPDATE seats
	          SET status = 'LOCKED', holder_id = ?, lock_expires_at = ?, booking_id = NULL, updated_at = CURRENT_TIMESTAMP
	          WHERE id IN (` + placeholders(len(seatIDs)) + `) AND (status = 'AVAILABLE' OR (status = 'LOCKED' AND holder_id = ?))`
	args := append([]interface{}{holderID, expiresAt.UTC()}, idArgs(seatIDs)...)
	args = append(args, holderID)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != int64(len(seatIDs)) {
		return NewSeatUnavailableError(seatIDs)
	}
	return nil
}

// MarkBookedTx flips the given seats to BOOKED under the booking,
// clearing the denormalized holder columns. Seats may arrive here either
// AVAILABLE (direct commit) or LOCKED (confirming a hold); both were
// validated and row-locked earlier in the same transaction.
func (r *SeatRepo) MarkBookedTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, bookingID uint64) error {
	if len(seatIDs) == 0 {
		return nil
	}
	query := `UPDATE seats
	          SET status = 'BOOKED', booking_id = ?, holder_id = NULL, lock_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
	          WHERE id IN (` + placeholders(len(seatIDs)) + `) AND status IN ('AVAILABLE','LOCKED')`
	args := append([]interface{}{bookingID}, idArgs(seatIDs)...)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != int64(len(seatIDs)) {
		return NewSeatUnavailableError(seatIDs)
	}
	return nil
}

// ReleaseByHolderTx returns to AVAILABLE those of the given seats that
// are actually LOCKED by the holder and reports which ones transitioned.
// Seats already AVAILABLE or held by someone else are skipped, not
// errors — release is idempotent by design so that the fallback timer,
// the sweep and a manual unlock can all fire for the same hold.
func (r *SeatRepo) ReleaseByHolderTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, holderID uint64) ([]uint64, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	selectQ := `SELECT id FROM seats
	            WHERE id IN (` + placeholders(len(seatIDs)) + `) AND status = 'LOCKED' AND holder_id = ?
	            ORDER BY id
	            FOR UPDATE`
	args := append(idArgs(seatIDs), holderID)
	rows, err := tx.QueryContext(ctx, selectQ, args...)
	if err != nil {
		return nil, err
	}
	var held []uint64
	for rows.Next() {
		var id uint64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		held = append(held, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(held) == 0 {
		return []uint64{}, nil
	}
	updateQ := `UPDATE seats
	            SET status = 'AVAILABLE', holder_id = NULL, lock_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
	            WHERE id IN (` + placeholders(len(held)) + `) AND status = 'LOCKED' AND holder_id = ?`
	uargs := append(idArgs(held), holderID)
	if _, err := tx.ExecContext(ctx, updateQ, uargs...); err != nil {
		return nil, err
	}
	return held, nil
}

// ReleaseByBookingTx returns every seat owned by the booking to AVAILABLE
// and reports the released IDs. Used by the cancel path only — cancelling
// a booking is the single legitimate route from BOOKED back to AVAILABLE.
func (r *SeatRepo) ReleaseByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]uint64, error) {
	const selectQ = `SELECT id FROM seats WHERE booking_id = ? AND status = 'BOOKED' ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, selectQ, bookingID)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []uint64{}, nil
	}
	const updateQ = `UPDATE seats
	                 SET status = 'AVAILABLE', booking_id = NULL, holder_id = NULL, lock_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
	                 WHERE booking_id = ? AND status = 'BOOKED'`
	if _, err := tx.ExecContext(ctx, updateQ, bookingID); err != nil {
		return nil, err
	}
	return ids, nil
}

// ExtendLockTx rewrites the lock expiry on seats currently LOCKED by the
// holder and returns how many rows matched. Extending is idempotent;
// callers decide whether a partial match is an error.
func (r *SeatRepo) ExtendLockTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, holderID uint64, expiresAt time.Time) (int64, error) {
	if len(seatIDs) == 0 {
		return 0, nil
	}
	query := `UPDATE seats
	          SET lock_expires_at = ?, updated_at = CURRENT_TIMESTAMP
	          WHERE id IN (` + placeholders(len(seatIDs)) + `) AND status = 'LOCKED' AND holder_id = ?`
	args := append([]interface{}{expiresAt.UTC()}, idArgs(seatIDs)...)
	args = append(args, holderID)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetByID retrieves a single seat without locking. Used by lock-validity
// checks, which judge expiry against wall-clock time so a slow sweep
// fails safe toward availability.
func (r *SeatRepo) GetByID(ctx context.Context, id uint64) (*model.Seat, error) {
	const q = `SELECT ` + seatColumns + ` FROM seats WHERE id = ? AND deleted_at IS NULL`
	s, err := scanSeat(r.db.QueryRowContext(ctx, q, id).Scan)
	if err != nil {
		return nil, MapError(err)
	}
	return &s, nil
}

// CreateBulk inserts multiple seats in a single statement. Used at
// inventory setup time; seat rows are never deleted afterwards, only
// soft-deleted when the event is retired.
func (r *SeatRepo) CreateBulk(ctx context.Context, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO seats (event_id, category_id, label, price_cents, status) VALUES `
	args := make([]interface{}, 0, len(seats)*5)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, 'AVAILABLE')"
		var categoryID interface{}
		if s.CategoryID != nil {
			categoryID = *s.CategoryID
		}
		args = append(args, s.EventID, categoryID, s.Label, s.PriceCents)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return MapError(err)
}

// SoftDeleteByEventTx marks every seat of the event as deleted. Retiring
// keeps history intact for existing bookings.
func (r *SeatRepo) SoftDeleteByEventTx(ctx context.Context, tx *sql.Tx, eventID uint64) error {
	const q = `UPDATE seats SET deleted_at = UTC_TIMESTAMP() WHERE event_id = ? AND deleted_at IS NULL`
	_, err := tx.ExecContext(ctx, q, eventID)
	return err
}

// CategoryCountsTx groups the given seats by category, skipping seats
// without one. Used to size the denormalized counter adjustments when a
// booking commits or unwinds.
func (r *SeatRepo) CategoryCountsTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64) (map[uint64]int, error) {
	if len(seatIDs) == 0 {
		return map[uint64]int{}, nil
	}
	q := `SELECT category_id, COUNT(*) FROM seats
	      WHERE id IN (` + placeholders(len(seatIDs)) + `) AND category_id IS NOT NULL
	      GROUP BY category_id`
	rows, err := tx.QueryContext(ctx, q, idArgs(seatIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[uint64]int)
	for rows.Next() {
		var categoryID uint64
		var n int
		if err := rows.Scan(&categoryID, &n); err != nil {
			return nil, err
		}
		counts[categoryID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// BookedCountsByCategory recomputes, from seat rows, how many seats are
// BOOKED per category for the event. This is the reconciliation source of
// truth the denormalized counters are checked against.
func (r *SeatRepo) BookedCountsByCategory(ctx context.Context, eventID uint64) (map[uint64]uint32, error) {
	const q = `SELECT category_id, COUNT(*) FROM seats
	           WHERE event_id = ? AND category_id IS NOT NULL AND status = 'BOOKED' AND deleted_at IS NULL
	           GROUP BY category_id`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()
	counts := make(map[uint64]uint32)
	for rows.Next() {
		var categoryID uint64
		var n uint32
		if err := rows.Scan(&categoryID, &n); err != nil {
			return nil, err
		}
		counts[categoryID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}
