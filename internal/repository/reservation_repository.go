package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/avshalomt/event-seat-booking/internal/model"
)

// ReservationRepo provides access to the seat_reservations ledger and its
// reservation_seats rows. The ledger is the authoritative record of who
// holds which seats until when; the denormalized holder/expiry columns on
// the seat row exist only to answer validity checks without a join. All
// timestamps are stored and compared in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// CreateTx inserts a new PENDING ledger entry together with its seat
// rows, populating the generated ID on the record. The caller owns the
// transaction and commits it alongside the seat-status flip and the
// expiry-queue entry so the three stay consistent.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec *model.SeatReservation, seatIDs []uint64) error {
	const q = `INSERT INTO seat_reservations (reservation_ref, holder_id, event_id, status, expires_at)
	           VALUES (?, ?, ?, 'PENDING', ?)`
	res, err := tx.ExecContext(ctx, q, rec.Ref, rec.HolderID, rec.EventID, rec.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = uint64(id)
	rec.Status = model.ReservationPending

	if len(seatIDs) == 0 {
		return nil
	}
	query := `INSERT INTO reservation_seats (reservation_id, seat_id) VALUES `
	args := make([]interface{}, 0, len(seatIDs)*2)
	for i, sid := range seatIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?)"
		args = append(args, rec.ID, sid)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// GetTx loads one ledger entry with an exclusive row lock.
func (r *ReservationRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.SeatReservation, error) {
	const q = `SELECT id, reservation_ref, holder_id, event_id, status, expires_at, created_at, updated_at
	           FROM seat_reservations WHERE id = ? FOR UPDATE`
	var rec model.SeatReservation
	err := tx.QueryRowContext(ctx, q, id).Scan(
		&rec.ID, &rec.Ref, &rec.HolderID, &rec.EventID, &rec.Status,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get loads one ledger entry without transactional scope. Used for
// validity checks where a stale read only means an extra round trip.
func (r *ReservationRepo) Get(ctx context.Context, id uint64) (*model.SeatReservation, error) {
	const q = `SELECT id, reservation_ref, holder_id, event_id, status, expires_at, created_at, updated_at
	           FROM seat_reservations WHERE id = ?`
	var rec model.SeatReservation
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&rec.ID, &rec.Ref, &rec.HolderID, &rec.EventID, &rec.Status,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PendingByHolderTx loads the holder's PENDING reservations for an event
// with exclusive row locks, oldest first.
func (r *ReservationRepo) PendingByHolderTx(ctx context.Context, tx *sql.Tx, holderID, eventID uint64) ([]model.SeatReservation, error) {
	const q = `SELECT id, reservation_ref, holder_id, event_id, status, expires_at, created_at, updated_at
	           FROM seat_reservations
	           WHERE holder_id = ? AND event_id = ? AND status = 'PENDING'
	           ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, holderID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.SeatReservation
	for rows.Next() {
		var rec model.SeatReservation
		if err := rows.Scan(&rec.ID, &rec.Ref, &rec.HolderID, &rec.EventID, &rec.Status,
			&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// SeatIDsTx returns the seat IDs recorded under a reservation.
func (r *ReservationRepo) SeatIDsTx(ctx context.Context, tx *sql.Tx, reservationID uint64) ([]uint64, error) {
	const q = `SELECT seat_id FROM reservation_seats WHERE reservation_id = ? ORDER BY seat_id`
	rows, err := tx.QueryContext(ctx, q, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CloseTx transitions a reservation from one status to another and
// reports whether the transition happened. A false return means some
// other path (timer, sweep, manual release, confirmation) already closed
// the entry — callers treat that as a completed no-op, which is what
// makes double firing of the expiry mechanisms harmless.
func (r *ReservationRepo) CloseTx(ctx context.Context, tx *sql.Tx, reservationID uint64, from, to string) (bool, error) {
	const q = `UPDATE seat_reservations SET status = ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, reservationID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExtendTx rewrites the expiry on every PENDING reservation of the holder
// that covers at least one of the given seats, returning the affected
// reservation IDs so the expiry queue can be rewritten to match.
func (r *ReservationRepo) ExtendTx(ctx context.Context, tx *sql.Tx, holderID uint64, seatIDs []uint64, expiresAt time.Time) ([]uint64, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	selectQ := `SELECT DISTINCT r.id FROM seat_reservations r
	            JOIN reservation_seats rs ON rs.reservation_id = r.id
	            WHERE r.holder_id = ? AND r.status = 'PENDING' AND rs.seat_id IN (` + placeholders(len(seatIDs)) + `)
	            ORDER BY r.id`
	args := append([]interface{}{holderID}, idArgs(seatIDs)...)
	rows, err := tx.QueryContext(ctx, selectQ, args...)
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
	updateQ := `UPDATE seat_reservations SET expires_at = ?, updated_at = CURRENT_TIMESTAMP
	            WHERE id IN (` + placeholders(len(ids)) + `)`
	uargs := append([]interface{}{expiresAt.UTC()}, idArgs(ids)...)
	if _, err := tx.ExecContext(ctx, updateQ, uargs...); err != nil {
		return nil, err
	}
	return ids, nil
}

// PendingByHolderForSeatsTx lists the PENDING reservations of a holder
// that cover any of the given seats. Used by the release path to decide
// which ledger entries a manual unlock closes.
func (r *ReservationRepo) PendingByHolderForSeatsTx(ctx context.Context, tx *sql.Tx, holderID uint64, seatIDs []uint64) ([]uint64, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT r.id FROM seat_reservations r
	          JOIN reservation_seats rs ON rs.reservation_id = r.id
	          WHERE r.holder_id = ? AND r.status = 'PENDING' AND rs.seat_id IN (` + placeholders(len(seatIDs)) + `)
	          ORDER BY r.id`
	args := append([]interface{}{holderID}, idArgs(seatIDs)...)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// HeldSeatCountTx reports how many seats of the reservation are still
// LOCKED by its holder. A reservation whose count drops to zero after a
// partial release no longer guards anything and is closed as RELEASED.
func (r *ReservationRepo) HeldSeatCountTx(ctx context.Context, tx *sql.Tx, reservationID, holderID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM reservation_seats rs
	           JOIN seats s ON s.id = rs.seat_id
	           WHERE rs.reservation_id = ? AND s.status = 'LOCKED' AND s.holder_id = ?`
	var n int
	if err := tx.QueryRowContext(ctx, q, reservationID, holderID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
