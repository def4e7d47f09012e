package repository

import (
	"context"
	"database/sql"

	"github.com/avshalomt/event-seat-booking/internal/model"
)

// BookingRepo provides access to bookings and their denormalized seat
// rows. Bookings are created only inside the commit protocol transaction
// and transition status through guarded updates so concurrent cancel /
// payment paths cannot race each other into an inconsistent state.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, booking_ref, event_id, user_id, status, total_amount_cents, payment_ref, created_at, updated_at`

func scanBooking(scan func(dest ...interface{}) error) (model.Booking, error) {
	var b model.Booking
	var paymentRef sql.NullString
	err := scan(&b.ID, &b.Ref, &b.EventID, &b.UserID, &b.Status,
		&b.TotalAmountCents, &paymentRef, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Booking{}, err
	}
	if paymentRef.Valid {
		ref := paymentRef.String
		b.PaymentRef = &ref
	}
	return b, nil
}

// CreateTx inserts the booking record and its booking_seats rows,
// populating the generated ID. Runs inside the commit transaction after
// the seats have been claimed and priced.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking, seats []model.BookingSeat) error {
	const q = `INSERT INTO bookings (booking_ref, event_id, user_id, status, total_amount_cents)
	           VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.Ref, b.EventID, b.UserID, b.Status, b.TotalAmountCents)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)

	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, seat_id, price_cents) VALUES `
	args := make([]interface{}, 0, len(seats)*3)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, b.ID, s.SeatID, s.PriceCents)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// GetTx loads one booking with an exclusive row lock, for the cancel and
// payment paths which must serialize status transitions.
func (r *BookingRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ? FOR UPDATE`
	b, err := scanBooking(tx.QueryRowContext(ctx, q, id).Scan)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetByRefTx loads one booking by its public reference with a row lock.
func (r *BookingRepo) GetByRefTx(ctx context.Context, tx *sql.Tx, ref string) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_ref = ? FOR UPDATE`
	b, err := scanBooking(tx.QueryRowContext(ctx, q, ref).Scan)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetByID loads one booking without locking, seat IDs included.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id).Scan)
	if err != nil {
		return nil, MapError(err)
	}
	seatIDs, err := r.seatIDs(ctx, r.db.QueryContext, id)
	if err != nil {
		return nil, MapError(err)
	}
	b.SeatIDs = seatIDs
	return &b, nil
}

type queryFunc func(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

func (r *BookingRepo) seatIDs(ctx context.Context, query queryFunc, bookingID uint64) ([]uint64, error) {
	const q = `SELECT seat_id FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`
	rows, err := query(ctx, q, bookingID)
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

// SeatIDsTx returns the seat IDs of a booking inside a transaction.
func (r *BookingRepo) SeatIDsTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]uint64, error) {
	return r.seatIDs(ctx, tx.QueryContext, bookingID)
}

// UpdateStatusTx transitions a booking from one status to another and
// reports whether the transition happened, making concurrent cancel /
// confirm attempts race-safe: exactly one wins.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to string) (bool, error) {
	const q = `UPDATE bookings SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetPaymentTx records the verified payment reference together with the
// status flip to CONFIRMED.
func (r *BookingRepo) SetPaymentTx(ctx context.Context, tx *sql.Tx, id uint64, paymentRef string) error {
	const q = `UPDATE bookings SET payment_ref = ?, status = ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, paymentRef, model.BookingConfirmed, id, model.BookingPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &StoreError{Kind: ErrConflict, Err: errNotPending}
	}
	return nil
}

// ListByUser returns a user's bookings, newest first, seat IDs included.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()
	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range bookings {
		seatIDs, err := r.seatIDs(ctx, r.db.QueryContext, bookings[i].ID)
		if err != nil {
			return nil, MapError(err)
		}
		bookings[i].SeatIDs = seatIDs
	}
	return bookings, nil
}
