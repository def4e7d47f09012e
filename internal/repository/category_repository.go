package repository

import (
	"context"
	"database/sql"

	"github.com/avshalomt/event-seat-booking/internal/model"
)

// CategoryRepo manages ticket categories and their denormalized booked
// counters. Counter mutations happen only inside the same transaction as
// the seat-status change they reflect, with the category row locked; the
// reconciler repairs any drift from seat rows.
type CategoryRepo struct {
	db *sql.DB
}

// NewCategoryRepo constructs a CategoryRepo with the given DB handle.
func NewCategoryRepo(db *sql.DB) *CategoryRepo {
	return &CategoryRepo{db: db}
}

const categoryColumns = `id, event_id, name, price_cents, total_seats, booked_seats`

// LockTx loads the given categories with exclusive row locks, in
// ascending ID order so concurrent bookings touching the same set always
// acquire them in the same order and cannot deadlock on each other.
func (r *CategoryRepo) LockTx(ctx context.Context, tx *sql.Tx, categoryIDs []uint64) ([]model.TicketCategory, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + categoryColumns + ` FROM ticket_categories
	          WHERE id IN (` + placeholders(len(categoryIDs)) + `)
	          ORDER BY id
	          FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, idArgs(categoryIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cats []model.TicketCategory
	for rows.Next() {
		var c model.TicketCategory
		if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.PriceCents, &c.TotalSeats, &c.BookedSeats); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cats) != len(categoryIDs) {
		return nil, &StoreError{Kind: ErrNotFound, Err: sql.ErrNoRows}
	}
	return cats, nil
}

// AdjustBookedTx moves the booked counter by delta (positive on commit,
// negative on cancel). The WHERE clause refuses to push the counter below
// zero or past total_seats; a zero row count there means the counter and
// the seat rows disagree, which is a conflict the reconciler must repair,
// not something to paper over.
func (r *CategoryRepo) AdjustBookedTx(ctx context.Context, tx *sql.Tx, categoryID uint64, delta int) error {
	const q = `UPDATE ticket_categories
	           SET booked_seats = booked_seats + ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND booked_seats + ? BETWEEN 0 AND total_seats`
	res, err := tx.ExecContext(ctx, q, delta, categoryID, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &StoreError{Kind: ErrConflict, Err: errCounterDrift}
	}
	return nil
}

// ListByEvent returns the categories of an event for availability views.
func (r *CategoryRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.TicketCategory, error) {
	const q = `SELECT ` + categoryColumns + ` FROM ticket_categories WHERE event_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()
	var cats []model.TicketCategory
	for rows.Next() {
		var c model.TicketCategory
		if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.PriceCents, &c.TotalSeats, &c.BookedSeats); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cats, nil
}

// Create inserts a category at inventory setup time.
func (r *CategoryRepo) Create(ctx context.Context, c *model.TicketCategory) error {
	const q = `INSERT INTO ticket_categories (event_id, name, price_cents, total_seats, booked_seats)
	           VALUES (?, ?, ?, ?, 0)`
	res, err := r.db.ExecContext(ctx, q, c.EventID, c.Name, c.PriceCents, c.TotalSeats)
	if err != nil {
		return MapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// RepairTx rewrites booked_seats for every category of the event from the
// BOOKED seat rows and returns how many counters were out of line. The
// denormalized counter is a cache; the seat rows are the truth it is
// rebuilt from.
func (r *CategoryRepo) RepairTx(ctx context.Context, tx *sql.Tx, eventID uint64) (int64, error) {
	const q = `UPDATE ticket_categories c
	           LEFT JOIN (
	               SELECT category_id, COUNT(*) AS booked
	               FROM seats
	               WHERE event_id = ? AND category_id IS NOT NULL AND status = 'BOOKED' AND deleted_at IS NULL
	               GROUP BY category_id
	           ) s ON s.category_id = c.id
	           SET c.booked_seats = COALESCE(s.booked, 0), c.updated_at = CURRENT_TIMESTAMP
	           WHERE c.event_id = ? AND c.booked_seats <> COALESCE(s.booked, 0)`
	res, err := tx.ExecContext(ctx, q, eventID, eventID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
