package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/avshalomt/event-seat-booking/internal/model"
)

// ErrEventRetired is returned when a claim or booking targets an event
// that has been taken off sale. Conflict-class.
var ErrEventRetired = errors.New("event retired")

// Is lets errors.Is(err, ErrConflict) match retired-event failures without
// a dedicated wrapper at every call site.
type eventRetiredError struct{}

func (eventRetiredError) Error() string { return ErrEventRetired.Error() }
func (eventRetiredError) Is(target error) bool {
	return target == ErrConflict || target == ErrEventRetired
}

// EventRepo manages event rows and their summary counters. The event row
// doubles as the serialization point for category-level mutations: the
// booking commit protocol locks it before touching any category, so two
// commits against the same event order themselves deterministically.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo constructs an EventRepo with the given DB handle.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, name, starts_at, total_seats, booked_seats, is_retired`

// LockTx loads the event row with an exclusive lock, failing with
// NotFound for missing events and Conflict for retired ones.
func (r *EventRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = ? FOR UPDATE`
	var e model.Event
	err := tx.QueryRowContext(ctx, q, id).Scan(
		&e.ID, &e.Name, &e.StartsAt, &e.TotalSeats, &e.BookedSeats, &e.IsRetired,
	)
	if err != nil {
		return nil, err
	}
	if e.IsRetired {
		return nil, eventRetiredError{}
	}
	return &e, nil
}

// GetByID retrieves an event without locking.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	var e model.Event
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&e.ID, &e.Name, &e.StartsAt, &e.TotalSeats, &e.BookedSeats, &e.IsRetired,
	)
	if err != nil {
		return nil, MapError(err)
	}
	return &e, nil
}

// AdjustBookedTx moves the event-level summary counter, guarded the same
// way as the category counters.
func (r *EventRepo) AdjustBookedTx(ctx context.Context, tx *sql.Tx, id uint64, delta int) error {
	const q = `UPDATE events
	           SET booked_seats = booked_seats + ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND booked_seats + ? BETWEEN 0 AND total_seats`
	res, err := tx.ExecContext(ctx, q, delta, id, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &StoreError{Kind: ErrConflict, Err: errCounterDrift}
	}
	return nil
}

// Create inserts an event at inventory setup time.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
	const q = `INSERT INTO events (name, starts_at, total_seats, booked_seats, is_retired)
	           VALUES (?, ?, ?, 0, FALSE)`
	res, err := r.db.ExecContext(ctx, q, e.Name, e.StartsAt.UTC(), e.TotalSeats)
	if err != nil {
		return MapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// RetireTx marks an event as off sale. Its seats are soft-deleted by the
// caller in the same transaction; nothing is ever hard-deleted.
func (r *EventRepo) RetireTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE events SET is_retired = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &StoreError{Kind: ErrNotFound, Err: sql.ErrNoRows}
	}
	return nil
}

// ActiveIDs lists events still on sale, oldest first. Drives the
// counter reconciliation loop.
func (r *EventRepo) ActiveIDs(ctx context.Context) ([]uint64, error) {
	const q = `SELECT id FROM events WHERE is_retired = FALSE ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, MapError(err)
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

// RepairTx rewrites the event summary counter from BOOKED seat rows.
func (r *EventRepo) RepairTx(ctx context.Context, tx *sql.Tx, eventID uint64) (int64, error) {
	const q = `UPDATE events e
	           SET e.booked_seats = (
	               SELECT COUNT(*) FROM seats
	               WHERE event_id = e.id AND status = 'BOOKED' AND deleted_at IS NULL
	           ), e.updated_at = CURRENT_TIMESTAMP
	           WHERE e.id = ? AND e.booked_seats <> (
	               SELECT COUNT(*) FROM seats
	               WHERE event_id = e.id AND status = 'BOOKED' AND deleted_at IS NULL
	           )`
	res, err := tx.ExecContext(ctx, q, eventID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
