package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/avshalomt/event-seat-booking/internal/model"
)

// ExpiryQueueRepo manages the compact table the sweeper scans. One row is
// written per lock grant and deleted once any release path has processed
// the reservation — the row's existence is a hint, never the truth: the
// guarded status transition on the ledger is what makes release
// idempotent.
type ExpiryQueueRepo struct {
	db *sql.DB
}

// NewExpiryQueueRepo returns a new ExpiryQueueRepo bound to the database.
func NewExpiryQueueRepo(db *sql.DB) *ExpiryQueueRepo { return &ExpiryQueueRepo{db: db} }

// CreateTx inserts a queue entry alongside a lock grant.
func (r *ExpiryQueueRepo) CreateTx(ctx context.Context, tx *sql.Tx, e *model.ExpiryQueueEntry) error {
	const q = `INSERT INTO expiry_queue (reservation_id, holder_id, expires_at) VALUES (?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, e.ReservationID, e.HolderID, e.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// Due returns up to limit entries whose expiry has passed and whose
// reservation is still PENDING. The query runs outside any transaction:
// the release routine each entry is fed into re-checks the ledger under a
// row lock, so observing a stale entry here costs one harmless no-op.
func (r *ExpiryQueueRepo) Due(ctx context.Context, limit int) ([]model.ExpiryQueueEntry, error) {
	const q = `SELECT q.id, q.reservation_id, q.holder_id, q.expires_at
	           FROM expiry_queue q
	           JOIN seat_reservations r ON r.id = q.reservation_id
	           WHERE q.expires_at <= UTC_TIMESTAMP() AND r.status = 'PENDING'
	           ORDER BY q.expires_at
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()
	var entries []model.ExpiryQueueEntry
	for rows.Next() {
		var e model.ExpiryQueueEntry
		if err := rows.Scan(&e.ID, &e.ReservationID, &e.HolderID, &e.ExpiresAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteByReservationTx removes the queue entries of a reservation once
// it has been released, confirmed or swept. Deleting an already-deleted
// entry is a no-op.
func (r *ExpiryQueueRepo) DeleteByReservationTx(ctx context.Context, tx *sql.Tx, reservationID uint64) error {
	const q = `DELETE FROM expiry_queue WHERE reservation_id = ?`
	_, err := tx.ExecContext(ctx, q, reservationID)
	return err
}

// UpdateExpiryTx rewrites the expiry on the queue entries of the given
// reservations after a lock extension.
func (r *ExpiryQueueRepo) UpdateExpiryTx(ctx context.Context, tx *sql.Tx, reservationIDs []uint64, expiresAt time.Time) error {
	if len(reservationIDs) == 0 {
		return nil
	}
	query := `UPDATE expiry_queue SET expires_at = ? WHERE reservation_id IN (` + placeholders(len(reservationIDs)) + `)`
	args := append([]interface{}{expiresAt.UTC()}, idArgs(reservationIDs)...)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
