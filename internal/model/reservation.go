package model

import "time"

// Reservation (lock ledger) status values. A reservation is PENDING while
// the hold is live; every other status is terminal. Confirmed holds are
// superseded by the Booking entity and never mutated again.
const (
	ReservationPending   = "PENDING"
	ReservationExpired   = "EXPIRED"
	ReservationCancelled = "CANCELLED"
	ReservationReleased  = "RELEASED"
	ReservationConfirmed = "CONFIRMED"
)

// SeatReservation is a ledger entry recording who holds which seats until
// when. It exists separately from the denormalized holder/expiry columns
// on the seat row so that the holder→seats mapping can be recovered after
// a crash and so that expiry sweeps have a compact index to scan. The
// ledger is authoritative; the seat columns are a read optimization.
//
// Fields:
//
//	ID        – primary key identifier.
//	Ref       – opaque reservation reference returned to clients.
//	HolderID  – user holding the seats.
//	EventID   – event the held seats belong to.
//	Status    – PENDING, EXPIRED, CANCELLED, RELEASED or CONFIRMED.
//	ExpiresAt – when the hold lapses.
//	CreatedAt – creation timestamp.
//	UpdatedAt – last transition timestamp.
type SeatReservation struct {
	ID        uint64    // seat_reservations.id
	Ref       string    // seat_reservations.reservation_ref
	HolderID  uint64    // seat_reservations.holder_id
	EventID   uint64    // seat_reservations.event_id
	Status    string    // seat_reservations.status
	ExpiresAt time.Time // seat_reservations.expires_at
	CreatedAt time.Time // seat_reservations.created_at
	UpdatedAt time.Time // seat_reservations.updated_at
}

// ExpiryQueueEntry is a durability aid for the expiry scheduler: one row
// per live hold, deleted once the hold is released, confirmed or swept.
// The in-memory fallback timer and the periodic sweep both consume these
// entries through the same idempotent release routine, so double firing
// is harmless.
type ExpiryQueueEntry struct {
	ID            uint64    // expiry_queue.id
	ReservationID uint64    // expiry_queue.reservation_id
	HolderID      uint64    // expiry_queue.holder_id
	ExpiresAt     time.Time // expiry_queue.expires_at
}
