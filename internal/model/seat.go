package model

import "time"

// Seat status values. A seat is the single sellable inventory unit; its
// status drives every allocation decision. LOCKED seats always carry a
// holder and an expiry; BOOKED seats always carry a booking reference;
// AVAILABLE seats carry neither.
const (
	SeatAvailable = "AVAILABLE"
	SeatLocked    = "LOCKED"
	SeatBooked    = "BOOKED"
)

// Seat describes one sellable unit belonging to an event. Seats may be
// grouped into a ticket category ("section") for general-admission
// allocation, or stand alone for reserved seating. The holder and
// lock-expiry columns are a read optimization; the seat_reservations
// ledger is authoritative for holder recovery.
//
// Fields:
//
//	ID            – primary key identifier.
//	EventID       – event to which this seat belongs.
//	CategoryID    – optional ticket category (nullable).
//	Label         – human-readable seat label (e.g. "A-12", "GA-103").
//	PriceCents    – price in cents for this seat.
//	Status        – AVAILABLE, LOCKED or BOOKED.
//	HolderID      – user currently holding the seat (nullable).
//	LockExpiresAt – when the current hold expires (nullable).
//	BookingID     – booking that owns the seat when BOOKED (nullable).
//	DeletedAt     – soft-delete marker set when an event is retired.
type Seat struct {
	ID            uint64     // seats.id
	EventID       uint64     // seats.event_id
	CategoryID    *uint64    // seats.category_id (nullable)
	Label         string     // seats.label
	PriceCents    uint32     // seats.price_cents
	Status        string     // seats.status
	HolderID      *uint64    // seats.holder_id (nullable)
	LockExpiresAt *time.Time // seats.lock_expires_at (nullable)
	BookingID     *uint64    // seats.booking_id (nullable)
	DeletedAt     *time.Time // seats.deleted_at (nullable)
	CreatedAt     time.Time  // seats.created_at
	UpdatedAt     time.Time  // seats.updated_at
}

// HeldBy reports whether the seat is currently locked by the given holder
// and the lock has not yet passed its expiry at the supplied instant.
// Expiry is judged against wall-clock time, independent of whether the
// sweeper has already reclaimed the row.
func (s *Seat) HeldBy(holderID uint64, now time.Time) bool {
	if s.Status != SeatLocked || s.HolderID == nil || s.LockExpiresAt == nil {
		return false
	}
	return *s.HolderID == holderID && s.LockExpiresAt.After(now)
}
