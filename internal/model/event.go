package model

import "time"

// Event is the unit an inventory belongs to. It carries an event-level
// summary counter pair mirroring the category counters; both are updated
// inside the booking transaction with the event row locked, which also
// serializes concurrent category-level mutations for the same event.
//
// Fields:
//
//	ID          – primary key identifier.
//	Name        – display name.
//	StartsAt    – when the event begins; cancellations are refused inside
//	              the configured window before this instant.
//	TotalSeats  – total sellable seats across all categories.
//	BookedSeats – seats currently in BOOKED status.
//	IsRetired   – set when the event is taken off sale; its seats are
//	              soft-deleted, never removed.
type Event struct {
	ID          uint64    // events.id
	Name        string    // events.name
	StartsAt    time.Time // events.starts_at
	TotalSeats  uint32    // events.total_seats
	BookedSeats uint32    // events.booked_seats
	IsRetired   bool      // events.is_retired
	CreatedAt   time.Time // events.created_at
	UpdatedAt   time.Time // events.updated_at
}
