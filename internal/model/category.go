package model

import "time"

// TicketCategory groups seats by price tier within an event and carries
// denormalized availability counters for O(1) checks. The counters are a
// cache over the seat rows: they are mutated only inside the same
// transaction as the seat-status change they reflect, and a periodic
// reconciliation job recomputes them from seat rows when they drift.
//
// Fields:
//
//	ID          – primary key identifier.
//	EventID     – owning event.
//	Name        – category name (e.g. "GA", "VIP").
//	PriceCents  – default price in cents for seats in this category.
//	TotalSeats  – total number of sellable seats.
//	BookedSeats – number of seats currently in BOOKED status.
type TicketCategory struct {
	ID          uint64    // ticket_categories.id
	EventID     uint64    // ticket_categories.event_id
	Name        string    // ticket_categories.name
	PriceCents  uint32    // ticket_categories.price_cents
	TotalSeats  uint32    // ticket_categories.total_seats
	BookedSeats uint32    // ticket_categories.booked_seats
	CreatedAt   time.Time // ticket_categories.created_at
	UpdatedAt   time.Time // ticket_categories.updated_at
}

// Available returns the derived free-seat count. It must never be trusted
// over the underlying seat rows during reconciliation.
func (c *TicketCategory) Available() uint32 {
	if c.BookedSeats > c.TotalSeats {
		return 0
	}
	return c.TotalSeats - c.BookedSeats
}
