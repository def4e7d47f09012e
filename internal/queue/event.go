// Package queue defines message payloads exchanged over the message broker
// and the background consumer that audits them.
package queue

// Event names used as the second segment of the routing key, e.g.
// "event.42.seats_changed" or "booking.7.confirmed".
const (
	EventSeatsChanged       = "seats_changed"
	EventBookingConfirmed   = "confirmed"
	EventBookingCancelled   = "cancelled"
	EventReservationExpired = "expired"
)

// SeatStatusChangedEvent is published whenever seats transition between
// AVAILABLE, LOCKED and BOOKED. Consumers use it to refresh seat maps
// without polling the primary database.
type SeatStatusChangedEvent struct {
	EventID   uint64   `json:"event_id"`
	SeatIDs   []uint64 `json:"seat_ids"`
	Status    string   `json:"status"`
	HolderID  uint64   `json:"holder_id,omitempty"`
	ChangedAt string   `json:"changed_at"`
}

// BookingConfirmedEvent is published when a booking commit succeeds. It
// carries enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        uint64   `json:"booking_id"`
	BookingRef       string   `json:"booking_ref"`
	UserID           uint64   `json:"user_id"`
	EventID          uint64   `json:"event_id"`
	EventName        string   `json:"event_name"`
	SeatIDs          []uint64 `json:"seat_ids"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

// BookingCancelledEvent is published when a booking is cancelled or
// refunded and its seats return to the pool.
type BookingCancelledEvent struct {
	BookingID   uint64   `json:"booking_id"`
	BookingRef  string   `json:"booking_ref"`
	UserID      uint64   `json:"user_id"`
	EventID     uint64   `json:"event_id"`
	SeatIDs     []uint64 `json:"seat_ids"`
	Refunded    bool     `json:"refunded"`
	CancelledAt string   `json:"cancelled_at"`
}

// ReservationExpiredEvent is published when a seat hold lapses and its
// seats are released, whether by the fallback timer or by the sweep.
type ReservationExpiredEvent struct {
	ReservationID uint64   `json:"reservation_id"`
	HolderID      uint64   `json:"holder_id"`
	EventID       uint64   `json:"event_id"`
	SeatIDs       []uint64 `json:"seat_ids"`
	ExpiredAt     string   `json:"expired_at"`
}
