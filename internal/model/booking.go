package model

import "time"

// Booking status values. A booking is created PENDING inside the commit
// transaction; payment verification flips it to CONFIRMED, payment
// rejection to FAILED, and cancellation to CANCELLED (or REFUNDED when a
// verified payment must be returned).
const (
	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
	BookingFailed    = "FAILED"
	BookingRefunded  = "REFUNDED"
)

// Booking is the durable record of a committed purchase. It owns its
// seats: cancelling a booking is the only legitimate path from BOOKED
// back to AVAILABLE.
//
// Fields:
//
//	ID               – primary key identifier.
//	Ref              – opaque booking reference returned to clients.
//	EventID          – event being booked.
//	UserID           – buyer (possibly a bootstrapped guest account).
//	Status           – PENDING, CONFIRMED, CANCELLED, FAILED or REFUNDED.
//	TotalAmountCents – total price in cents across all seats.
//	PaymentRef       – external payment reference once verified (nullable).
//	SeatIDs          – denormalized set of seat identifiers.
//	CreatedAt        – creation timestamp.
//	UpdatedAt        – last update timestamp.
type Booking struct {
	ID               uint64    // bookings.id
	Ref              string    // bookings.booking_ref
	EventID          uint64    // bookings.event_id
	UserID           uint64    // bookings.user_id
	Status           string    // bookings.status
	TotalAmountCents uint32    // bookings.total_amount_cents
	PaymentRef       *string   // bookings.payment_ref (nullable)
	SeatIDs          []uint64  // booking_seats.seat_id rows
	CreatedAt        time.Time // bookings.created_at
	UpdatedAt        time.Time // bookings.updated_at
}

// BookingSeat links a booking to one seat at the price it was sold for.
type BookingSeat struct {
	ID         uint64 // booking_seats.id
	BookingID  uint64 // booking_seats.booking_id
	SeatID     uint64 // booking_seats.seat_id
	PriceCents uint32 // booking_seats.price_cents
}
