package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/queue"
	"github.com/avshalomt/event-seat-booking/internal/repository"
)

// SectionRequest asks for a quantity of seats from one ticket category,
// letting the engine pick the concrete rows.
type SectionRequest struct {
	CategoryID uint64
	Quantity   int
}

// CommitInput describes one booking commit. Exactly one buyer identity is
// required: BuyerID for authenticated checkout, GuestEmail for guest
// checkout (the buyer account is bootstrapped inside the transaction).
// SeatIDs and Sections may be combined. ExpectedTotalCents, when nonzero,
// is checked against the server-side price so a stale client cannot be
// charged an amount it never saw.
type CommitInput struct {
	EventID            uint64
	BuyerID            uint64
	GuestEmail         string
	SeatIDs            []uint64
	Sections           []SectionRequest
	ExpectedTotalCents uint32
}

// BookingService implements the booking commit protocol and the unwind
// paths around it. Every mutation runs as one transaction through the
// TxRunner: either the booking exists with all its seats BOOKED and every
// counter adjusted, or nothing changed.
type BookingService struct {
	runner       *repository.TxRunner
	seats        *repository.SeatRepo
	reservations *repository.ReservationRepo
	expiry       *repository.ExpiryQueueRepo
	categories   *repository.CategoryRepo
	events       *repository.EventRepo
	bookings     *repository.BookingRepo
	users        *repository.UserRepo
	locks        *LockService
	availability *AvailabilityService
	notifier     Notifier

	opts         repository.TxOptions
	retry        repository.RetryPolicy
	cancelCutoff time.Duration
}

// NewBookingService wires a BookingService. cancelCutoff is how close to
// the event start customers may still cancel; admins are exempt.
func NewBookingService(
	runner *repository.TxRunner,
	seats *repository.SeatRepo,
	reservations *repository.ReservationRepo,
	expiry *repository.ExpiryQueueRepo,
	categories *repository.CategoryRepo,
	events *repository.EventRepo,
	bookings *repository.BookingRepo,
	users *repository.UserRepo,
	locks *LockService,
	availability *AvailabilityService,
	notifier Notifier,
	opts repository.TxOptions,
	retry repository.RetryPolicy,
	cancelCutoff time.Duration,
) *BookingService {
	return &BookingService{
		runner:       runner,
		seats:        seats,
		reservations: reservations,
		expiry:       expiry,
		categories:   categories,
		events:       events,
		bookings:     bookings,
		users:        users,
		locks:        locks,
		availability: availability,
		notifier:     notifier,
		opts:         opts,
		retry:        retry,
		cancelCutoff: cancelCutoff,
	}
}

// Commit executes the booking commit protocol in one transaction:
// resolve the buyer, lock the event row, claim the requested seats
// (explicit ones with blocking row locks, section ones with a skip-locked
// scan), price them, insert the PENDING booking, flip the seats to
// BOOKED, fold the buyer's holds into the booking and adjust the
// denormalized counters. Transient conflicts retry the whole unit; any
// other failure rolls everything back.
func (s *BookingService) Commit(ctx context.Context, in CommitInput) (*model.Booking, error) {
	if len(in.SeatIDs) == 0 && len(in.Sections) == 0 {
		return nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("no seats requested")}
	}
	if in.BuyerID == 0 && in.GuestEmail == "" {
		return nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("buyer identity required")}
	}
	for _, sec := range in.Sections {
		if sec.Quantity <= 0 {
			return nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("section quantity must be positive")}
		}
	}
	now := time.Now().UTC()

	var booking model.Booking
	var closedReservations []uint64
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		booking, closedReservations = model.Booking{}, nil

		buyerID := in.BuyerID
		if buyerID == 0 {
			id, err := s.users.EnsureGuestTx(ctx, tx, in.GuestEmail)
			if err != nil {
				return err
			}
			buyerID = id
		}

		if _, err := s.events.LockTx(ctx, tx, in.EventID); err != nil {
			return err
		}

		var claimed []model.Seat
		if len(in.SeatIDs) > 0 {
			seats, err := s.seats.LockExplicitTx(ctx, tx, in.EventID, in.SeatIDs, buyerID, now)
			if err != nil {
				return err
			}
			claimed = append(claimed, seats...)
		}
		if len(in.Sections) > 0 {
			catIDs := make([]uint64, len(in.Sections))
			for i, sec := range in.Sections {
				catIDs[i] = sec.CategoryID
			}
			if _, err := s.categories.LockTx(ctx, tx, catIDs); err != nil {
				return err
			}
			for _, sec := range in.Sections {
				seats, err := s.seats.AllocateSectionTx(ctx, tx, in.EventID, sec.CategoryID, sec.Quantity)
				if err != nil {
					return err
				}
				claimed = append(claimed, seats...)
			}
		}

		seatIDs := make([]uint64, len(claimed))
		bookingSeats := make([]model.BookingSeat, len(claimed))
		var total uint32
		for i, seat := range claimed {
			seatIDs[i] = seat.ID
			bookingSeats[i] = model.BookingSeat{SeatID: seat.ID, PriceCents: seat.PriceCents}
			total += seat.PriceCents
		}
		if in.ExpectedTotalCents != 0 && in.ExpectedTotalCents != total {
			return &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("total does not match current prices")}
		}

		booking = model.Booking{
			Ref:              uuid.NewString(),
			EventID:          in.EventID,
			UserID:           buyerID,
			Status:           model.BookingPending,
			TotalAmountCents: total,
			SeatIDs:          seatIDs,
		}
		if err := s.bookings.CreateTx(ctx, tx, &booking, bookingSeats); err != nil {
			return err
		}
		if err := s.seats.MarkBookedTx(ctx, tx, seatIDs, booking.ID); err != nil {
			return err
		}

		closed, err := s.confirmHoldsTx(ctx, tx, buyerID, seatIDs)
		if err != nil {
			return err
		}
		closedReservations = closed

		if err := s.adjustCountersTx(ctx, tx, in.EventID, seatIDs, +1); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.locks.CloseTimersForHolder(closedReservations)
	s.availability.Invalidate(ctx, in.EventID)
	_ = s.notifier.Publish(ctx, scopeEvent(in.EventID), queue.EventSeatsChanged, queue.SeatStatusChangedEvent{
		EventID:   in.EventID,
		SeatIDs:   booking.SeatIDs,
		Status:    model.SeatBooked,
		HolderID:  booking.UserID,
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	})
	return &booking, nil
}

// confirmHoldsTx folds the buyer's PENDING reservations over the booked
// seats into the booking: overlapping reservations close as CONFIRMED,
// seats they held beyond the booking are released, and their expiry
// entries disappear so neither timer nor sweep touches them again.
func (s *BookingService) confirmHoldsTx(ctx context.Context, tx *sql.Tx, buyerID uint64, seatIDs []uint64) ([]uint64, error) {
	resIDs, err := s.reservations.PendingByHolderForSeatsTx(ctx, tx, buyerID, seatIDs)
	if err != nil {
		return nil, err
	}
	booked := make(map[uint64]bool, len(seatIDs))
	for _, id := range seatIDs {
		booked[id] = true
	}
	var closed []uint64
	for _, rid := range resIDs {
		held, err := s.reservations.SeatIDsTx(ctx, tx, rid)
		if err != nil {
			return nil, err
		}
		var leftovers []uint64
		for _, sid := range held {
			if !booked[sid] {
				leftovers = append(leftovers, sid)
			}
		}
		if len(leftovers) > 0 {
			if _, err := s.seats.ReleaseByHolderTx(ctx, tx, leftovers, buyerID); err != nil {
				return nil, err
			}
		}
		if _, err := s.reservations.CloseTx(ctx, tx, rid, model.ReservationPending, model.ReservationConfirmed); err != nil {
			return nil, err
		}
		if err := s.expiry.DeleteByReservationTx(ctx, tx, rid); err != nil {
			return nil, err
		}
		closed = append(closed, rid)
	}
	return closed, nil
}

// adjustCountersTx moves the denormalized booked counters by sign times
// the seat counts, per category in ascending ID order and then on the
// event row. The guarded updates refuse adjustments that would take a
// counter out of range.
func (s *BookingService) adjustCountersTx(ctx context.Context, tx *sql.Tx, eventID uint64, seatIDs []uint64, sign int) error {
	counts, err := s.seats.CategoryCountsTx(ctx, tx, seatIDs)
	if err != nil {
		return err
	}
	catIDs := make([]uint64, 0, len(counts))
	for id := range counts {
		catIDs = append(catIDs, id)
	}
	sort.Slice(catIDs, func(i, j int) bool { return catIDs[i] < catIDs[j] })
	for _, id := range catIDs {
		if err := s.categories.AdjustBookedTx(ctx, tx, id, sign*counts[id]); err != nil {
			return err
		}
	}
	return s.events.AdjustBookedTx(ctx, tx, eventID, sign*len(seatIDs))
}

// Cancel unwinds a booking: PENDING or CONFIRMED bookings close as
// CANCELLED (REFUNDED when a payment was captured), their seats return to
// AVAILABLE and the counters move back down. Customers may cancel only
// their own bookings and only up to the cutoff before the event starts;
// admins are bound by neither.
func (s *BookingService) Cancel(ctx context.Context, bookingRef string, userID uint64, isAdmin bool) (*model.Booking, error) {
	now := time.Now().UTC()

	var booking model.Booking
	var released []uint64
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		booking, released = model.Booking{}, nil

		b, err := s.bookings.GetByRefTx(ctx, tx, bookingRef)
		if err != nil {
			return err
		}
		if b.UserID != userID && !isAdmin {
			return &repository.StoreError{Kind: repository.ErrForbidden, Err: errors.New("not the booking owner")}
		}
		if b.Status != model.BookingPending && b.Status != model.BookingConfirmed {
			return &repository.StoreError{Kind: repository.ErrConflict, Err: errors.New("booking is not cancellable")}
		}

		ev, err := s.events.LockTx(ctx, tx, b.EventID)
		if err != nil && !errors.Is(err, repository.ErrEventRetired) {
			return err
		}
		if !isAdmin && ev != nil && now.After(ev.StartsAt.Add(-s.cancelCutoff)) {
			return &repository.StoreError{Kind: repository.ErrCancellationWindow, Err: errors.New("too close to event start")}
		}

		to := model.BookingCancelled
		if b.PaymentRef != nil {
			to = model.BookingRefunded
		}
		ok, err := s.bookings.UpdateStatusTx(ctx, tx, b.ID, b.Status, to)
		if err != nil {
			return err
		}
		if !ok {
			return &repository.StoreError{Kind: repository.ErrConflict, Err: errors.New("booking changed state concurrently")}
		}

		got, err := s.seats.ReleaseByBookingTx(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if err := s.adjustCountersTx(ctx, tx, b.EventID, got, -1); err != nil {
			return err
		}
		b.Status = to
		booking, released = *b, got
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.availability.Invalidate(ctx, booking.EventID)
	_ = s.notifier.Publish(ctx, scopeBooking(booking.ID), queue.EventBookingCancelled, queue.BookingCancelledEvent{
		BookingID:   booking.ID,
		BookingRef:  booking.Ref,
		UserID:      booking.UserID,
		EventID:     booking.EventID,
		SeatIDs:     released,
		Refunded:    booking.Status == model.BookingRefunded,
		CancelledAt: time.Now().UTC().Format(time.RFC3339),
	})
	if len(released) > 0 {
		_ = s.notifier.Publish(ctx, scopeEvent(booking.EventID), queue.EventSeatsChanged, queue.SeatStatusChangedEvent{
			EventID:   booking.EventID,
			SeatIDs:   released,
			Status:    model.SeatAvailable,
			ChangedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return &booking, nil
}

// ConfirmPayment records a captured payment against a PENDING booking and
// moves it to CONFIRMED. Reported by the payment provider's webhook, so
// the call is strict: a booking in any other state rejects the payment
// reference rather than silently absorbing it.
func (s *BookingService) ConfirmPayment(ctx context.Context, bookingRef, paymentRef string) (*model.Booking, error) {
	if paymentRef == "" {
		return nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("payment reference required")}
	}

	var booking model.Booking
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		b, err := s.bookings.GetByRefTx(ctx, tx, bookingRef)
		if err != nil {
			return err
		}
		if err := s.bookings.SetPaymentTx(ctx, tx, b.ID, paymentRef); err != nil {
			return err
		}
		b.Status = model.BookingConfirmed
		b.PaymentRef = &paymentRef
		booking = *b
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventName := ""
	if ev, err := s.events.GetByID(ctx, booking.EventID); err == nil {
		eventName = ev.Name
	}
	seatIDs, _ := s.bookingSeatIDs(ctx, booking.ID)
	_ = s.notifier.Publish(ctx, scopeBooking(booking.ID), queue.EventBookingConfirmed, queue.BookingConfirmedEvent{
		BookingID:        booking.ID,
		BookingRef:       booking.Ref,
		UserID:           booking.UserID,
		EventID:          booking.EventID,
		EventName:        eventName,
		SeatIDs:          seatIDs,
		TotalAmountCents: booking.TotalAmountCents,
		ConfirmedAt:      time.Now().UTC().Format(time.RFC3339),
	})
	return &booking, nil
}

// RejectPayment marks a PENDING booking as FAILED after the payment
// provider declined, releasing its seats back to the pool.
func (s *BookingService) RejectPayment(ctx context.Context, bookingRef string) (*model.Booking, error) {
	var booking model.Booking
	var released []uint64
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		booking, released = model.Booking{}, nil

		b, err := s.bookings.GetByRefTx(ctx, tx, bookingRef)
		if err != nil {
			return err
		}
		ok, err := s.bookings.UpdateStatusTx(ctx, tx, b.ID, model.BookingPending, model.BookingFailed)
		if err != nil {
			return err
		}
		if !ok {
			return &repository.StoreError{Kind: repository.ErrConflict, Err: errors.New("booking is not awaiting payment")}
		}
		got, err := s.seats.ReleaseByBookingTx(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if err := s.adjustCountersTx(ctx, tx, b.EventID, got, -1); err != nil {
			return err
		}
		b.Status = model.BookingFailed
		booking, released = *b, got
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.availability.Invalidate(ctx, booking.EventID)
	if len(released) > 0 {
		_ = s.notifier.Publish(ctx, scopeEvent(booking.EventID), queue.EventSeatsChanged, queue.SeatStatusChangedEvent{
			EventID:   booking.EventID,
			SeatIDs:   released,
			Status:    model.SeatAvailable,
			ChangedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return &booking, nil
}

// GetForUser loads one booking, enforcing that customers only see their
// own.
func (s *BookingService) GetForUser(ctx context.Context, bookingID, userID uint64, isAdmin bool) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID && !isAdmin {
		return nil, &repository.StoreError{Kind: repository.ErrForbidden, Err: errors.New("not the booking owner")}
	}
	return b, nil
}

// ListForUser lists the user's bookings, newest first.
func (s *BookingService) ListForUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}

func (s *BookingService) bookingSeatIDs(ctx context.Context, bookingID uint64) ([]uint64, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return b.SeatIDs, nil
}
