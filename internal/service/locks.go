package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/queue"
	"github.com/avshalomt/event-seat-booking/internal/repository"
)

// scopeEvent, scopeBooking and scopeUser build notification routing
// scopes, e.g. "event.42".
func scopeEvent(id uint64) string   { return fmt.Sprintf("event.%d", id) }
func scopeBooking(id uint64) string { return fmt.Sprintf("booking.%d", id) }
func scopeUser(id uint64) string    { return fmt.Sprintf("user.%d", id) }

// LockService manages seat holds: granting them for explicit seats or by
// section, extending and releasing them, and expiring them when the TTL
// lapses. Expiry is dual-layered: an in-process fallback timer per
// reservation gives low-latency release, and the durable sweep (see
// Sweeper) catches everything the timers miss across restarts. Both
// layers funnel into ReleaseExpired, whose guarded PENDING to EXPIRED
// transition makes double firing harmless.
type LockService struct {
	runner       *repository.TxRunner
	seats        *repository.SeatRepo
	reservations *repository.ReservationRepo
	expiry       *repository.ExpiryQueueRepo
	notifier     Notifier

	ttl   time.Duration
	opts  repository.TxOptions
	retry repository.RetryPolicy

	mu       sync.Mutex
	timers   map[uint64]*time.Timer
	timersOn bool
}

// NewLockService wires a LockService. Fallback timers start enabled;
// tests and sweep-only deployments disable them with EnableFallbackTimers.
func NewLockService(runner *repository.TxRunner, seats *repository.SeatRepo, reservations *repository.ReservationRepo, expiry *repository.ExpiryQueueRepo, notifier Notifier, ttl time.Duration, opts repository.TxOptions, retry repository.RetryPolicy) *LockService {
	return &LockService{
		runner:       runner,
		seats:        seats,
		reservations: reservations,
		expiry:       expiry,
		notifier:     notifier,
		ttl:          ttl,
		opts:         opts,
		retry:        retry,
		timers:       make(map[uint64]*time.Timer),
		timersOn:     true,
	}
}

// TTL reports the hold duration granted to new reservations.
func (s *LockService) TTL() time.Duration { return s.ttl }

// Grant locks the named seats for the holder and opens a PENDING
// reservation over them. Seats already held by the same holder are folded
// in: any earlier pending reservation of the holder that overlaps the
// request is replaced by the new one, and its non-requested seats are
// released. Seats held by anyone else fail the whole request with a
// SeatUnavailableError naming the offenders.
func (s *LockService) Grant(ctx context.Context, eventID, holderID uint64, seatIDs []uint64) (*model.SeatReservation, []model.Seat, error) {
	if len(seatIDs) == 0 {
		return nil, nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("no seats requested")}
	}
	now := time.Now().UTC()
	expires := now.Add(s.ttl)

	var rec model.SeatReservation
	var locked []model.Seat
	var replaced []uint64
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		rec, locked, replaced = model.SeatReservation{}, nil, nil

		seats, err := s.seats.LockExplicitTx(ctx, tx, eventID, seatIDs, holderID, now)
		if err != nil {
			return err
		}

		prior, err := s.reservations.PendingByHolderForSeatsTx(ctx, tx, holderID, seatIDs)
		if err != nil {
			return err
		}
		requested := make(map[uint64]bool, len(seatIDs))
		for _, id := range seatIDs {
			requested[id] = true
		}
		for _, rid := range prior {
			priorSeats, err := s.reservations.SeatIDsTx(ctx, tx, rid)
			if err != nil {
				return err
			}
			var leftovers []uint64
			for _, sid := range priorSeats {
				if !requested[sid] {
					leftovers = append(leftovers, sid)
				}
			}
			if len(leftovers) > 0 {
				if _, err := s.seats.ReleaseByHolderTx(ctx, tx, leftovers, holderID); err != nil {
					return err
				}
			}
			if _, err := s.reservations.CloseTx(ctx, tx, rid, model.ReservationPending, model.ReservationReleased); err != nil {
				return err
			}
			if err := s.expiry.DeleteByReservationTx(ctx, tx, rid); err != nil {
				return err
			}
			replaced = append(replaced, rid)
		}

		if err := s.seats.MarkLockedTx(ctx, tx, seatIDs, holderID, expires); err != nil {
			return err
		}
		rec = model.SeatReservation{Ref: uuid.NewString(), HolderID: holderID, EventID: eventID, ExpiresAt: expires}
		if err := s.reservations.CreateTx(ctx, tx, &rec, seatIDs); err != nil {
			return err
		}
		if err := s.expiry.CreateTx(ctx, tx, &model.ExpiryQueueEntry{ReservationID: rec.ID, HolderID: holderID, ExpiresAt: expires}); err != nil {
			return err
		}
		locked = seats
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for _, rid := range replaced {
		s.cancelTimer(rid)
	}
	s.scheduleExpiry(rec.ID, expires)
	s.publishSeats(ctx, eventID, seatIDs, model.SeatLocked, holderID)
	return &rec, locked, nil
}

// GrantSection locks quantity seats from the category, letting the
// database pick concrete rows with a skip-locked scan, and opens a
// PENDING reservation over them. When fewer than quantity unclaimed seats
// exist the request fails whole with an InsufficientInventoryError.
func (s *LockService) GrantSection(ctx context.Context, eventID, categoryID uint64, quantity int, holderID uint64) (*model.SeatReservation, []model.Seat, error) {
	if quantity <= 0 {
		return nil, nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("quantity must be positive")}
	}
	expires := time.Now().UTC().Add(s.ttl)

	var rec model.SeatReservation
	var picked []model.Seat
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		rec, picked = model.SeatReservation{}, nil

		seats, err := s.seats.AllocateSectionTx(ctx, tx, eventID, categoryID, quantity)
		if err != nil {
			return err
		}
		ids := make([]uint64, len(seats))
		for i, seat := range seats {
			ids[i] = seat.ID
		}
		if err := s.seats.MarkLockedTx(ctx, tx, ids, holderID, expires); err != nil {
			return err
		}
		rec = model.SeatReservation{Ref: uuid.NewString(), HolderID: holderID, EventID: eventID, ExpiresAt: expires}
		if err := s.reservations.CreateTx(ctx, tx, &rec, ids); err != nil {
			return err
		}
		if err := s.expiry.CreateTx(ctx, tx, &model.ExpiryQueueEntry{ReservationID: rec.ID, HolderID: holderID, ExpiresAt: expires}); err != nil {
			return err
		}
		picked = seats
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uint64, len(picked))
	for i, seat := range picked {
		ids[i] = seat.ID
	}
	s.scheduleExpiry(rec.ID, expires)
	s.publishSeats(ctx, eventID, ids, model.SeatLocked, holderID)
	return &rec, picked, nil
}

// Extend pushes the expiry of every PENDING reservation the holder has on
// the event out to a fresh TTL from now, rewriting the seat rows, the
// ledger and the expiry queue together. Returns the new expiry.
func (s *LockService) Extend(ctx context.Context, eventID, holderID uint64) (time.Time, error) {
	expires := time.Now().UTC().Add(s.ttl)

	var extended []uint64
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		extended = nil

		recs, err := s.reservations.PendingByHolderTx(ctx, tx, holderID, eventID)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return &repository.StoreError{Kind: repository.ErrNotHolder, Err: errors.New("no active hold to extend")}
		}
		var seatIDs []uint64
		for _, rec := range recs {
			ids, err := s.reservations.SeatIDsTx(ctx, tx, rec.ID)
			if err != nil {
				return err
			}
			seatIDs = append(seatIDs, ids...)
			extended = append(extended, rec.ID)
		}
		if _, err := s.seats.ExtendLockTx(ctx, tx, seatIDs, holderID, expires); err != nil {
			return err
		}
		if _, err := s.reservations.ExtendTx(ctx, tx, holderID, seatIDs, expires); err != nil {
			return err
		}
		return s.expiry.UpdateExpiryTx(ctx, tx, extended, expires)
	})
	if err != nil {
		return time.Time{}, err
	}

	for _, rid := range extended {
		s.scheduleExpiry(rid, expires)
	}
	return expires, nil
}

// Release unlocks the given seats held by the holder on the event, or all
// of the holder's held seats there when seatIDs is empty. Reservations
// whose last seat is released are closed as RELEASED; a reservation that
// still guards other seats stays open. Releasing seats that are not held
// is a no-op, so the call is idempotent.
func (s *LockService) Release(ctx context.Context, eventID, holderID uint64, seatIDs []uint64) ([]uint64, error) {
	var released []uint64
	var closed []uint64
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		released, closed = nil, nil

		target := seatIDs
		if len(target) == 0 {
			recs, err := s.reservations.PendingByHolderTx(ctx, tx, holderID, eventID)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				ids, err := s.reservations.SeatIDsTx(ctx, tx, rec.ID)
				if err != nil {
					return err
				}
				target = append(target, ids...)
			}
		}
		if len(target) == 0 {
			return nil
		}

		got, err := s.seats.ReleaseByHolderTx(ctx, tx, target, holderID)
		if err != nil {
			return err
		}
		released = got

		resIDs, err := s.reservations.PendingByHolderForSeatsTx(ctx, tx, holderID, target)
		if err != nil {
			return err
		}
		for _, rid := range resIDs {
			n, err := s.reservations.HeldSeatCountTx(ctx, tx, rid, holderID)
			if err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			if _, err := s.reservations.CloseTx(ctx, tx, rid, model.ReservationPending, model.ReservationReleased); err != nil {
				return err
			}
			if err := s.expiry.DeleteByReservationTx(ctx, tx, rid); err != nil {
				return err
			}
			closed = append(closed, rid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rid := range closed {
		s.cancelTimer(rid)
	}
	if len(released) > 0 {
		s.publishSeats(ctx, eventID, released, model.SeatAvailable, 0)
	}
	return released, nil
}

// IsValid reports whether the reservation is still a live hold of the
// given holder: PENDING in the ledger with an expiry in the future. The
// ledger is authoritative; the seat-row columns are not consulted.
func (s *LockService) IsValid(ctx context.Context, reservationID, holderID uint64) (bool, error) {
	rec, err := s.reservations.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(repository.MapError(err), repository.ErrNotFound) {
			return false, nil
		}
		return false, repository.MapError(err)
	}
	if rec.HolderID != holderID || rec.Status != model.ReservationPending {
		return false, nil
	}
	return rec.ExpiresAt.After(time.Now().UTC()), nil
}

// ReleaseExpired expires one reservation: the guarded PENDING to EXPIRED
// transition claims it, its seats return to AVAILABLE and its expiry
// entry is removed, all in one transaction. A reservation that was
// already closed, or whose expiry moved into the future since the caller
// looked, is left alone. Both the fallback timer and the durable sweep
// call this, which is what makes their overlap safe.
func (s *LockService) ReleaseExpired(ctx context.Context, reservationID uint64) ([]uint64, error) {
	now := time.Now().UTC()

	var released []uint64
	var holderID, eventID uint64
	var rearm time.Time
	err := s.runner.RunWithRetry(ctx, s.opts, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		released, rearm = nil, time.Time{}

		rec, err := s.reservations.GetTx(ctx, tx, reservationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if rec.Status != model.ReservationPending {
			return nil
		}
		if rec.ExpiresAt.After(now) {
			// Extended since the caller decided to fire. Re-arm instead.
			rearm = rec.ExpiresAt
			return nil
		}
		ok, err := s.reservations.CloseTx(ctx, tx, reservationID, model.ReservationPending, model.ReservationExpired)
		if err != nil || !ok {
			return err
		}
		seatIDs, err := s.reservations.SeatIDsTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		got, err := s.seats.ReleaseByHolderTx(ctx, tx, seatIDs, rec.HolderID)
		if err != nil {
			return err
		}
		if err := s.expiry.DeleteByReservationTx(ctx, tx, reservationID); err != nil {
			return err
		}
		released = got
		holderID, eventID = rec.HolderID, rec.EventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rearm.IsZero() {
		s.scheduleExpiry(reservationID, rearm)
		return nil, nil
	}
	s.cancelTimer(reservationID)
	if len(released) > 0 {
		s.publishSeats(ctx, eventID, released, model.SeatAvailable, 0)
		_ = s.notifier.Publish(ctx, scopeUser(holderID), queue.EventReservationExpired, queue.ReservationExpiredEvent{
			ReservationID: reservationID,
			HolderID:      holderID,
			EventID:       eventID,
			SeatIDs:       released,
			ExpiredAt:     time.Now().UTC().Format(time.RFC3339),
		})
	}
	return released, nil
}

// CloseTimersForHolder drops fallback timers for reservations that were
// confirmed or released by another path, e.g. the booking commit.
func (s *LockService) CloseTimersForHolder(reservationIDs []uint64) {
	for _, rid := range reservationIDs {
		s.cancelTimer(rid)
	}
}

// EnableFallbackTimers toggles the in-process timer layer. With timers
// off, expiry is carried entirely by the sweep.
func (s *LockService) EnableFallbackTimers(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timersOn = on
	if !on {
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
	}
}

// StopTimers stops every pending fallback timer. Called on shutdown; the
// durable queue ensures the holds still expire after restart.
func (s *LockService) StopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *LockService) scheduleExpiry(reservationID uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timersOn {
		return
	}
	if t, ok := s.timers[reservationID]; ok {
		t.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.timers[reservationID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, reservationID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.ReleaseExpired(ctx, reservationID); err != nil {
			// The sweep will retry from the durable queue.
			log.Printf("lock-service: timed release of reservation %d failed: %v", reservationID, err)
		}
	})
}

func (s *LockService) cancelTimer(reservationID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[reservationID]; ok {
		t.Stop()
		delete(s.timers, reservationID)
	}
}

func (s *LockService) publishSeats(ctx context.Context, eventID uint64, seatIDs []uint64, status string, holderID uint64) {
	_ = s.notifier.Publish(ctx, scopeEvent(eventID), queue.EventSeatsChanged, queue.SeatStatusChangedEvent{
		EventID:   eventID,
		SeatIDs:   seatIDs,
		Status:    status,
		HolderID:  holderID,
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	})
}
