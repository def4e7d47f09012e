package service

import (
	"context"
	"log"
	"time"

	"github.com/avshalomt/event-seat-booking/internal/repository"
)

// Sweeper is the durable half of lock expiry. It periodically scans the
// persisted expiry queue for overdue holds and expires each one through
// LockService.ReleaseExpired. Timers lost to a crash or restart do not
// matter: the queue survives, so the next sweep picks the holds up.
type Sweeper struct {
	locks    *LockService
	expiry   *repository.ExpiryQueueRepo
	interval time.Duration
	batch    int

	stop chan struct{}
	done chan struct{}
}

// NewSweeper returns a sweeper scanning every interval, processing at
// most batch overdue holds per pass.
func NewSweeper(locks *LockService, expiry *repository.ExpiryQueueRepo, interval time.Duration, batch int) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		locks:    locks,
		expiry:   expiry,
		interval: interval,
		batch:    batch,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. One pass runs immediately
// so holds that expired while the process was down are released at boot,
// not one interval later.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		s.runOnce()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.runOnce()
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	if n, err := s.SweepOnce(ctx); err != nil {
		log.Printf("sweeper: pass failed: %v", err)
	} else if n > 0 {
		log.Printf("sweeper: released %d expired hold(s)", n)
	}
}

// SweepOnce performs a single pass and returns how many holds it expired.
// Each hold is expired in its own transaction, so one poisoned entry
// cannot block the rest of the batch; entries already handled by a
// fallback timer come back zero and are counted as skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	entries, err := s.expiry.Due(ctx, s.batch)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, e := range entries {
		seats, err := s.locks.ReleaseExpired(ctx, e.ReservationID)
		if err != nil {
			log.Printf("sweeper: expire reservation %d: %v", e.ReservationID, err)
			continue
		}
		if len(seats) > 0 {
			released++
		}
	}
	return released, nil
}
