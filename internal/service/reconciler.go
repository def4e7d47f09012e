package service

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/avshalomt/event-seat-booking/internal/repository"
)

// Reconciler periodically rewrites the denormalized booked counters from
// the seat rows. The counters are summaries, not truth; in the absence of
// bugs every repair pass finds nothing to fix, and when something does
// drift a pass puts it right instead of letting it compound.
type Reconciler struct {
	runner     *repository.TxRunner
	events     *repository.EventRepo
	categories *repository.CategoryRepo
	interval   time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewReconciler returns a reconciler running a repair pass every interval.
func NewReconciler(runner *repository.TxRunner, events *repository.EventRepo, categories *repository.CategoryRepo, interval time.Duration) *Reconciler {
	return &Reconciler{
		runner:     runner,
		events:     events,
		categories: categories,
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the repair loop in a goroutine.
func (r *Reconciler) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval)
				if n, err := r.RepairAll(ctx); err != nil {
					log.Printf("reconciler: pass failed: %v", err)
				} else if n > 0 {
					log.Printf("reconciler: repaired %d drifted counter(s)", n)
				}
				cancel()
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

// RepairAll repairs the counters of every active event and returns how
// many rows were corrected.
func (r *Reconciler) RepairAll(ctx context.Context) (int64, error) {
	ids, err := r.events.ActiveIDs(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		n, err := r.RepairEvent(ctx, id)
		if err != nil {
			log.Printf("reconciler: repair event %d: %v", id, err)
			continue
		}
		total += n
	}
	return total, nil
}

// RepairEvent recomputes one event's category and summary counters from
// its BOOKED seat rows, in a single transaction so a concurrent commit
// cannot observe half-repaired numbers.
func (r *Reconciler) RepairEvent(ctx context.Context, eventID uint64) (int64, error) {
	var repaired int64
	err := r.runner.RunInTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		repaired = 0
		n, err := r.categories.RepairTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		repaired += n
		n, err = r.events.RepairTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		repaired += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return repaired, nil
}
