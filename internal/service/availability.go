package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avshalomt/event-seat-booking/internal/repository"
)

// CategoryAvailability is one ticket category's share of an availability
// snapshot.
type CategoryAvailability struct {
	CategoryID uint64 `json:"category_id"`
	Name       string `json:"name"`
	PriceCents uint32 `json:"price_cents"`
	TotalSeats uint32 `json:"total_seats"`
	Available  uint32 `json:"available"`
}

// AvailabilitySnapshot is the cached per-event availability summary
// served to browsing clients. It is derived from the denormalized
// counters, so it can briefly trail the seat rows; booking decisions
// never read it.
type AvailabilitySnapshot struct {
	EventID    uint64                 `json:"event_id"`
	TotalSeats uint32                 `json:"total_seats"`
	Available  uint32                 `json:"available"`
	Categories []CategoryAvailability `json:"categories"`
	AsOf       string                 `json:"as_of"`
}

// AvailabilityService serves availability snapshots through a small Redis
// cache. A nil Redis client disables caching: every read goes to the
// database and the service still works.
type AvailabilityService struct {
	rdb        *redis.Client
	events     *repository.EventRepo
	categories *repository.CategoryRepo
	ttl        time.Duration
}

// NewAvailabilityService wires the cache. rdb may be nil.
func NewAvailabilityService(rdb *redis.Client, events *repository.EventRepo, categories *repository.CategoryRepo, ttl time.Duration) *AvailabilityService {
	return &AvailabilityService{rdb: rdb, events: events, categories: categories, ttl: ttl}
}

func availabilityKey(eventID uint64) string { return fmt.Sprintf("avail:event:%d", eventID) }

// Get returns the availability snapshot for an event, from cache when
// fresh, recomputed from the counters otherwise. Cache failures degrade
// to a database read.
func (s *AvailabilityService) Get(ctx context.Context, eventID uint64) (*AvailabilitySnapshot, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, availabilityKey(eventID)).Bytes()
		if err == nil {
			var snap AvailabilitySnapshot
			if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
				return &snap, nil
			}
		} else if err != redis.Nil {
			log.Printf("availability: cache read for event %d failed: %v", eventID, err)
		}
	}

	snap, err := s.compute(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if s.rdb != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if err := s.rdb.Set(ctx, availabilityKey(eventID), raw, s.ttl).Err(); err != nil {
				log.Printf("availability: cache write for event %d failed: %v", eventID, err)
			}
		}
	}
	return snap, nil
}

// Invalidate drops the cached snapshot after a commit, cancel or release
// so the next read reflects the change. Failures are logged only; the TTL
// bounds staleness either way.
func (s *AvailabilityService) Invalidate(ctx context.Context, eventID uint64) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, availabilityKey(eventID)).Err(); err != nil {
		log.Printf("availability: invalidate for event %d failed: %v", eventID, err)
	}
}

func (s *AvailabilityService) compute(ctx context.Context, eventID uint64) (*AvailabilitySnapshot, error) {
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	cats, err := s.categories.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, repository.MapError(err)
	}
	snap := &AvailabilitySnapshot{
		EventID:    ev.ID,
		TotalSeats: ev.TotalSeats,
		Available:  ev.TotalSeats - ev.BookedSeats,
		AsOf:       time.Now().UTC().Format(time.RFC3339),
	}
	for _, c := range cats {
		snap.Categories = append(snap.Categories, CategoryAvailability{
			CategoryID: c.ID,
			Name:       c.Name,
			PriceCents: c.PriceCents,
			TotalSeats: c.TotalSeats,
			Available:  c.Available(),
		})
	}
	return snap, nil
}
