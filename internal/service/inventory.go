package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/repository"
)

// CategoryInput describes one ticket category at event setup time. Seats
// are generated as "<LabelPrefix>-1" through "<LabelPrefix>-<SeatCount>".
type CategoryInput struct {
	Name        string
	PriceCents  uint32
	SeatCount   uint32
	LabelPrefix string
}

// CreateEventInput describes a new event and its full seat inventory.
type CreateEventInput struct {
	Name       string
	StartsAt   time.Time
	Categories []CategoryInput
}

// InventoryService handles event setup and retirement. Setup is not a
// hot path: events are created before sales open, so plain sequential
// inserts are fine and only retirement needs a transaction.
type InventoryService struct {
	runner       *repository.TxRunner
	events       *repository.EventRepo
	categories   *repository.CategoryRepo
	seats        *repository.SeatRepo
	availability *AvailabilityService
}

// NewInventoryService wires an InventoryService.
func NewInventoryService(runner *repository.TxRunner, events *repository.EventRepo, categories *repository.CategoryRepo, seats *repository.SeatRepo, availability *AvailabilityService) *InventoryService {
	return &InventoryService{runner: runner, events: events, categories: categories, seats: seats, availability: availability}
}

// CreateEvent creates the event, its categories and every seat row, all
// AVAILABLE.
func (s *InventoryService) CreateEvent(ctx context.Context, in CreateEventInput) (*model.Event, []model.TicketCategory, error) {
	if in.Name == "" || len(in.Categories) == 0 {
		return nil, nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("event name and at least one category required")}
	}
	var total uint32
	for _, c := range in.Categories {
		if c.Name == "" || c.SeatCount == 0 {
			return nil, nil, &repository.StoreError{Kind: repository.ErrValidation, Err: errors.New("category name and seat count required")}
		}
		total += c.SeatCount
	}

	ev := &model.Event{Name: in.Name, StartsAt: in.StartsAt.UTC(), TotalSeats: total}
	if err := s.events.Create(ctx, ev); err != nil {
		return nil, nil, err
	}

	var cats []model.TicketCategory
	for _, c := range in.Categories {
		cat := model.TicketCategory{
			EventID:    ev.ID,
			Name:       c.Name,
			PriceCents: c.PriceCents,
			TotalSeats: c.SeatCount,
		}
		if err := s.categories.Create(ctx, &cat); err != nil {
			return nil, nil, err
		}
		cats = append(cats, cat)

		prefix := c.LabelPrefix
		if prefix == "" {
			prefix = c.Name
		}
		seats := make([]model.Seat, c.SeatCount)
		for i := uint32(0); i < c.SeatCount; i++ {
			catID := cat.ID
			seats[i] = model.Seat{
				EventID:    ev.ID,
				CategoryID: &catID,
				Label:      fmt.Sprintf("%s-%d", prefix, i+1),
				PriceCents: c.PriceCents,
				Status:     model.SeatAvailable,
			}
		}
		if err := s.seats.CreateBulk(ctx, seats); err != nil {
			return nil, nil, err
		}
	}
	return ev, cats, nil
}

// RetireEvent takes an event off sale and soft-deletes its seats in one
// transaction. Existing bookings keep their history.
func (s *InventoryService) RetireEvent(ctx context.Context, eventID uint64) error {
	err := s.runner.RunInTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.events.RetireTx(ctx, tx, eventID); err != nil {
			return err
		}
		return s.seats.SoftDeleteByEventTx(ctx, tx, eventID)
	})
	if err != nil {
		return err
	}
	s.availability.Invalidate(ctx, eventID)
	return nil
}
