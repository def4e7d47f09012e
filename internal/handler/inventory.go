package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avshalomt/event-seat-booking/internal/middleware"
	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/service"
)

// InventoryHandler exposes event setup, availability browsing and the
// seat-claim lifecycle. Claims are keyed by event and holder: one
// customer extends or releases their own holds on an event without
// needing to quote reservation IDs.
type InventoryHandler struct {
	Inventory    *service.InventoryService
	Locks        *service.LockService
	Availability *service.AvailabilityService
}

// NewInventoryHandler constructs an InventoryHandler.
func NewInventoryHandler(inventory *service.InventoryService, locks *service.LockService, availability *service.AvailabilityService) *InventoryHandler {
	return &InventoryHandler{Inventory: inventory, Locks: locks, Availability: availability}
}

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// CreateEvent handles POST /v1/events (admin). The body describes the
// categories; seat rows are generated from them.
func (h *InventoryHandler) CreateEvent(c echo.Context) error {
	var body struct {
		Name       string    `json:"name"`
		StartsAt   time.Time `json:"starts_at"`
		Categories []struct {
			Name        string `json:"name"`
			PriceCents  uint32 `json:"price_cents"`
			SeatCount   uint32 `json:"seat_count"`
			LabelPrefix string `json:"label_prefix"`
		} `json:"categories"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	in := service.CreateEventInput{Name: body.Name, StartsAt: body.StartsAt}
	for _, cat := range body.Categories {
		in.Categories = append(in.Categories, service.CategoryInput{
			Name:        cat.Name,
			PriceCents:  cat.PriceCents,
			SeatCount:   cat.SeatCount,
			LabelPrefix: cat.LabelPrefix,
		})
	}
	ev, cats, err := h.Inventory.CreateEvent(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	out := echo.Map{"id": ev.ID, "name": ev.Name, "starts_at": ev.StartsAt, "total_seats": ev.TotalSeats}
	var catsOut []echo.Map
	for _, cat := range cats {
		catsOut = append(catsOut, echo.Map{"id": cat.ID, "name": cat.Name, "price_cents": cat.PriceCents, "total_seats": cat.TotalSeats})
	}
	out["categories"] = catsOut
	return c.JSON(http.StatusCreated, out)
}

// RetireEvent handles DELETE /v1/events/:id (admin). The event goes off
// sale; existing bookings keep their history.
func (h *InventoryHandler) RetireEvent(c echo.Context) error {
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	if err := h.Inventory.RetireEvent(c.Request().Context(), eventID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetAvailability handles GET /v1/events/:id/availability (public).
func (h *InventoryHandler) GetAvailability(c echo.Context) error {
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	snap, err := h.Availability.Get(c.Request().Context(), eventID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// ClaimSeats handles POST /v1/events/:id/claims. Explicit seat_ids claim
// those exact seats; category_id plus quantity lets the engine pick.
// Both grant a hold that expires unless extended or committed.
func (h *InventoryHandler) ClaimSeats(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		SeatIDs    []uint64 `json:"seat_ids"`
		CategoryID uint64   `json:"category_id"`
		Quantity   int      `json:"quantity"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.SeatIDs = dedupe(body.SeatIDs)

	ctx := c.Request().Context()
	var (
		rec   *model.SeatReservation
		seats []model.Seat
		err   error
	)
	switch {
	case len(body.SeatIDs) > 0 && body.CategoryID != 0:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide seat_ids or a category, not both"})
	case len(body.SeatIDs) > 0:
		rec, seats, err = h.Locks.Grant(ctx, eventID, userID, body.SeatIDs)
	case body.CategoryID != 0:
		rec, seats, err = h.Locks.GrantSection(ctx, eventID, body.CategoryID, body.Quantity, userID)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids or category_id is required"})
	}
	if err != nil {
		return respondError(c, err)
	}

	seatsOut := make([]echo.Map, len(seats))
	for i, s := range seats {
		seatsOut[i] = echo.Map{"id": s.ID, "label": s.Label, "price_cents": s.PriceCents}
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation_id":  rec.ID,
		"reservation_ref": rec.Ref,
		"expires_at":      rec.ExpiresAt,
		"seats":           seatsOut,
	})
}

// ExtendClaim handles PATCH /v1/events/:id/claims, pushing the caller's
// holds on the event out to a fresh TTL.
func (h *InventoryHandler) ExtendClaim(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	expires, err := h.Locks.Extend(c.Request().Context(), eventID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expires_at": expires})
}

// ReleaseClaim handles DELETE /v1/events/:id/claims. With a seat_ids
// body only those seats unlock; without one every hold the caller has on
// the event is released. Already-released seats are ignored.
func (h *InventoryHandler) ReleaseClaim(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		SeatIDs []uint64 `json:"seat_ids"`
	}
	// DELETE bodies are optional.
	_ = c.Bind(&body)

	released, err := h.Locks.Release(c.Request().Context(), eventID, userID, dedupe(body.SeatIDs))
	if err != nil {
		return respondError(c, err)
	}
	h.Availability.Invalidate(c.Request().Context(), eventID)
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}
