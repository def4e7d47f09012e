package handler // contains HTTP handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avshalomt/event-seat-booking/internal/repository"
)

// respondError translates storage-layer error kinds into HTTP responses.
// Conflict-class failures carry structured detail — the offending seat
// IDs, or the requested/available pair — so clients can re-render a seat
// map without a second round trip.
func respondError(c echo.Context, err error) error {
	var seatErr *repository.SeatUnavailableError
	if errors.As(err, &seatErr) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    "seats_unavailable",
			"seat_ids": seatErr.SeatIDs,
		})
	}
	var invErr *repository.InsufficientInventoryError
	if errors.As(err, &invErr) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":       "insufficient_inventory",
			"category_id": invErr.CategoryID,
			"requested":   invErr.Requested,
			"available":   invErr.Available,
		})
	}

	switch {
	case errors.Is(err, repository.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.Is(err, repository.ErrForbidden), errors.Is(err, repository.ErrNotHolder):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrCancellationWindow):
		return c.JSON(http.StatusConflict, echo.Map{"error": "cancellation_window_closed"})
	case errors.Is(err, repository.ErrEventRetired):
		return c.JSON(http.StatusConflict, echo.Map{"error": "event_retired"})
	case errors.Is(err, repository.ErrInsufficientInventory):
		return c.JSON(http.StatusConflict, echo.Map{"error": "insufficient_inventory"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
	case errors.Is(err, repository.ErrTransient):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily_unavailable"})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
	}
}

// dedupe drops zero and duplicate IDs while preserving order.
func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
