package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avshalomt/event-seat-booking/internal/middleware"
	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/service"
)

// BookingHandler exposes the booking commit protocol and its unwind
// paths over HTTP.
type BookingHandler struct {
	Bookings *service.BookingService
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(bookings *service.BookingService) *BookingHandler {
	return &BookingHandler{Bookings: bookings}
}

type commitBody struct {
	EventID  uint64   `json:"event_id"`
	SeatIDs  []uint64 `json:"seat_ids"`
	Sections []struct {
		CategoryID uint64 `json:"category_id"`
		Quantity   int    `json:"quantity"`
	} `json:"sections"`
	GuestEmail         string `json:"guest_email"`
	ExpectedTotalCents uint32 `json:"expected_total_cents"`
}

func (b commitBody) toInput(buyerID uint64) service.CommitInput {
	in := service.CommitInput{
		EventID:            b.EventID,
		BuyerID:            buyerID,
		GuestEmail:         b.GuestEmail,
		SeatIDs:            dedupe(b.SeatIDs),
		ExpectedTotalCents: b.ExpectedTotalCents,
	}
	for _, s := range b.Sections {
		in.Sections = append(in.Sections, service.SectionRequest{CategoryID: s.CategoryID, Quantity: s.Quantity})
	}
	return in
}

func bookingJSON(b *model.Booking) echo.Map {
	out := echo.Map{
		"id":                 b.ID,
		"booking_ref":        b.Ref,
		"event_id":           b.EventID,
		"status":             b.Status,
		"total_amount_cents": b.TotalAmountCents,
		"seat_ids":           b.SeatIDs,
	}
	if b.PaymentRef != nil {
		out["payment_ref"] = *b.PaymentRef
	}
	return out
}

// Commit handles POST /v1/bookings for authenticated customers. Held
// seats the caller owns are folded into the booking; unheld seats are
// claimed and booked in the same transaction.
func (h *BookingHandler) Commit(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body commitBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
	}
	in := body.toInput(userID)
	in.GuestEmail = "" // authenticated checkout ignores guest identity

	booking, err := h.Bookings.Commit(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, bookingJSON(booking))
}

// GuestCommit handles POST /v1/guest/bookings: checkout without an
// account, identified by contact email. Guests cannot pre-hold seats, so
// the whole claim-and-book happens in the commit transaction.
func (h *BookingHandler) GuestCommit(c echo.Context) error {
	var body commitBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
	}
	if body.GuestEmail == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "guest_email is required"})
	}

	booking, err := h.Bookings.Commit(c.Request().Context(), body.toInput(0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, bookingJSON(booking))
}

// Cancel handles DELETE /v1/bookings/:ref.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ref := c.Param("ref")
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking ref"})
	}
	isAdmin := middleware.Role(c) == model.RoleAdmin
	booking, err := h.Bookings.Cancel(c.Request().Context(), ref, userID, isAdmin)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingJSON(booking))
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	isAdmin := middleware.Role(c) == model.RoleAdmin
	booking, err := h.Bookings.GetForUser(c.Request().Context(), bookingID, userID, isAdmin)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingJSON(booking))
}

// ListMine handles GET /v1/my-bookings.
func (h *BookingHandler) ListMine(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.Bookings.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, len(list))
	for i := range list {
		out[i] = bookingJSON(&list[i])
	}
	return c.JSON(http.StatusOK, out)
}
