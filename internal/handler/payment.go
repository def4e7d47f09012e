package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avshalomt/event-seat-booking/internal/service"
)

// PaymentHandler receives the payment provider's webhooks. Providers do
// not carry user tokens, so the endpoints authenticate with a shared
// webhook token instead of JWTs.
type PaymentHandler struct {
	Bookings *service.BookingService
	Token    string
}

// NewPaymentHandler constructs a PaymentHandler. An empty token disables
// the endpoints entirely.
func NewPaymentHandler(bookings *service.BookingService, token string) *PaymentHandler {
	return &PaymentHandler{Bookings: bookings, Token: token}
}

func (h *PaymentHandler) authorized(c echo.Context) bool {
	if h.Token == "" {
		return false
	}
	got := c.Request().Header.Get("X-Webhook-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) == 1
}

// Confirm handles POST /v1/payments/:ref/confirm, recording a captured
// payment against the booking.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	if !h.authorized(c) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	booking, err := h.Bookings.ConfirmPayment(c.Request().Context(), c.Param("ref"), body.PaymentRef)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingJSON(booking))
}

// Reject handles POST /v1/payments/:ref/reject: the payment was declined
// and the booking's seats go back on sale.
func (h *PaymentHandler) Reject(c echo.Context) error {
	if !h.authorized(c) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	booking, err := h.Bookings.RejectPayment(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingJSON(booking))
}
