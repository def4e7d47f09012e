package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/avshalomt/event-seat-booking/internal/handler"
	"github.com/avshalomt/event-seat-booking/internal/middleware"
	"github.com/avshalomt/event-seat-booking/internal/model"
)

// Handlers bundles everything the router wires up.
type Handlers struct {
	Auth      *handler.AuthHandler
	Inventory *handler.InventoryHandler
	Booking   *handler.BookingHandler
	Payment   *handler.PaymentHandler

	JWTSecret string
	RateLimit echo.MiddlewareFunc // nil disables limiting
}

// Register registers every route on the Echo instance. Public endpoints
// (health, browse, guest checkout, auth bootstrap) carry no JWT
// middleware; everything touching a specific user's holds or bookings
// requires a valid access token. The booking-adjacent groups additionally
// run through the rate limiter: those are the endpoints a checkout storm
// hammers.
func Register(e *echo.Echo, h Handlers) {
	e.GET("/healthz", handler.Health)

	// Session bootstrap.
	auth := e.Group("/v1/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)

	// Public browse.
	e.GET("/v1/events/:id/availability", h.Inventory.GetAvailability)

	// Guest checkout: no account, commit-only.
	guest := e.Group("/v1/guest")
	if h.RateLimit != nil {
		guest.Use(h.RateLimit)
	}
	guest.POST("/bookings", h.Booking.GuestCommit)

	// Authenticated surface.
	v1 := e.Group("/v1", middleware.JWTAuth(h.JWTSecret))
	v1.GET("/auth/me", h.Auth.Me)

	claims := v1.Group("/events/:id/claims", middleware.RequireRole(model.RoleCustomer, model.RoleAdmin))
	if h.RateLimit != nil {
		claims.Use(h.RateLimit)
	}
	claims.POST("", h.Inventory.ClaimSeats)
	claims.PATCH("", h.Inventory.ExtendClaim)
	claims.DELETE("", h.Inventory.ReleaseClaim)

	bookings := v1.Group("/bookings", middleware.RequireRole(model.RoleCustomer, model.RoleAdmin))
	if h.RateLimit != nil {
		bookings.Use(h.RateLimit)
	}
	bookings.POST("", h.Booking.Commit)
	bookings.GET("/:id", h.Booking.Get)
	bookings.DELETE("/:ref", h.Booking.Cancel)
	v1.GET("/my-bookings", h.Booking.ListMine, middleware.RequireRole(model.RoleCustomer, model.RoleAdmin))

	// Inventory administration.
	admin := v1.Group("/events", middleware.RequireRole(model.RoleAdmin))
	admin.POST("", h.Inventory.CreateEvent)
	admin.DELETE("/:id", h.Inventory.RetireEvent)

	// Payment provider webhooks, shared-token authenticated.
	if h.Payment != nil && h.Payment.Token != "" {
		e.POST("/v1/payments/:ref/confirm", h.Payment.Confirm)
		e.POST("/v1/payments/:ref/reject", h.Payment.Reject)
	}
}
