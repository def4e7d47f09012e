package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/avshalomt/event-seat-booking/internal/config"
	"github.com/avshalomt/event-seat-booking/internal/database"
	"github.com/avshalomt/event-seat-booking/internal/handler"
	"github.com/avshalomt/event-seat-booking/internal/middleware"
	"github.com/avshalomt/event-seat-booking/internal/queue"
	"github.com/avshalomt/event-seat-booking/internal/repository"
	"github.com/avshalomt/event-seat-booking/internal/router"
	"github.com/avshalomt/event-seat-booking/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable: rate limiting and availability cache disabled")
	}

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.AMQPURL != "" {
		notifier = service.NewAMQPNotifier(cfg.AMQPURL)
		go func() {
			if err := queue.StartAuditConsumer(cfg.AMQPURL); err != nil {
				log.Printf("audit consumer stopped: %v", err)
			}
		}()
	}
	defer notifier.Close()

	// Repositories.
	runner := repository.NewTxRunner(db)
	seatRepo := repository.NewSeatRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	expiryRepo := repository.NewExpiryQueueRepo(db)
	categoryRepo := repository.NewCategoryRepo(db)
	eventRepo := repository.NewEventRepo(db)
	bookingRepo := repository.NewBookingRepo(db)
	userRepo := repository.NewUserRepo(db)

	txOpts := repository.TxOptions{
		LockWait: cfg.LockWait,
		Timeout:  cfg.BookingTxTimeout,
	}
	retry := repository.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.BaseDelay = cfg.RetryBaseDelay

	// Services.
	availability := service.NewAvailabilityService(rdb, eventRepo, categoryRepo, cfg.AvailabilityTTL)
	locks := service.NewLockService(runner, seatRepo, reservationRepo, expiryRepo, notifier, cfg.HoldTTL, txOpts, retry)
	bookings := service.NewBookingService(runner, seatRepo, reservationRepo, expiryRepo, categoryRepo, eventRepo, bookingRepo, userRepo, locks, availability, notifier, txOpts, retry, cfg.CancelCutoff)
	inventory := service.NewInventoryService(runner, eventRepo, categoryRepo, seatRepo, availability)

	sweeper := service.NewSweeper(locks, expiryRepo, cfg.SweepInterval, cfg.SweepBatch)
	sweeper.Start()
	defer sweeper.Stop()
	defer locks.StopTimers()

	reconciler := service.NewReconciler(runner, eventRepo, categoryRepo, cfg.ReconcileInterval)
	reconciler.Start()
	defer reconciler.Stop()

	// HTTP surface.
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	var limiter echo.MiddlewareFunc
	if rdb != nil {
		limiter = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	}
	router.Register(e, router.Handlers{
		Auth:      handler.NewAuthHandler(userRepo, cfg.JWTSecret, cfg.AccessTTLMin, cfg.BcryptCost),
		Inventory: handler.NewInventoryHandler(inventory, locks, availability),
		Booking:   handler.NewBookingHandler(bookings),
		Payment:   handler.NewPaymentHandler(bookings, cfg.PaymentWebhookToken),
		JWTSecret: cfg.JWTSecret,
		RateLimit: limiter,
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// Block until interrupted, then drain in-flight requests. Held seats
	// survive shutdown: the durable expiry queue releases them after
	// restart even though the fallback timers are gone.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
