package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. Required variables are enforced by must()
// and missing values cause the program to exit with a fatal log message;
// tuning knobs fall back to defaults that suit a single-node deployment.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret    string // secret used to sign JWTs
	AccessTTLMin int    // access token time-to-live in minutes
	BcryptCost   int    // bcrypt cost for password hashing

	AMQPURL             string // broker URL for notifications; empty disables them
	PaymentWebhookToken string // shared secret for payment webhooks; empty disables them

	HoldTTL           time.Duration // how long a seat hold lives
	SweepInterval     time.Duration // period of the durable expiry sweep
	SweepBatch        int           // max overdue holds per sweep pass
	ReconcileInterval time.Duration // period of the counter repair loop
	BookingTxTimeout  time.Duration // wall-clock bound on one booking transaction
	LockWait          time.Duration // row-lock wait bound inside transactions
	RetryMaxAttempts  int           // attempts per transactional unit
	RetryBaseDelay    time.Duration // backoff before the second attempt
	CancelCutoff      time.Duration // customers cannot cancel closer to start than this
	AvailabilityTTL   time.Duration // lifetime of cached availability snapshots
}

// Load reads configuration values from environment variables and returns
// a Config.
func Load() Config {
	return Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: mustInt("ACCESS_TOKEN_TTL_MIN"),
		BcryptCost:   mustInt("BCRYPT_COST"),

		AMQPURL:             firstEnv("RABBITMQ_URL", "AMQP_URL"),
		PaymentWebhookToken: os.Getenv("PAYMENT_WEBHOOK_TOKEN"),

		HoldTTL:           envDur("HOLD_TTL", 5*time.Minute),
		SweepInterval:     envDur("SWEEP_INTERVAL", 30*time.Second),
		SweepBatch:        envInt("SWEEP_BATCH", 100),
		ReconcileInterval: envDur("RECONCILE_INTERVAL", 10*time.Minute),
		BookingTxTimeout:  envDur("BOOKING_TX_TIMEOUT", 5*time.Second),
		LockWait:          envDur("LOCK_WAIT", 3*time.Second),
		RetryMaxAttempts:  envInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:    envDur("RETRY_BASE_DELAY", 50*time.Millisecond),
		CancelCutoff:      envDur("CANCEL_CUTOFF", 2*time.Hour),
		AvailabilityTTL:   envDur("AVAILABILITY_CACHE_TTL", 5*time.Second),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// firstEnv returns the first non-empty value among the given variables.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
