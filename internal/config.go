package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (for checkout redirect links)
	BaseURL string

	// Stripe Billing Configuration
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for subscription plans
	StripeCreatorMonthlyPriceID string
	StripeCreatorYearlyPriceID  string
	StripeProMonthlyPriceID     string
	StripeProYearlyPriceID      string
	StripeMasterMonthlyPriceID  string
	StripeMasterYearlyPriceID   string

	// Stripe Price IDs for one-time ticket packs
	StripeUploadPackSmallPriceID string
	StripeUploadPackLargePriceID string
	StripeAIPackSmallPriceID     string
	StripeAIPackLargePriceID     string

	// Reconciler Configuration
	ReconcileAttempts uint64
	ReconcileInterval time.Duration

	// Checkout sweeper configuration
	SweepInterval time.Duration
	CheckoutTTL   time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Stripe billing
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Subscription price IDs (unset prices drop out of the catalog)
		StripeCreatorMonthlyPriceID: getEnv("STRIPE_CREATOR_MONTHLY_PRICE_ID", ""),
		StripeCreatorYearlyPriceID:  getEnv("STRIPE_CREATOR_YEARLY_PRICE_ID", ""),
		StripeProMonthlyPriceID:     getEnv("STRIPE_PRO_MONTHLY_PRICE_ID", ""),
		StripeProYearlyPriceID:      getEnv("STRIPE_PRO_YEARLY_PRICE_ID", ""),
		StripeMasterMonthlyPriceID:  getEnv("STRIPE_MASTER_MONTHLY_PRICE_ID", ""),
		StripeMasterYearlyPriceID:   getEnv("STRIPE_MASTER_YEARLY_PRICE_ID", ""),

		// One-time pack price IDs
		StripeUploadPackSmallPriceID: getEnv("STRIPE_UPLOAD_PACK_SMALL_PRICE_ID", ""),
		StripeUploadPackLargePriceID: getEnv("STRIPE_UPLOAD_PACK_LARGE_PRICE_ID", ""),
		StripeAIPackSmallPriceID:     getEnv("STRIPE_AI_PACK_SMALL_PRICE_ID", ""),
		StripeAIPackLargePriceID:     getEnv("STRIPE_AI_PACK_LARGE_PRICE_ID", ""),

		// Reconciler defaults: a handful of short polls, then hand over to
		// the webhook path
		ReconcileAttempts: uint64(getEnvInt("RECONCILE_ATTEMPTS", 5)),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 3*time.Second),

		// Sweeper defaults
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 1*time.Hour),
		CheckoutTTL:   getEnvDuration("CHECKOUT_TTL", 24*time.Hour),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Billing is the point of this service: a webhook secret without an API
	// key (or the reverse) is a misconfiguration worth failing on.
	if (cfg.StripeSecretKey == "") != (cfg.StripeWebhookSecret == "") {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET must be set together")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
