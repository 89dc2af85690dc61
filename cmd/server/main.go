package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mossholder/ticketd/internal"
	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/handler"
	"github.com/mossholder/ticketd/internal/metrics"
	"github.com/mossholder/ticketd/internal/middleware"
	"github.com/mossholder/ticketd/internal/repository"
	"github.com/mossholder/ticketd/internal/service"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize store
	store := repository.NewStore(db)

	// Initialize billing
	billingService := billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	catalog := billing.NewCatalog(billing.PriceConfig{
		CreatorMonthlyPriceID:  cfg.StripeCreatorMonthlyPriceID,
		CreatorYearlyPriceID:   cfg.StripeCreatorYearlyPriceID,
		ProMonthlyPriceID:      cfg.StripeProMonthlyPriceID,
		ProYearlyPriceID:       cfg.StripeProYearlyPriceID,
		MasterMonthlyPriceID:   cfg.StripeMasterMonthlyPriceID,
		MasterYearlyPriceID:    cfg.StripeMasterYearlyPriceID,
		UploadPackSmallPriceID: cfg.StripeUploadPackSmallPriceID,
		UploadPackLargePriceID: cfg.StripeUploadPackLargePriceID,
		AIPackSmallPriceID:     cfg.StripeAIPackSmallPriceID,
		AIPackLargePriceID:     cfg.StripeAIPackLargePriceID,
	})
	logger.Info("Product catalog loaded", "prices", catalog.Size())

	// Initialize services
	ledger := service.NewLedgerService(store, logger)
	processor := service.NewWebhookProcessor(store, catalog, logger)
	reconciler := service.NewReconciler(store, billingService, service.ReconcilerConfig{
		Attempts: cfg.ReconcileAttempts,
		Interval: cfg.ReconcileInterval,
	}, logger)
	checkout := service.NewCheckoutService(store, billingService, catalog, reconciler, cfg.BaseURL, logger)

	// Initialize middleware
	idMw := middleware.NewIdentityMiddleware(logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// Initialize handlers
	ticketsHandler := handler.NewTicketsHandler(ledger, logger)
	billingHandler := handler.NewBillingHandler(checkout, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, processor, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Webhook route (public; authenticated by signature)
	webhookHandler.RegisterRoutes(mux)

	// API routes (require the gateway-set identity)
	requireUser := middleware.Stack(idMw.WithUser, idMw.RequireUser)
	ticketsHandler.RegisterRoutes(mux, requireUser)
	billingHandler.RegisterRoutes(mux, requireUser)

	// Outer stack: request logging and HTTP metrics for everything
	root := middleware.Stack(loggingMw.Handler, metrics.Middleware)(mux)

	// ==========================================================================
	// Background workers
	// ==========================================================================

	sweeper := service.NewCheckoutSweeper(store, cfg.SweepInterval, cfg.CheckoutTTL, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
