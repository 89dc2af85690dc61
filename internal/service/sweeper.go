// Package service contains the business logic layer.
//
// This file implements the pending-checkout sweeper, a small background loop
// that prunes stale checkout records. Ledger refills need no such loop; they
// are computed lazily on read.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper defaults.
const (
	DefaultSweepInterval = 1 * time.Hour
	DefaultCheckoutTTL   = 24 * time.Hour
)

// CheckoutSweeper periodically deletes expired pending-checkout records.
// Linkage state lives on the entitlement record, so pruning is always safe.
type CheckoutSweeper struct {
	store    Store
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewCheckoutSweeper creates a sweeper. Zero interval or ttl use the defaults.
func NewCheckoutSweeper(store Store, interval, ttl time.Duration, logger *slog.Logger) *CheckoutSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if ttl <= 0 {
		ttl = DefaultCheckoutTTL
	}
	return &CheckoutSweeper{
		store:    store,
		interval: interval,
		ttl:      ttl,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. Stop with Stop().
func (s *CheckoutSweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("checkout sweeper started", "interval", s.interval, "ttl", s.ttl)
}

// Stop signals the loop to exit and waits for it.
func (s *CheckoutSweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("checkout sweeper stopped")
}

func (s *CheckoutSweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *CheckoutSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	n, err := s.store.DeleteExpiredCheckouts(ctx, cutoff)
	if err != nil {
		s.logger.Error("checkout sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired checkouts pruned", "count", n)
	}
}
