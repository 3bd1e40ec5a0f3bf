// Package worker provides background workers for the relay.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredTransactionDeleter removes transactions past their expiry.
type ExpiredTransactionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ExpirySweeper is a background worker that periodically deletes expired
// transactions from the Postgres store. Lookups already ignore expired rows;
// the sweep only keeps the table small.
type ExpirySweeper struct {
	repo         ExpiredTransactionDeleter
	pollInterval time.Duration
}

// NewExpirySweeper creates a new expiry sweeper.
func NewExpirySweeper(repo ExpiredTransactionDeleter, pollInterval time.Duration) *ExpirySweeper {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Minute
	}

	return &ExpirySweeper{
		repo:         repo,
		pollInterval: pollInterval,
	}
}

// Start begins the background worker loop. It runs until the context is cancelled.
func (w *ExpirySweeper) Start(ctx context.Context) {
	slog.Info("expiry sweeper started", "poll_interval", w.pollInterval)

	// Run immediately on startup
	w.runOnce(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry sweeper stopped")

			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce deletes expired transactions.
func (w *ExpirySweeper) runOnce(ctx context.Context) {
	deleted, err := w.repo.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("failed to delete expired transactions", "error", err)
		}

		return
	}

	if deleted == 0 {
		slog.Debug("no expired transactions found")

		return
	}

	slog.Info("deleted expired transactions", "count", deleted)
}
