package collab

import (
	"context"
	"time"

	"github.com/jessiecms/collab/internal/slogging"
)

// CleanupWorker periodically reclaims stale presence rows and expired locks.
// It is the reconciliation path for abrupt disconnects, which never null
// their presence rows.
type CleanupWorker struct {
	presence *PresenceHandler
	locks    LockStore
	interval time.Duration
}

// NewCleanupWorker creates a cleanup worker
func NewCleanupWorker(presence *PresenceHandler, locks LockStore, interval time.Duration) *CleanupWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CleanupWorker{
		presence: presence,
		locks:    locks,
		interval: interval,
	}
}

// Start runs the sweep loop until the context is cancelled. Call in a
// goroutine.
func (w *CleanupWorker) Start(ctx context.Context) {
	logger := slogging.Get()
	logger.Info("Starting collaboration cleanup worker (interval %s)", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)
		case <-ctx.Done():
			logger.Info("Collaboration cleanup worker stopped")
			return
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	logger := slogging.Get()

	if removed, err := w.presence.CleanupInactive(ctx); err != nil {
		logger.Error("Presence cleanup failed: %v", err)
	} else if removed > 0 {
		logger.Info("Presence cleanup removed %d stale rows", removed)
	}

	if w.locks == nil {
		return
	}
	if removed, err := w.locks.CleanupExpired(ctx); err != nil {
		logger.Error("Lock cleanup failed: %v", err)
	} else if removed > 0 {
		logger.Info("Lock cleanup removed %d expired locks", removed)
	}
}
