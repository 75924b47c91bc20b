package engine

import (
	"context"
	"log"
	"time"
)

// DefaultCleanupInterval is how often StartCleanup sweeps the queue.
const DefaultCleanupInterval = 5 * time.Second

// AliveFunc reports whether a user still has a live connection.
type AliveFunc func(userID string) bool

// StartCleanup periodically removes queued users that no longer have a live
// connection. It blocks until ctx is cancelled.
func (e *Engine) StartCleanup(ctx context.Context, interval time.Duration, alive AliveFunc) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[engine] cleanup loop stopped")
			return
		case <-ticker.C:
			e.SweepQueue(alive)
		}
	}
}

// SweepQueue drops queued users for which alive returns false and returns
// their IDs.
func (e *Engine) SweepQueue(alive AliveFunc) []string {
	e.mu.Lock()
	removed := e.queue.Sweep(alive)
	for _, id := range removed {
		delete(e.queuedAt, id)
	}
	e.updateGauges()
	e.mu.Unlock()

	if len(removed) > 0 {
		log.Printf("[engine] cleanup: removed %d stale queue entries", len(removed))
	}
	return removed
}
