package session

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often the TTL worker looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// StartTTLWorker runs a background goroutine that periodically evicts idle sessions
// until ctx is cancelled.
func StartTTLWorker(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		log.Printf("[session] TTL worker started interval=%s", interval)

		for {
			select {
			case t := <-ticker.C:
				sweep(ctx, store, t)
			case <-ctx.Done():
				log.Printf("[session] TTL worker shutting down: %v", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, store Store, now time.Time) {
	evicted, err := store.EvictExpired(ctx, now)
	if err != nil {
		log.Printf("[session] TTL sweep failed after %d evictions: %v", evicted, err)
		return
	}
	if evicted > 0 {
		log.Printf("[session] TTL sweep evicted %d idle sessions", evicted)
	}
}
