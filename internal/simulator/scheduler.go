package simulator

import (
	"context"
	"time"
)

// Scheduler runs fn every interval until ctx is cancelled. Implementations
// must not call fn after ctx is done.
type Scheduler interface {
	Every(ctx context.Context, interval time.Duration, fn func())
}

// TickerScheduler drives callbacks from a time.Ticker on its own goroutine
type TickerScheduler struct{}

func (TickerScheduler) Every(ctx context.Context, interval time.Duration, fn func()) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// A tick and a cancel can be ready together.
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}()
}
