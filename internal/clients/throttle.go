package clients

import (
	"context"
	"sync"
	"time"
)

const DefaultMinSpacing = 200 * time.Millisecond

// Throttle enforces a minimum gap between outbound calls. Every client that
// shares one Throttle shares the budget; separate instances are independent.
type Throttle struct {
	mu       sync.Mutex
	spacing  time.Duration
	lastCall time.Time
}

func NewThrottle(spacing time.Duration) *Throttle {
	if spacing <= 0 {
		spacing = DefaultMinSpacing
	}
	return &Throttle{spacing: spacing}
}

func (t *Throttle) Spacing() time.Duration {
	return t.spacing
}

// Wait blocks until at least the configured spacing has passed since the
// previous call was released, then stamps the current time.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastCall.IsZero() {
		if wait := t.spacing - time.Since(t.lastCall); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	t.lastCall = time.Now()
	return nil
}
