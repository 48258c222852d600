package ticker

import (
	"context"
	"fmt"
	"time"
)

// Periodically calls task every interval until ctx is done, returning ctx.Err(). The first call happens one interval after start. A task error ends the loop and is returned.
func Periodically(ctx context.Context, interval time.Duration, task func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("periodic task needs a positive interval, got %s", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := task(ctx); err != nil {
				return fmt.Errorf("periodic task failed: %w", err)
			}
		}
	}
}
