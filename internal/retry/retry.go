package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs the operation up to attempts times with a fixed delay
// between attempts, stopping early on context cancellation.
func Do(ctx context.Context, attempts int, delay time.Duration, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
