package ratelimit

import (
	"context"
	"errors"
	"fanreply/app/domain"
	"fanreply/app/util/clock"
	"fmt"
	"log/slog"
	"time"
)

var ErrExhausted = errors.New("rate limit attempts exhausted")

// Do calls fn up to attempts times, sleeping cooldown after every rate limited
// attempt except the last one. Any other error is returned immediately.
func Do(ctx context.Context, attempts int, cooldown time.Duration, op string, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !errors.Is(lastErr, domain.ErrRateLimited) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		slog.Warn("Rate limit hit, cooling down",
			"op", op,
			"attempt", attempt,
			"max_attempts", attempts,
			"cooldown", cooldown,
		)

		if err := clock.Sleep(ctx, cooldown); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, lastErr)
}
