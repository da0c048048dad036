package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
)

// errNotReady marks an attempt that completed but produced nothing usable yet.
var errNotReady = errors.New("not ready")

// retry runs fn at most attempts times. delay(k) is waited before attempt k,
// starting at 1. A gateway error that is not retryable stops the loop early.
func retry(ctx context.Context, clk clock.Clock, attempts int, delay func(attempt int) time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleep(ctx, clk, delay(attempt)); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) && !gwErr.Retryable() {
			return err
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func noDelay(int) time.Duration { return 0 }

// linearDelay waits step*k before attempt k.
func linearDelay(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}
