package broker

import (
	"context"
	"errors"
	"log"
	"time"
)

// withRetry runs op up to attempts times while it fails with ErrTransient,
// sleeping base, 2*base, 4*base... between attempts.
func withRetry(ctx context.Context, attempts int, base time.Duration, op func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = op(ctx)
		if err == nil || !errors.Is(err, ErrTransient) || i == attempts-1 {
			return err
		}
		backoff := base << uint(i)
		log.Printf("[WARN] %v (attempt %d/%d), retrying in %v", err, i+1, attempts, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
