package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// WithTimeout bounds every call with its own deadline.
func WithTimeout(next Client, d time.Duration) Client {
	if d <= 0 {
		return next
	}
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		out, err := next.Call(cctx, req)
		if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("call exceeded %s: %w", d, context.DeadlineExceeded)
		}
		return out, err
	})
}

// WithRetry re-issues calls that failed for transient reasons: rate limits,
// per-call timeouts and retryable upstream statuses. Caller cancellation and
// malformed responses are returned at once.
func WithRetry(next Client, attempts int, backoff time.Duration, logger *zap.Logger) Client {
	if attempts <= 1 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		var lastErr error
		for i := 0; i < attempts; i++ {
			if i > 0 {
				wait := backoff * time.Duration(1<<(i-1))
				logger.Warn("retrying text service call",
					zap.Int("attempt", i+1),
					zap.Duration("backoff", wait),
					zap.Error(lastErr))
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(wait):
				}
			}
			out, err := next.Call(ctx, req)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if ctx.Err() != nil || !transient(err) {
				return "", err
			}
		}
		return "", lastErr
	})
}

func transient(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Retryable()
	}
	return false
}
