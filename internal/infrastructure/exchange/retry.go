package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// RetryConfig controls the two backoff ladders: exponential for generic
// transient failures, and a longer linear one reserved for rate limiting.
type RetryConfig struct {
	Attempts          int
	BaseDelay         time.Duration
	RateLimitAttempts int
	RateLimitDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:          3,
		BaseDelay:         2 * time.Second,
		RateLimitAttempts: 5,
		RateLimitDelay:    60 * time.Second,
	}
}

// retryDo runs fn until it succeeds or the attempt limit for its failure mode
// is spent. Generic failures back off as base*2^attempt; rate limits wait
// rateLimitDelay + rateLimitDelay*attempt. Authentication failures, ambiguous
// order outcomes and context cancellation are never retried.
func retryDo[T any](ctx context.Context, cfg RetryConfig, logger *zap.Logger, name string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempt := 0
	rateLimitAttempt := 0
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var amb *domain.OrderAmbiguousError
		if errors.Is(err, domain.ErrAuthentication) || errors.As(err, &amb) || ctx.Err() != nil {
			return zero, err
		}

		var delay time.Duration
		if errors.Is(err, domain.ErrRateLimited) {
			rateLimitAttempt++
			if rateLimitAttempt >= cfg.RateLimitAttempts {
				break
			}
			delay = cfg.RateLimitDelay + cfg.RateLimitDelay*time.Duration(rateLimitAttempt-1)
			logger.Warn("rate limited, backing off",
				zap.String("call", name),
				zap.Int("attempt", rateLimitAttempt),
				zap.Duration("delay", delay))
		} else {
			attempt++
			if attempt >= cfg.Attempts {
				break
			}
			delay = cfg.BaseDelay * (1 << (attempt - 1))
			logger.Warn("call failed, retrying",
				zap.String("call", name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("%s: retries exhausted: %w", name, lastErr)
}
