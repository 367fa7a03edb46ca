package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:          3,
		BaseDelay:         time.Millisecond,
		RateLimitAttempts: 5,
		RateLimitDelay:    time.Millisecond,
	}
}

func TestRetryDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := retryDo(context.Background(), fastRetryConfig(), zap.NewNop(), "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls", got, calls)
	}
}

func TestRetryDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := retryDo(context.Background(), fastRetryConfig(), zap.NewNop(), "test", func() (int, error) {
		calls++
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// Rate limiting gets more attempts than generic failures.
func TestRetryDo_RateLimitLadder(t *testing.T) {
	calls := 0
	_, err := retryDo(context.Background(), fastRetryConfig(), zap.NewNop(), "test", func() (int, error) {
		calls++
		return 0, fmt.Errorf("wrapped: %w", domain.ErrRateLimited)
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("cause must be preserved, got %v", err)
	}
}

func TestRetryDo_AuthenticationNeverRetried(t *testing.T) {
	calls := 0
	_, err := retryDo(context.Background(), fastRetryConfig(), zap.NewNop(), "test", func() (int, error) {
		calls++
		return 0, fmt.Errorf("login: %w", domain.ErrAuthentication)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("got %v", err)
	}
}

func TestRetryDo_AmbiguousOrderNeverRetried(t *testing.T) {
	calls := 0
	ambiguous := &domain.OrderAmbiguousError{Asset: "BTCUSDT", Side: domain.SideSell, Cause: errors.New("timeout")}
	_, err := retryDo(context.Background(), fastRetryConfig(), zap.NewNop(), "test", func() (int, error) {
		calls++
		return 0, ambiguous
	})
	if calls != 1 {
		t.Errorf("ambiguous orders must never be replayed, calls = %d", calls)
	}
	var amb *domain.OrderAmbiguousError
	if !errors.As(err, &amb) {
		t.Errorf("got %v", err)
	}
}

func TestRetryDo_ContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retryDo(ctx, fastRetryConfig(), zap.NewNop(), "test", func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
