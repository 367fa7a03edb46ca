package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
)

// SliceSource replays a fixed signal sequence; the simulator consumes one
// signal per candle.
type SliceSource struct {
	signals []domain.Signal
	next    int
}

func NewSliceSource(signals []domain.Signal) *SliceSource {
	return &SliceSource{signals: signals}
}

func (s *SliceSource) Next(ctx context.Context) (*domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.signals) {
		return nil, domain.ErrEndOfSignals
	}
	sig := s.signals[s.next]
	s.next++
	return &sig, nil
}

// ChannelSource bridges an upstream producer goroutine into the SignalSource
// interface. A closed channel ends the sequence.
type ChannelSource struct {
	ch <-chan domain.Signal
}

func NewChannelSource(ch <-chan domain.Signal) *ChannelSource {
	return &ChannelSource{ch: ch}
}

func (s *ChannelSource) Next(ctx context.Context) (*domain.Signal, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case sig, ok := <-s.ch:
		if !ok {
			return nil, domain.ErrEndOfSignals
		}
		return &sig, nil
	}
}

// TrailingStopConfig parameterizes the overnight-recovery entry rule and its
// never-sell-at-loss trailing stop.
type TrailingStopConfig struct {
	EntryHour        int
	EntryWindowMin   int
	MaxEntryPriceUSD float64
	TrailingStopPct  float64
	Timezone         string
}

// TrailingStopStrategy enters once per day inside a fixed local-time window
// when price is below a ceiling, and exits on a trailing stop from the peak,
// but only while the trade is in profit.
type TrailingStopStrategy struct {
	cfg           TrailingStopConfig
	loc           *time.Location
	lastEntryDate string
}

func NewTrailingStopStrategy(cfg TrailingStopConfig) (*TrailingStopStrategy, error) {
	if cfg.EntryWindowMin <= 0 {
		cfg.EntryWindowMin = 5
	}
	if cfg.TrailingStopPct <= 0 {
		cfg.TrailingStopPct = 1.0
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load strategy timezone: %w", err)
	}
	return &TrailingStopStrategy{cfg: cfg, loc: loc}, nil
}

func (s *TrailingStopStrategy) Name() string { return "trailing_stop" }

func (s *TrailingStopStrategy) ShouldEnter(now time.Time, price float64) (bool, string) {
	local := now.In(s.loc)
	date := local.Format("2006-01-02")

	if local.Hour() != s.cfg.EntryHour {
		return false, fmt.Sprintf("not entry hour (current: %d:00, target: %d:00)", local.Hour(), s.cfg.EntryHour)
	}
	if local.Minute() > s.cfg.EntryWindowMin {
		return false, fmt.Sprintf("entry window closed (current: %d:%02d)", local.Hour(), local.Minute())
	}
	if s.lastEntryDate == date {
		return false, fmt.Sprintf("already entered today (%s)", date)
	}
	if s.cfg.MaxEntryPriceUSD > 0 && price >= s.cfg.MaxEntryPriceUSD {
		return false, fmt.Sprintf("price too high ($%.0f >= $%.0f)", price, s.cfg.MaxEntryPriceUSD)
	}

	s.lastEntryDate = date
	return true, fmt.Sprintf("price $%.0f below $%.0f at %d:%02d", price, s.cfg.MaxEntryPriceUSD, local.Hour(), local.Minute())
}

func (s *TrailingStopStrategy) ShouldExit(price, entryPrice, peakPrice float64) (bool, string) {
	profitPct := (price - entryPrice) / entryPrice * 100

	// Never sell at a loss: hold until profitable.
	if profitPct <= 0 {
		return false, fmt.Sprintf("not profitable (currently %+.2f%%)", profitPct)
	}

	dropFromPeak := (price - peakPrice) / peakPrice * 100
	if dropFromPeak <= -s.cfg.TrailingStopPct {
		return true, fmt.Sprintf("trailing stop hit: dropped %.2f%% from peak ($%.2f -> $%.2f)", -dropFromPeak, peakPrice, price)
	}
	return false, fmt.Sprintf("holding: up %+.2f%% from entry, %.2f%% below peak", profitPct, -dropFromPeak)
}

// ResetDaily clears the one-entry-per-day latch; called by the loop on day
// rollover.
func (s *TrailingStopStrategy) ResetDaily() {
	s.lastEntryDate = ""
}
