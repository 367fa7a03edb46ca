package domain

import (
	"context"
	"time"
)

// Exchange defines the interface for interacting with a trading venue.
// Implementations retry transient failures internally; errors that surface
// here are already classified (ErrRateLimited, ErrAuthentication,
// *OrderAmbiguousError, ...).
type Exchange interface {
	GetPrice(ctx context.Context, asset string) (float64, error)
	GetBalance(ctx context.Context) (float64, error)
	// PlaceMarketOrder spends notionalUSD (for buys) or sells the base-asset
	// equivalent of notionalUSD at the current price. Placement is not
	// idempotent: after a timeout the caller reconciles via GetPositions
	// instead of retrying blindly.
	PlaceMarketOrder(ctx context.Context, side Side, notionalUSD float64, asset string) (*Fill, error)
	GetPositions(ctx context.Context) ([]ExchangePosition, error)
}

// TokenInfoProvider supplies liquidity figures for the dead-token monitoring
// stop. Venues that cannot report them simply don't implement it.
type TokenInfoProvider interface {
	GetTokenInfo(ctx context.Context, asset string) (*TokenInfo, error)
}

// Notifier is an outbound, fire-and-forget message sink. Implementations log
// delivery failures; they are never fatal.
type Notifier interface {
	Send(text string)
}

// SignalSource produces a lazy, finite, forward-only sequence of signals.
// Next returns ErrEndOfSignals once the sequence is exhausted.
type SignalSource interface {
	Next(ctx context.Context) (*Signal, error)
}

// Strategy is the live-path decision logic: both methods return a decision
// plus a human-readable reason for logs and alerts.
type Strategy interface {
	Name() string
	ShouldEnter(now time.Time, price float64) (bool, string)
	ShouldExit(price, entryPrice, peakPrice float64) (bool, string)
}

// StateStore persists bot state with backup-before-write and corruption
// fallback.
type StateStore interface {
	Save(state *BotState) error
	Load() (*BotState, error)
}

// TradeRepository is the append-only trade journal.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)
	SavePositionHistory(ctx context.Context, closed *ClosedPosition) error
	ListPositionHistory(ctx context.Context, limit int) ([]*ClosedPosition, error)
}
