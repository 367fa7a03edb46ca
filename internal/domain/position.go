package domain

import "time"

type Direction string

const (
	DirectionFlat  Direction = "FLAT"
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Tranche is a fractional, independently triggered slice of a position's exit.
// SizeFraction is the fraction of the original size this tranche covers; Size
// is that fraction resolved to base-asset quantity at entry time.
type Tranche struct {
	TargetMultiple float64    `json:"target_multiple"`
	SizeFraction   float64    `json:"size_fraction"`
	Size           float64    `json:"size"`
	Filled         bool       `json:"filled"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
	FilledPrice    float64    `json:"filled_price,omitempty"`
}

// Position is the single active trade for one instrument. Direction is
// DirectionFlat when no trade is open, and then no other field is meaningful.
type Position struct {
	Asset      string    `json:"asset"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	EntryTime  time.Time `json:"entry_time"`

	// PeakPrice is the highest price seen since entry. It only moves up, and
	// only while the position is long.
	PeakPrice float64 `json:"peak_price"`

	Tranches []Tranche `json:"tranches,omitempty"`

	// Dead marks a token whose liquidity or FDV fell below the configured
	// floor. The position is excluded from further price checks but is not
	// force-sold.
	Dead bool `json:"dead,omitempty"`
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is an immutable record of an executed fill. RealizedPnL is nil for
// entry fills.
type Trade struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Side        Side      `json:"side"`
	Direction   Direction `json:"direction"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Fee         float64   `json:"fee"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// RiskCounters are process-wide circuit breaker inputs, reset at the start of
// each trading day. ConsecutiveLosses survives the daily reset: it resets to
// zero only on a winning close.
type RiskCounters struct {
	DailyStartBalance float64 `json:"daily_start_balance"`
	DailyPnL          float64 `json:"daily_pnl"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	LastTradeResult   string  `json:"last_trade_result,omitempty"` // "win" | "loss" | ""
	LastResetDate     string  `json:"last_reset_date,omitempty"`   // civil date in the bot timezone
}

// RecordClose folds one realized P&L into the counters.
func (c *RiskCounters) RecordClose(pnl float64) {
	c.DailyPnL += pnl
	if pnl > 0 {
		c.ConsecutiveLosses = 0
		c.LastTradeResult = "win"
	} else {
		c.ConsecutiveLosses++
		c.LastTradeResult = "loss"
	}
}

type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionExit  Action = "EXIT"
	// ActionHold exists so a signal sequence can be aligned one-to-one with a
	// candle series.
	ActionHold Action = "HOLD"
)

// Signal is produced by an upstream source and never mutated by the core.
type Signal struct {
	Asset     string
	Action    Action
	Timestamp time.Time
	Context   any
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// ClosedPosition is the journal record for a fully closed position.
type ClosedPosition struct {
	ID          int64
	Asset       string
	Direction   Direction
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	Reason      string
	ClosedAt    time.Time
}

// Fill is the result of a successfully placed market order.
type Fill struct {
	OrderID string
	Price   float64
	Size    float64
}

// ExchangePosition is a position as reported by the venue, used to reconcile
// local state after ambiguous order outcomes and on startup.
type ExchangePosition struct {
	Asset         string
	Size          float64 // negative for shorts
	EntryPrice    float64
	UnrealizedPnL float64
}

// TokenInfo carries the liquidity figures used by the dead-token monitoring
// stop.
type TokenInfo struct {
	LiquidityUSD float64
	FDVUSD       float64
}
