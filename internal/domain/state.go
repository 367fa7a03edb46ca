package domain

import "time"

// StateVersion is the current persisted schema version. Files without a
// version field are treated as version 0 (the old loosely-typed layout) and
// migrated on load.
const StateVersion = 1

// BotState is the persisted snapshot of the position book and risk counters.
// Field names match the on-disk JSON schema and must not change without a
// version bump.
type BotState struct {
	Version           int        `json:"version"`
	InPosition        bool       `json:"in_position"`
	Direction         Direction  `json:"direction,omitempty"`
	EntryTime         *time.Time `json:"entry_time"`
	EntryPrice        *float64   `json:"entry_price"`
	PositionSize      *float64   `json:"position_size"`
	PeakPrice         *float64   `json:"peak_price"`
	Tranches          []Tranche  `json:"tranches,omitempty"`
	Dead              bool       `json:"dead,omitempty"`
	DailyStartBalance float64    `json:"daily_start_balance"`
	DailyPnL          float64    `json:"daily_pnl"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	LastTradeResult   string     `json:"last_trade_result,omitempty"`
	LastResetDate     string     `json:"last_reset_date,omitempty"`
	LastUpdated       time.Time  `json:"last_updated"`
}

// DefaultBotState is the cold-start state: flat, zero counters.
func DefaultBotState() *BotState {
	return &BotState{
		Version:   StateVersion,
		Direction: DirectionFlat,
	}
}

// Migrate upgrades a state loaded from an older schema version in place.
func (s *BotState) Migrate() {
	if s.Version >= StateVersion {
		return
	}
	// Version 0 predates the direction field: every position it could record
	// was a long.
	if s.Direction == "" {
		if s.InPosition {
			s.Direction = DirectionLong
		} else {
			s.Direction = DirectionFlat
		}
	}
	s.Version = StateVersion
}

// Position reconstructs the in-memory position from persisted state, or nil
// when flat.
func (s *BotState) Position(asset string) *Position {
	if !s.InPosition || s.Direction == DirectionFlat {
		return nil
	}
	p := &Position{
		Asset:     asset,
		Direction: s.Direction,
		Tranches:  s.Tranches,
		Dead:      s.Dead,
	}
	if s.EntryTime != nil {
		p.EntryTime = *s.EntryTime
	}
	if s.EntryPrice != nil {
		p.EntryPrice = *s.EntryPrice
	}
	if s.PositionSize != nil {
		p.Size = *s.PositionSize
	}
	if s.PeakPrice != nil {
		p.PeakPrice = *s.PeakPrice
	}
	return p
}
