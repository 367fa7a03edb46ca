package usecase

import (
	"fmt"
	"time"
)

// RiskConfig holds the circuit breaker thresholds.
type RiskConfig struct {
	MaxDailyLossPct      float64
	MaxConsecutiveLosses int
	MaxDataAge           time.Duration
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyLossPct:      5.0,
		MaxConsecutiveLosses: 3,
		MaxDataAge:           10 * time.Minute,
	}
}

// RiskGate is a pure evaluation of circuit breakers over the current risk
// counters. It has no side effects and holds no mutable state.
//
// The gating is deliberately asymmetric: every breaker can block a new entry,
// but only stale data can block an exit. A daily-loss or streak breach must
// never prevent closing an existing position.
type RiskGate struct {
	cfg RiskConfig
}

func NewRiskGate(cfg RiskConfig) *RiskGate {
	if cfg.MaxDailyLossPct <= 0 {
		cfg.MaxDailyLossPct = 5.0
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = 3
	}
	if cfg.MaxDataAge <= 0 {
		cfg.MaxDataAge = 10 * time.Minute
	}
	return &RiskGate{cfg: cfg}
}

// DailyLossOK fails when the day's loss meets or exceeds the configured
// percentage of the day's starting balance.
func (g *RiskGate) DailyLossOK(balance, startBalance float64) (bool, string) {
	if startBalance <= 0 {
		return true, "no daily baseline yet"
	}
	lossPct := (balance - startBalance) / startBalance * 100
	if lossPct <= -g.cfg.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss %.2f%% exceeds limit of -%.1f%%", lossPct, g.cfg.MaxDailyLossPct)
	}
	return true, fmt.Sprintf("daily loss %+.2f%% within limits", lossPct)
}

// StreakOK fails once the loss streak reaches the configured maximum.
func (g *RiskGate) StreakOK(consecutiveLosses int) (bool, string) {
	if consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return false, fmt.Sprintf("%d consecutive losses (max: %d)", consecutiveLosses, g.cfg.MaxConsecutiveLosses)
	}
	return true, fmt.Sprintf("%d consecutive losses (within limits)", consecutiveLosses)
}

// FreshEnough fails when the last price update is older than the configured
// maximum age.
func (g *RiskGate) FreshEnough(lastUpdate, now time.Time) (bool, string) {
	age := now.Sub(lastUpdate)
	if age > g.cfg.MaxDataAge {
		return false, fmt.Sprintf("price data stale (%.1f minutes old, max: %.0f)", age.Minutes(), g.cfg.MaxDataAge.Minutes())
	}
	return true, fmt.Sprintf("price data fresh (%.1f minutes old)", age.Minutes())
}

// ShouldAllowEntry is the AND of all three breakers: any failure blocks new
// risk.
func (g *RiskGate) ShouldAllowEntry(balance, startBalance float64, consecutiveLosses int, lastUpdate, now time.Time) (bool, string) {
	if ok, reason := g.DailyLossOK(balance, startBalance); !ok {
		return false, "entry blocked: " + reason
	}
	if ok, reason := g.StreakOK(consecutiveLosses); !ok {
		return false, "entry blocked: " + reason
	}
	if ok, reason := g.FreshEnough(lastUpdate, now); !ok {
		return false, "entry blocked: " + reason
	}
	return true, "entry allowed"
}

// ShouldAllowExit checks staleness only: exiting an open position must stay
// possible even when the loss breakers have tripped.
func (g *RiskGate) ShouldAllowExit(lastUpdate, now time.Time) (bool, string) {
	if ok, reason := g.FreshEnough(lastUpdate, now); !ok {
		return false, "exit blocked: " + reason
	}
	return true, "exit allowed"
}
