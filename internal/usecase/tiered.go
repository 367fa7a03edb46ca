package usecase

import (
	"fmt"

	"github.com/arlov/crypto_trade_bot/internal/domain"
)

// DeadTokenConfig holds the floors below which a token is considered dead.
// A dead token is excluded from further price checks but never force-sold:
// this is a monitoring stop, not an exit rule.
type DeadTokenConfig struct {
	MinLiquidityUSD float64
	MinFDVUSD       float64
}

func DefaultDeadTokenConfig() DeadTokenConfig {
	return DeadTokenConfig{MinLiquidityUSD: 100, MinFDVUSD: 1000}
}

func (c DeadTokenConfig) IsDead(info *domain.TokenInfo) bool {
	return info.LiquidityUSD < c.MinLiquidityUSD || info.FDVUSD < c.MinFDVUSD
}

// BuildTranches resolves target multiples and size fractions into an ordered
// exit plan over totalSize base units. The last tranche absorbs the rounding
// remainder so the sizes always sum to totalSize.
func BuildTranches(targets, fractions []float64, totalSize float64) ([]domain.Tranche, error) {
	if len(targets) == 0 || len(targets) != len(fractions) {
		return nil, fmt.Errorf("tranche targets (%d) and fractions (%d) must be non-empty and equal length", len(targets), len(fractions))
	}
	tranches := make([]domain.Tranche, 0, len(targets))
	remaining := totalSize
	for i := range targets {
		size := totalSize * fractions[i]
		if i == len(targets)-1 {
			size = remaining
		}
		tranches = append(tranches, domain.Tranche{
			TargetMultiple: targets[i],
			SizeFraction:   fractions[i],
			Size:           size,
		})
		remaining -= size
	}
	return tranches, nil
}

// DueTranches returns the indexes of unfilled tranches whose target multiple
// the current price has reached. A dead position never has due tranches.
func DueTranches(pos *domain.Position, price float64) []int {
	if pos == nil || pos.Dead || pos.Direction == domain.DirectionFlat || pos.EntryPrice <= 0 {
		return nil
	}
	multiple := price / pos.EntryPrice
	var due []int
	for i := range pos.Tranches {
		if pos.Tranches[i].Filled {
			continue
		}
		if multiple >= pos.Tranches[i].TargetMultiple {
			due = append(due, i)
		}
	}
	return due
}

// RemainingSize is the unfilled quantity across all tranches.
func RemainingSize(pos *domain.Position) float64 {
	var remaining float64
	for i := range pos.Tranches {
		if !pos.Tranches[i].Filled {
			remaining += pos.Tranches[i].Size
		}
	}
	return remaining
}

func trancheReason(targetMultiple float64) string {
	return fmt.Sprintf("tranche %gx target", targetMultiple)
}
