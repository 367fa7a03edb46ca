package usecase

import (
	"math"
	"testing"

	"github.com/arlov/crypto_trade_bot/internal/domain"
)

func TestBuildTranches_RemainderToLast(t *testing.T) {
	tranches, err := BuildTranches([]float64{2, 5, 10}, []float64{0.33, 0.33, 0.34}, 300)
	if err != nil {
		t.Fatalf("BuildTranches failed: %v", err)
	}
	if len(tranches) != 3 {
		t.Fatalf("expected 3 tranches, got %d", len(tranches))
	}

	if tranches[0].Size != 99 || tranches[1].Size != 99 {
		t.Errorf("fractional sizes wrong: %f, %f", tranches[0].Size, tranches[1].Size)
	}
	// Last tranche absorbs the remainder: sizes must sum exactly.
	var sum float64
	for _, tr := range tranches {
		sum += tr.Size
	}
	if math.Abs(sum-300) > 1e-12 {
		t.Errorf("sizes must sum to total, got %f", sum)
	}
}

func TestBuildTranches_LengthMismatch(t *testing.T) {
	if _, err := BuildTranches([]float64{2, 5}, []float64{1}, 100); err == nil {
		t.Error("mismatched lengths must fail")
	}
	if _, err := BuildTranches(nil, nil, 100); err == nil {
		t.Error("empty plan must fail")
	}
}

func TestDueTranches(t *testing.T) {
	tranches, _ := BuildTranches([]float64{2, 5, 10}, []float64{0.33, 0.33, 0.34}, 300)
	pos := &domain.Position{
		Direction:  domain.DirectionLong,
		EntryPrice: 0.001,
		Size:       300,
		Tranches:   tranches,
	}

	if due := DueTranches(pos, 0.0015); due != nil {
		t.Errorf("1.5x must trigger nothing, got %v", due)
	}
	if due := DueTranches(pos, 0.002); len(due) != 1 || due[0] != 0 {
		t.Errorf("2x must trigger tranche 0, got %v", due)
	}
	// A gap up through multiple targets triggers them all at once.
	if due := DueTranches(pos, 0.006); len(due) != 2 {
		t.Errorf("6x must trigger tranches 0 and 1, got %v", due)
	}

	pos.Tranches[0].Filled = true
	if due := DueTranches(pos, 0.002); due != nil {
		t.Errorf("filled tranche must not re-trigger, got %v", due)
	}

	pos.Dead = true
	if due := DueTranches(pos, 1.0); due != nil {
		t.Errorf("dead position must have no due tranches, got %v", due)
	}
}

func TestDeadTokenConfig_IsDead(t *testing.T) {
	cfg := DefaultDeadTokenConfig()

	cases := []struct {
		liquidity, fdv float64
		dead           bool
	}{
		{5000, 100000, false},
		{99, 100000, true},   // liquidity below floor
		{5000, 999, true},    // fdv below floor
		{100, 1000, false},   // exactly at both floors
		{0, 0, true},
	}
	for _, tc := range cases {
		got := cfg.IsDead(&domain.TokenInfo{LiquidityUSD: tc.liquidity, FDVUSD: tc.fdv})
		if got != tc.dead {
			t.Errorf("IsDead(liq=%.0f fdv=%.0f) = %v, want %v", tc.liquidity, tc.fdv, got, tc.dead)
		}
	}
}

func TestRemainingSize(t *testing.T) {
	tranches, _ := BuildTranches([]float64{2, 5, 10}, []float64{0.33, 0.33, 0.34}, 300)
	pos := &domain.Position{Tranches: tranches}

	if got := RemainingSize(pos); got != 300 {
		t.Errorf("all unfilled: got %f", got)
	}
	pos.Tranches[0].Filled = true
	if got := RemainingSize(pos); got != 201 {
		t.Errorf("after first fill: got %f, want 201", got)
	}
}
