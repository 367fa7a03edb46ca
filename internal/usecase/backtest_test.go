package usecase

import (
	"context"
	"testing"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleSeries(closes ...float64) []domain.Candle {
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = domain.Candle{Time: int64(1700000000 + i*3600), Close: c, Open: c, High: c, Low: c}
	}
	return candles
}

func signalSeries(actions ...domain.Action) domain.SignalSource {
	signals := make([]domain.Signal, len(actions))
	for i, a := range actions {
		signals[i] = domain.Signal{Action: a}
	}
	return NewSliceSource(signals)
}

func TestSimulator_LongRoundTripNoFees(t *testing.T) {
	sim := NewSimulator(10000, 0)
	candles := candleSeries(100, 110, 120)
	src := signalSeries(domain.ActionLong, domain.ActionHold, domain.ActionExit)

	res, err := sim.Run(context.Background(), candles, src)
	require.NoError(t, err)

	// 10000 at 100 -> 100 units -> sold at 120 = 12000
	assert.InDelta(t, 12000, res.FinalValue, 1e-6)
	assert.InDelta(t, 20, res.TotalReturnPct, 1e-6)
	assert.Equal(t, 1, res.TotalTrades)
	assert.Equal(t, 1, res.LongTrades)
	assert.InDelta(t, 100, res.WinRate, 1e-9)
	assert.InDelta(t, 20, res.BuyHoldReturnPct, 1e-6)
}

func TestSimulator_FeesReduceReturn(t *testing.T) {
	candles := candleSeries(100, 110, 120)

	noFee, err := NewSimulator(10000, 0).Run(context.Background(), candles,
		signalSeries(domain.ActionLong, domain.ActionHold, domain.ActionExit))
	require.NoError(t, err)

	withFee, err := NewSimulator(10000, 0.1).Run(context.Background(), candles,
		signalSeries(domain.ActionLong, domain.ActionHold, domain.ActionExit))
	require.NoError(t, err)

	assert.Less(t, withFee.FinalValue, noFee.FinalValue)
	assert.Greater(t, withFee.TotalReturn, 0.0, "0.1%% fees must not flip a 20%% move negative")
}

func TestSimulator_ShortSide(t *testing.T) {
	sim := NewSimulator(10000, 0)
	candles := candleSeries(100, 90, 80)
	src := signalSeries(domain.ActionShort, domain.ActionHold, domain.ActionExit)

	res, err := sim.Run(context.Background(), candles, src)
	require.NoError(t, err)

	assert.Equal(t, 1, res.ShortTrades)
	assert.Equal(t, 1, res.ShortWins)
	assert.Greater(t, res.TotalReturn, 0.0)
	// Buy and hold lost 20% while the short won.
	assert.InDelta(t, -20, res.BuyHoldReturnPct, 1e-6)
}

func TestSimulator_EquityRecordedBeforeSignal(t *testing.T) {
	sim := NewSimulator(10000, 0)
	candles := candleSeries(100, 110)
	src := signalSeries(domain.ActionLong, domain.ActionHold)

	res, err := sim.Run(context.Background(), candles, src)
	require.NoError(t, err)
	require.Len(t, res.Equity, 2)

	// First point is all cash: the long opens after the equity snapshot.
	assert.Equal(t, domain.DirectionFlat, res.Equity[0].Direction)
	assert.InDelta(t, 10000, res.Equity[0].Value, 1e-9)
	assert.Equal(t, domain.DirectionLong, res.Equity[1].Direction)
}

func TestSimulator_ExhaustedSourceHolds(t *testing.T) {
	sim := NewSimulator(10000, 0)
	candles := candleSeries(100, 110, 120, 130)
	// Only one signal: the long stays open to the end.
	src := signalSeries(domain.ActionLong)

	res, err := sim.Run(context.Background(), candles, src)
	require.NoError(t, err)

	assert.Equal(t, 0, res.TotalTrades, "no close means no completed trades")
	assert.InDelta(t, 13000, res.FinalValue, 1e-6)
}

func TestSimulator_DuplicateSignalsIgnored(t *testing.T) {
	sim := NewSimulator(10000, 0)
	candles := candleSeries(100, 110, 120)
	// Second LONG while in position, EXIT then closes. Only one round trip.
	src := signalSeries(domain.ActionLong, domain.ActionLong, domain.ActionExit)

	res, err := sim.Run(context.Background(), candles, src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalTrades)
	assert.Len(t, res.Trades, 2) // entry fill + close
}

func TestSimulator_MaxDrawdown(t *testing.T) {
	sim := NewSimulator(10000, 0)
	// Ride a long through a spike and a dip: peak 15000, trough 9000.
	candles := candleSeries(100, 150, 90, 100)
	src := signalSeries(domain.ActionLong, domain.ActionHold, domain.ActionHold, domain.ActionHold)

	res, err := sim.Run(context.Background(), candles, src)
	require.NoError(t, err)

	// (9000 - 15000) / 15000 = -40%
	assert.InDelta(t, -40, res.MaxDrawdownPct, 1e-6)
	assert.LessOrEqual(t, res.MaxDrawdownPct, 0.0)
}

func TestSimulator_EmptyCandles(t *testing.T) {
	_, err := NewSimulator(10000, 0).Run(context.Background(), nil, signalSeries())
	assert.Error(t, err)
}
