package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
)

// Simulator replays a historical candle series and a time-ordered signal
// sequence through a position book, producing an equity curve and summary
// metrics. The replay is deterministic and consults no risk gate: historical
// replay assumes perfect risk compliance.
type Simulator struct {
	initialCapital float64
	feeRate        float64
}

// NewSimulator takes the fee as a percentage per trade leg (0.1 means 0.1%).
func NewSimulator(initialCapital, feePct float64) *Simulator {
	return &Simulator{
		initialCapital: initialCapital,
		feeRate:        feePct / 100,
	}
}

type EquityPoint struct {
	Time      time.Time
	Value     float64
	Cash      float64
	Price     float64
	Direction domain.Direction
}

type BacktestResult struct {
	InitialCapital   float64
	FinalValue       float64
	TotalReturn      float64
	TotalReturnPct   float64
	BuyHoldReturnPct float64

	TotalTrades   int
	LongTrades    int
	ShortTrades   int
	LongWins      int
	ShortWins     int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64

	// MaxDrawdownPct is the most negative percentage decline of the equity
	// curve from its running peak.
	MaxDrawdownPct float64

	Trades []domain.Trade
	Equity []EquityPoint
}

// Run walks the candle series, consuming one signal per candle. A source that
// ends early is treated as holding for the remaining candles.
func (s *Simulator) Run(ctx context.Context, candles []domain.Candle, src domain.SignalSource) (*BacktestResult, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to replay")
	}

	book := NewBook("", s.initialCapital)
	equity := make([]EquityPoint, 0, len(candles))
	exhausted := false

	for _, candle := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts := time.Unix(candle.Time, 0).UTC()
		price := candle.Close

		equity = append(equity, EquityPoint{
			Time:      ts,
			Value:     book.MarkToMarket(price),
			Cash:      book.Cash(),
			Price:     price,
			Direction: book.Direction(),
		})

		action := domain.ActionHold
		if !exhausted {
			sig, err := src.Next(ctx)
			if errors.Is(err, domain.ErrEndOfSignals) {
				exhausted = true
			} else if err != nil {
				return nil, fmt.Errorf("signal source: %w", err)
			} else {
				action = sig.Action
			}
		}

		if err := s.step(book, ts, price, action); err != nil {
			return nil, err
		}
	}

	return s.metrics(book, candles, equity), nil
}

func (s *Simulator) step(book *Book, ts time.Time, price float64, action domain.Action) error {
	switch {
	case action == domain.ActionLong && book.Direction() == domain.DirectionFlat:
		_, err := book.OpenLong(ts, price, book.Cash(), s.feeRate)
		return err
	case action == domain.ActionShort && book.Direction() == domain.DirectionFlat:
		_, err := book.OpenShort(ts, price, book.Cash(), s.feeRate)
		return err
	case action == domain.ActionExit && book.Direction() != domain.DirectionFlat:
		_, err := book.Close(ts, price, s.feeRate, "signal exit")
		return err
	}
	// Everything else holds: duplicate entries while in a position and exits
	// while flat are ignored, matching the replay semantics.
	return nil
}

func (s *Simulator) metrics(book *Book, candles []domain.Candle, equity []EquityPoint) *BacktestResult {
	finalValue := equity[len(equity)-1].Value

	res := &BacktestResult{
		InitialCapital: s.initialCapital,
		FinalValue:     finalValue,
		TotalReturn:    finalValue - s.initialCapital,
		Trades:         book.Trades(),
		Equity:         equity,
	}
	res.TotalReturnPct = res.TotalReturn / s.initialCapital * 100

	first, last := candles[0].Close, candles[len(candles)-1].Close
	res.BuyHoldReturnPct = (last - first) / first * 100

	var winSum, lossSum float64
	for _, trade := range res.Trades {
		if trade.RealizedPnL == nil {
			continue // entry fill
		}
		res.TotalTrades++
		pnl := *trade.RealizedPnL
		if trade.Direction == domain.DirectionShort {
			res.ShortTrades++
			if pnl > 0 {
				res.ShortWins++
			}
		} else {
			res.LongTrades++
			if pnl > 0 {
				res.LongWins++
			}
		}
		if pnl > 0 {
			res.WinningTrades++
			winSum += pnl
		} else {
			res.LosingTrades++
			lossSum += pnl
		}
	}
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades) * 100
	}
	if res.WinningTrades > 0 {
		res.AvgWin = winSum / float64(res.WinningTrades)
	}
	if res.LosingTrades > 0 {
		res.AvgLoss = lossSum / float64(res.LosingTrades)
	}

	peak := equity[0].Value
	for _, point := range equity {
		if point.Value > peak {
			peak = point.Value
		}
		if peak > 0 {
			dd := (point.Value - peak) / peak * 100
			if dd < res.MaxDrawdownPct {
				res.MaxDrawdownPct = dd
			}
		}
	}
	return res
}
