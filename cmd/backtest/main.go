package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/logger"
	"github.com/arlov/crypto_trade_bot/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	candlesPath := flag.String("candles", "", "CSV file with candles: time,open,high,low,close,volume")
	signalsPath := flag.String("signals", "", "CSV file with signals: time,action (LONG|SHORT|EXIT|HOLD)")
	capital := flag.Float64("capital", 10000, "starting capital in USD")
	feePct := flag.Float64("fee", 0.1, "fee percentage per trade leg")
	showTrades := flag.Bool("trades", false, "print every trade")
	logLevel := flag.String("log", "warn", "log level")
	flag.Parse()

	log, err := logger.NewLogger(*logLevel)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *candlesPath == "" || *signalsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	candles, err := loadCandles(*candlesPath)
	if err != nil {
		log.Fatal("Failed to load candles", zap.Error(err))
	}
	signals, err := loadSignals(*signalsPath)
	if err != nil {
		log.Fatal("Failed to load signals", zap.Error(err))
	}
	log.Info("loaded inputs", zap.Int("candles", len(candles)), zap.Int("signals", len(signals)))

	sim := usecase.NewSimulator(*capital, *feePct)
	result, err := sim.Run(context.Background(), candles, usecase.NewSliceSource(signals))
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}

	printResult(result, *showTrades)
}

func loadCandles(path string) ([]domain.Candle, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", i+2, len(row))
		}
		ts, err := parseTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		var vals [5]float64
		for j := 0; j < 5; j++ {
			vals[j], err = strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", i+2, j+2, err)
			}
		}
		candles = append(candles, domain.Candle{
			Time:   ts.Unix(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return candles, nil
}

func loadSignals(path string) ([]domain.Signal, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	signals := make([]domain.Signal, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("line %d: expected 2 columns, got %d", i+2, len(row))
		}
		ts, err := parseTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		action := domain.Action(strings.ToUpper(strings.TrimSpace(row[1])))
		switch action {
		case domain.ActionLong, domain.ActionShort, domain.ActionExit, domain.ActionHold:
		default:
			return nil, fmt.Errorf("line %d: unknown action %q", i+2, row[1])
		}
		signals = append(signals, domain.Signal{Action: action, Timestamp: ts})
	}
	return signals, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	var rows [][]string
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// Skip a header row.
		if first {
			first = false
			if _, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64); err != nil {
				if _, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0])); err != nil {
					continue
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseTime accepts unix seconds or RFC 3339.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q", raw)
	}
	return ts.UTC(), nil
}

func printResult(r *usecase.BacktestResult, showTrades bool) {
	fmt.Println("==== Backtest Result ====")
	fmt.Printf("Initial capital:  $%.2f\n", r.InitialCapital)
	fmt.Printf("Final value:      $%.2f\n", r.FinalValue)
	fmt.Printf("Total return:     $%+.2f (%+.2f%%)\n", r.TotalReturn, r.TotalReturnPct)
	fmt.Printf("Buy & hold:       %+.2f%%\n", r.BuyHoldReturnPct)
	fmt.Printf("Max drawdown:     %.2f%%\n", r.MaxDrawdownPct)
	fmt.Println()
	fmt.Printf("Trades:           %d (%d long, %d short)\n", r.TotalTrades, r.LongTrades, r.ShortTrades)
	fmt.Printf("Win rate:         %.1f%% (%d wins, %d losses)\n", r.WinRate, r.WinningTrades, r.LosingTrades)
	fmt.Printf("Long wins:        %d/%d\n", r.LongWins, r.LongTrades)
	fmt.Printf("Short wins:       %d/%d\n", r.ShortWins, r.ShortTrades)
	fmt.Printf("Avg win:          $%+.2f\n", r.AvgWin)
	fmt.Printf("Avg loss:         $%+.2f\n", r.AvgLoss)

	if !showTrades {
		return
	}
	fmt.Println()
	fmt.Println("==== Trades ====")
	for _, t := range r.Trades {
		pnl := ""
		if t.RealizedPnL != nil {
			pnl = fmt.Sprintf("  pnl $%+.2f", *t.RealizedPnL)
		}
		fmt.Printf("%s  %-4s %-5s  %12.4f @ %.4f  fee %.4f%s\n",
			t.Timestamp.Format("2006-01-02 15:04"), t.Side, t.Direction, t.Quantity, t.Price, t.Fee, pnl)
	}
}
