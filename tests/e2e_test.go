package tests

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/state"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/storage"
	"github.com/arlov/crypto_trade_bot/internal/usecase"
	"go.uber.org/zap"
)

type fixture struct {
	dir      string
	exchange *MockExchange
	strategy *ToggleStrategy
	notifier *MockNotifier
	store    *state.Store
	journal  *storage.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := state.NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	journal, err := storage.NewSQLiteStore(filepath.Join(dir, "bot.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	return &fixture{
		dir:      dir,
		exchange: &MockExchange{Price: 100, Balance: 10000},
		strategy: &ToggleStrategy{},
		notifier: &MockNotifier{},
		store:    store,
		journal:  journal,
	}
}

func (f *fixture) newBot(t *testing.T) *usecase.Bot {
	t.Helper()
	bot, err := usecase.NewBot(usecase.BotConfig{
		Asset:             "BTCUSDT",
		FeeRate:           0.001,
		TickInterval:      10 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		Timezone:          "UTC",
	}, usecase.BotDeps{
		Exchange: f.exchange,
		Gate:     usecase.NewRiskGate(usecase.DefaultRiskConfig()),
		Strategy: f.strategy,
		Store:    f.store,
		Trades:   f.journal,
		Notifier: f.notifier,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return bot
}

// Full lifecycle: enter, crash, restore from disk against the venue, exit.
// Every step must leave a consistent state file and journal rows behind.
func TestLifecycleAcrossRestart(t *testing.T) {
	f := newFixture(t)

	// --- Session 1: enter a long, then "crash".
	bot := f.newBot(t)
	if err := bot.Restore(context.Background()); err != nil {
		t.Fatalf("first restore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan domain.Command, 4)
	done := make(chan struct{})
	f.strategy.SetEnter(true)
	go func() {
		bot.Run(ctx, commands)
		close(done)
	}()

	if !waitFor(2*time.Second, func() bool {
		return bot.Status().Direction == domain.DirectionLong
	}) {
		t.Fatal("bot never entered the position")
	}
	cancel()
	<-done

	// --- Session 2: restart; the venue still holds the position.
	f.exchange.SetPositions([]domain.ExchangePosition{
		{Asset: "BTCUSDT", Size: 99.9, EntryPrice: 100},
	})
	bot2 := f.newBot(t)
	if err := bot2.Restore(context.Background()); err != nil {
		t.Fatalf("second restore: %v", err)
	}
	st := bot2.Status()
	if st.Direction != domain.DirectionLong {
		t.Fatalf("restored direction = %s, want LONG", st.Direction)
	}
	if st.EntryPrice != 100 {
		t.Fatalf("restored entry = %f, want 100", st.EntryPrice)
	}

	// --- Close via trailing exit at a profit.
	f.exchange.SetPrice(100.47)
	f.strategy.SetEnter(false)
	f.strategy.SetExit(true)

	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan struct{})
	go func() {
		bot2.Run(ctx2, make(chan domain.Command))
		close(done2)
	}()
	if !waitFor(2*time.Second, func() bool {
		return bot2.Status().Direction == domain.DirectionFlat
	}) {
		t.Fatal("bot never closed the position")
	}
	cancel2()
	<-done2

	// --- The journal saw the whole story.
	trades, err := f.journal.ListTrades(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) < 2 {
		t.Fatalf("expected entry and exit fills in the journal, got %d", len(trades))
	}

	history, err := f.journal.ListPositionHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListPositionHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(history))
	}
	if history[0].RealizedPnL <= 0 {
		t.Errorf("exit at 100.47 from 100 must realize a gain, got %f", history[0].RealizedPnL)
	}
	if !f.notifier.Contains("ENTRY") || !f.notifier.Contains("EXIT") {
		t.Error("entry and exit must both be announced")
	}
}

// A persisted position the venue does not hold is discarded with a warning:
// the venue is authoritative.
func TestRestoreVenueFlatDiscardsPosition(t *testing.T) {
	f := newFixture(t)

	entry := 100.0
	size := 9.99
	peak := 101.0
	ts := time.Now().UTC()
	if err := f.store.Save(&domain.BotState{
		InPosition:   true,
		Direction:    domain.DirectionLong,
		EntryTime:    &ts,
		EntryPrice:   &entry,
		PositionSize: &size,
		PeakPrice:    &peak,
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	// Venue reports nothing open.
	f.exchange.SetPositions(nil)

	bot := f.newBot(t)
	if err := bot.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if bot.Status().Direction != domain.DirectionFlat {
		t.Error("position the venue does not hold must be discarded")
	}
}

func TestRestoreCorruptStateSurfaces(t *testing.T) {
	f := newFixture(t)

	if err := os.WriteFile(filepath.Join(f.dir, "bot_state.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, "bot_state.backup.json"), []byte("{also broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	bot := f.newBot(t)
	err := bot.Restore(context.Background())
	if !errors.Is(err, domain.ErrStateCorrupt) {
		t.Fatalf("expected ErrStateCorrupt, got %v", err)
	}

	// The operator chose a cold start: trading can proceed from scratch.
	if err := bot.ColdStart(context.Background()); err != nil {
		t.Fatalf("cold start: %v", err)
	}
	if bot.Status().Direction != domain.DirectionFlat || bot.Status().Cash != 10000 {
		t.Errorf("cold start must fund a flat book, got %+v", bot.Status())
	}
}

func TestPauseCommandDuringRun(t *testing.T) {
	f := newFixture(t)
	bot := f.newBot(t)
	if err := bot.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	commands := make(chan domain.Command, 1)
	done := make(chan struct{})
	go func() {
		bot.Run(ctx, commands)
		close(done)
	}()

	reply := make(chan string, 1)
	commands <- domain.Command{Kind: domain.CommandPause, Reply: reply}
	select {
	case <-reply:
	case <-time.After(2 * time.Second):
		t.Fatal("pause command never replied")
	}
	if bot.State() != usecase.StatePaused {
		t.Fatalf("state = %s, want paused", bot.State())
	}

	// An entry signal while paused must be ignored.
	f.strategy.SetEnter(true)
	time.Sleep(50 * time.Millisecond)
	if bot.Status().Direction != domain.DirectionFlat {
		t.Error("paused bot must not trade")
	}

	cancel()
	<-done
}
