package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

type LoopState string

const (
	StateRunning LoopState = "running"
	StatePaused  LoopState = "paused"
	StateStopped LoopState = "stopped"
)

type BotConfig struct {
	Asset             string
	FeeRate           float64 // per leg, e.g. 0.001 for 0.1%
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	Timezone          string

	// StopFile is the external stop sentinel: its presence requests an
	// emergency shutdown, honored with at most one tick of latency.
	StopFile string

	// CapitalBufferPct of cash is left unspent on entries to cover fees.
	CapitalBufferPct float64

	TrancheTargets       []float64
	TrancheFractions     []float64
	MinEntryLiquidityUSD float64
	DeadToken            DeadTokenConfig
}

type BotDeps struct {
	Exchange  domain.Exchange
	Gate      *RiskGate
	Strategy  domain.Strategy
	Store     domain.StateStore
	Trades    domain.TradeRepository
	TokenInfo domain.TokenInfoProvider
	Notifier  domain.Notifier
	Logger    *zap.Logger

	// Credentials resolves a named credential set to a fresh exchange client
	// for the switch_credentials command.
	Credentials func(name string) (domain.Exchange, error)
}

// Bot is the live execution loop: a periodic tick task plus a concurrent
// command pump, both single-writer over the shared position/counters/client
// state through one mutex. The mutex is held only around state mutation,
// never across network calls or retry sleeps.
type Bot struct {
	cfg BotConfig
	loc *time.Location

	mu            sync.Mutex
	state         LoopState
	book          *Book
	counters      domain.RiskCounters
	exchange      domain.Exchange
	lastPrice     float64
	lastPriceAt   time.Time
	orderInFlight bool

	gate      *RiskGate
	strategy  domain.Strategy
	store     domain.StateStore
	trades    domain.TradeRepository
	tokenInfo domain.TokenInfoProvider
	notifier  domain.Notifier
	logger    *zap.Logger

	credentials func(name string) (domain.Exchange, error)

	lastHeartbeat time.Time
	loopCount     int
}

func NewBot(cfg BotConfig, deps BotDeps) (*Bot, error) {
	if cfg.Asset == "" {
		return nil, fmt.Errorf("bot config: asset is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}
	if cfg.CapitalBufferPct <= 0 {
		cfg.CapitalBufferPct = 0.1
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load bot timezone: %w", err)
	}
	return &Bot{
		cfg:         cfg,
		loc:         loc,
		state:       StateRunning,
		book:        NewBook(cfg.Asset, 0),
		exchange:    deps.Exchange,
		gate:        deps.Gate,
		strategy:    deps.Strategy,
		store:       deps.Store,
		trades:      deps.Trades,
		tokenInfo:   deps.TokenInfo,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		credentials: deps.Credentials,
	}, nil
}

// Restore loads persisted state, funds the book from the venue balance and
// reconciles any recorded position against the venue's own report.
func (b *Bot) Restore(ctx context.Context) error {
	st, err := b.store.Load()
	if err != nil {
		return err
	}

	balance, err := b.exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch starting balance: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.book = NewBook(b.cfg.Asset, balance)
	b.counters = domain.RiskCounters{
		DailyStartBalance: st.DailyStartBalance,
		DailyPnL:          st.DailyPnL,
		ConsecutiveLosses: st.ConsecutiveLosses,
		LastTradeResult:   st.LastTradeResult,
		LastResetDate:     st.LastResetDate,
	}

	pos := st.Position(b.cfg.Asset)
	if pos == nil {
		return nil
	}

	venuePositions, err := b.exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile position on startup: %w", err)
	}
	if len(pos.Tranches) == 0 && !venueHolds(venuePositions, b.cfg.Asset) {
		b.logger.Warn("persisted state says in position but venue reports flat, starting flat",
			zap.String("asset", b.cfg.Asset),
			zap.Float64("entry_price", pos.EntryPrice))
		return nil
	}
	b.book.SetPosition(*pos)
	b.logger.Info("position restored from state",
		zap.String("direction", string(pos.Direction)),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("size", pos.Size))
	return nil
}

// ColdStart discards any persisted state and begins flat with the venue
// balance. Used when the operator confirms starting over corrupt state files.
func (b *Bot) ColdStart(ctx context.Context) error {
	balance, err := b.exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch starting balance: %w", err)
	}

	b.mu.Lock()
	b.book = NewBook(b.cfg.Asset, balance)
	b.counters = domain.RiskCounters{}
	state := b.book.Snapshot(b.counters)
	b.mu.Unlock()

	if err := b.store.Save(state); err != nil {
		return fmt.Errorf("write fresh state: %w", err)
	}
	return nil
}

func venueHolds(positions []domain.ExchangePosition, asset string) bool {
	for _, p := range positions {
		if p.Asset == asset && p.Size != 0 {
			return true
		}
	}
	return false
}

// Run drives the tick loop and the command pump until the context is
// cancelled, the stop sentinel appears, or a command stops the bot.
func (b *Bot) Run(ctx context.Context, commands <-chan domain.Command) {
	setLoopStateMetric(b.State())
	go b.commandPump(ctx, commands)

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		b.tick(ctx, time.Now().UTC())
		if b.State() == StateStopped {
			return
		}
		select {
		case <-ctx.Done():
			b.setState(StateStopped)
			return
		case <-ticker.C:
		}
	}
}

func (b *Bot) State() LoopState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bot) setState(s LoopState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	setLoopStateMetric(s)
}

// pause flips the loop to Paused and alerts; trading resumes only via an
// explicit resume command.
func (b *Bot) pause(reason string) {
	b.setState(StatePaused)
	b.logger.Warn("trading paused", zap.String("reason", reason))
	b.notifier.Send("Trading PAUSED: " + reason + "\nSend /resume to continue.")
}

// ObservePrice refreshes the data-freshness watermark and the trailing-stop
// peak. Also called by the websocket stream between ticks.
func (b *Bot) ObservePrice(price float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice = price
	if at.After(b.lastPriceAt) {
		b.lastPriceAt = at
	}
	b.book.UpdatePeak(price)
}

func (b *Bot) tick(ctx context.Context, now time.Time) {
	b.loopCount++
	mtxTicks.Inc()
	log := b.logger.With(zap.Int("loop", b.loopCount))

	if b.stopRequested() {
		log.Warn("stop file detected, shutting down", zap.String("path", b.cfg.StopFile))
		b.setState(StateStopped)
		b.notifier.Send("Bot stopped: stop file detected")
		return
	}

	if b.State() == StatePaused {
		log.Warn("bot is paused, skipping trading logic")
		b.heartbeat(now, b.lastObservedPrice())
		return
	}

	if err := b.runTick(ctx, now); err != nil {
		// The loop never silently continues trading after an unexplained
		// failure.
		log.Error("tick failed", zap.Error(err))
		b.pause("tick error: " + err.Error())
	}
}

func (b *Bot) runTick(ctx context.Context, now time.Time) error {
	if err := b.rolloverIfNeeded(ctx, now); err != nil {
		return err
	}

	price, err := b.currentExchange().GetPrice(ctx, b.cfg.Asset)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	b.ObservePrice(price, now)
	gaugeEquity.Set(b.markToMarket(price))
	b.logger.Info("tick", zap.String("asset", b.cfg.Asset), zap.Float64("price", price))

	b.mu.Lock()
	pos := b.book.Position()
	b.mu.Unlock()

	if pos.Direction == domain.DirectionFlat {
		if err := b.tryEnter(ctx, now, price); err != nil {
			return err
		}
	} else {
		if err := b.tryExit(ctx, now, price, pos); err != nil {
			return err
		}
	}

	b.heartbeat(now, price)
	return nil
}

func (b *Bot) tryEnter(ctx context.Context, now time.Time, price float64) error {
	shouldEnter, reason := b.strategy.ShouldEnter(now, price)
	b.logger.Info("entry check", zap.Bool("enter", shouldEnter), zap.String("reason", reason))
	if !shouldEnter {
		return nil
	}

	b.mu.Lock()
	cash := b.book.Cash()
	counters := b.counters
	lastPriceAt := b.lastPriceAt
	b.mu.Unlock()

	allowed, riskReason := b.gate.ShouldAllowEntry(cash, counters.DailyStartBalance, counters.ConsecutiveLosses, lastPriceAt, now)
	if !allowed {
		mtxBreakerTrips.WithLabelValues(breakerKind(riskReason)).Inc()
		b.logger.Warn("entry blocked by circuit breaker", zap.String("reason", riskReason))
		b.notifier.Send("CIRCUIT BREAKER: " + riskReason)
		b.pause(riskReason)
		return nil
	}

	if b.tokenInfo != nil && b.cfg.MinEntryLiquidityUSD > 0 {
		info, err := b.tokenInfo.GetTokenInfo(ctx, b.cfg.Asset)
		if err != nil {
			return fmt.Errorf("fetch token info: %w", err)
		}
		if info.LiquidityUSD < b.cfg.MinEntryLiquidityUSD {
			// Skip this signal and stay flat.
			b.logger.Info("entry skipped, liquidity below floor",
				zap.Float64("liquidity_usd", info.LiquidityUSD),
				zap.Float64("floor_usd", b.cfg.MinEntryLiquidityUSD),
				zap.Error(domain.ErrInsufficientLiquidity))
			return nil
		}
	}

	notional := cash * (1 - b.cfg.CapitalBufferPct/100)
	fill, err := b.placeOrder(ctx, domain.SideBuy, notional)
	if err != nil {
		return fmt.Errorf("entry order: %w", err)
	}

	b.mu.Lock()
	_, err = b.book.OpenLong(now, fill.Price, notional, b.cfg.FeeRate)
	if err == nil && len(b.cfg.TrancheTargets) > 0 {
		if tranches, terr := BuildTranches(b.cfg.TrancheTargets, b.cfg.TrancheFractions, b.book.Position().Size); terr == nil {
			err = b.book.SetTranches(tranches)
		} else {
			err = terr
		}
	}
	entry := b.lastBookTrade()
	state := b.book.Snapshot(b.counters)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("record entry: %w", err)
	}

	b.persist(ctx, state, entry, nil)
	mtxTrades.WithLabelValues("open").Inc()
	b.notifier.Send(fmt.Sprintf("[%s] ENTRY %s\nPrice: $%.2f\nSize: %.6f ($%.0f)\nReason: %s",
		strings.ToUpper(b.strategy.Name()), b.cfg.Asset, fill.Price, fill.Size, notional, reason))
	b.logger.Info("position opened",
		zap.Float64("fill_price", fill.Price),
		zap.Float64("size", fill.Size))
	return nil
}

func (b *Bot) tryExit(ctx context.Context, now time.Time, price float64, pos domain.Position) error {
	if len(pos.Tranches) > 0 {
		return b.checkTranches(ctx, now, price, pos)
	}

	if pos.Direction == domain.DirectionShort {
		// Shorts are only opened by upstream signals; they are closed the
		// same way, or by force-close.
		return nil
	}

	shouldExit, reason := b.strategy.ShouldExit(price, pos.EntryPrice, pos.PeakPrice)
	b.logger.Info("exit check", zap.Bool("exit", shouldExit), zap.String("reason", reason))
	if !shouldExit {
		return nil
	}

	b.mu.Lock()
	lastPriceAt := b.lastPriceAt
	b.mu.Unlock()
	if allowed, riskReason := b.gate.ShouldAllowExit(lastPriceAt, now); !allowed {
		b.logger.Warn("exit deferred", zap.String("reason", riskReason))
		return nil
	}

	_, err := b.ClosePosition(ctx, now, reason)
	if errors.Is(err, domain.ErrOrderInFlight) {
		// A concurrent force-close got there first; retry next tick.
		b.logger.Warn("exit skipped, another order is in flight")
		return nil
	}
	return err
}

// ClosePosition closes whatever is open at market. Used by the tick exit path
// and the force-close command.
func (b *Bot) ClosePosition(ctx context.Context, now time.Time, reason string) (*domain.Trade, error) {
	b.mu.Lock()
	pos := b.book.Position()
	b.mu.Unlock()
	if pos.Direction == domain.DirectionFlat {
		return nil, nil
	}

	side := domain.SideSell
	if pos.Direction == domain.DirectionShort {
		side = domain.SideBuy
	}

	price, err := b.currentExchange().GetPrice(ctx, b.cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("fetch price for close: %w", err)
	}
	b.ObservePrice(price, now)

	fill, err := b.placeOrder(ctx, side, pos.Size*price)
	if err != nil {
		fill, err = b.reconcileAmbiguousClose(ctx, err, price)
		if err != nil {
			return nil, fmt.Errorf("close order: %w", err)
		}
	}

	b.mu.Lock()
	trade, cerr := b.book.Close(now, fill.Price, b.cfg.FeeRate, reason)
	if cerr == nil {
		b.counters.RecordClose(*trade.RealizedPnL)
	}
	counters := b.counters
	state := b.book.Snapshot(b.counters)
	b.mu.Unlock()
	if cerr != nil {
		return nil, fmt.Errorf("record close: %w", cerr)
	}

	closed := &domain.ClosedPosition{
		Asset:       b.cfg.Asset,
		Direction:   pos.Direction,
		Size:        pos.Size,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fill.Price,
		RealizedPnL: *trade.RealizedPnL,
		Reason:      reason,
		ClosedAt:    now,
	}
	b.persist(ctx, state, trade, closed)

	result := "loss"
	if *trade.RealizedPnL > 0 {
		result = "win"
	}
	mtxTrades.WithLabelValues(result).Inc()

	pnlPct := (*trade.RealizedPnL) / (pos.Size * pos.EntryPrice) * 100
	b.notifier.Send(fmt.Sprintf("[%s] EXIT %s\nEntry: $%.2f\nExit: $%.2f\nP&L: %+.2f%% ($%+.2f)\nReason: %s",
		strings.ToUpper(b.strategy.Name()), b.cfg.Asset, pos.EntryPrice, fill.Price, pnlPct, *trade.RealizedPnL, reason))
	b.logger.Info("position closed",
		zap.Float64("exit_price", fill.Price),
		zap.Float64("pnl", *trade.RealizedPnL),
		zap.Int("consecutive_losses", counters.ConsecutiveLosses))
	return trade, nil
}

// reconcileAmbiguousClose handles a close order whose outcome is unknown: if
// the venue now reports the position gone, fills may have happened and the
// book is closed at the last observed price; if the position is still there,
// the error surfaces and the loop pauses for operator attention.
func (b *Bot) reconcileAmbiguousClose(ctx context.Context, orderErr error, price float64) (*domain.Fill, error) {
	var amb *domain.OrderAmbiguousError
	if !errors.As(orderErr, &amb) {
		return nil, orderErr
	}
	b.logger.Warn("order outcome ambiguous, reconciling via position query", zap.Error(orderErr))
	positions, err := b.currentExchange().GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile after ambiguous order: %w", err)
	}
	if venueHolds(positions, b.cfg.Asset) {
		return nil, orderErr
	}
	b.logger.Warn("venue reports flat after ambiguous close, assuming filled", zap.Float64("assumed_price", price))
	return &domain.Fill{OrderID: "reconciled", Price: price, Size: 0}, nil
}

func (b *Bot) checkTranches(ctx context.Context, now time.Time, price float64, pos domain.Position) error {
	if b.tokenInfo != nil {
		info, err := b.tokenInfo.GetTokenInfo(ctx, b.cfg.Asset)
		if err != nil {
			b.logger.Warn("token info unavailable, skipping dead-token check", zap.Error(err))
		} else if b.cfg.DeadToken.IsDead(info) {
			b.mu.Lock()
			alreadyDead := b.book.Position().Dead
			b.book.MarkDead()
			state := b.book.Snapshot(b.counters)
			b.mu.Unlock()
			if !alreadyDead {
				b.persist(ctx, state, nil, nil)
				b.notifier.Send(fmt.Sprintf("TOKEN DEAD: %s\nLiquidity: $%.0f, FDV: $%.0f\nPosition left as-is, monitoring stopped.",
					b.cfg.Asset, info.LiquidityUSD, info.FDVUSD))
				b.logger.Warn("token marked dead", zap.Float64("liquidity_usd", info.LiquidityUSD), zap.Float64("fdv_usd", info.FDVUSD))
			}
			return nil
		}
	}
	if pos.Dead {
		return nil
	}

	due := DueTranches(&pos, price)
	for _, idx := range due {
		if err := b.sellTranche(ctx, now, idx, price); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) sellTranche(ctx context.Context, now time.Time, idx int, price float64) error {
	b.mu.Lock()
	pos := b.book.Position()
	b.mu.Unlock()
	if pos.Direction != domain.DirectionLong || idx >= len(pos.Tranches) || pos.Tranches[idx].Filled {
		return nil
	}
	target := pos.Tranches[idx].TargetMultiple
	quantity := pos.Tranches[idx].Size

	fill, err := b.placeOrder(ctx, domain.SideSell, quantity*price)
	if err != nil {
		return fmt.Errorf("tranche %gx order: %w", target, err)
	}

	b.mu.Lock()
	trade, allFilled, terr := b.book.FillTranche(now, idx, fill.Price, fill.Size, b.cfg.FeeRate)
	if terr == nil {
		b.counters.RecordClose(*trade.RealizedPnL)
	}
	state := b.book.Snapshot(b.counters)
	b.mu.Unlock()
	if terr != nil {
		return fmt.Errorf("record tranche fill: %w", terr)
	}

	if fill.Size < quantity {
		b.logger.Warn("tranche partially executed",
			zap.Float64("target_multiple", target),
			zap.Float64("planned", quantity),
			zap.Float64("executed", fill.Size))
	}
	b.persist(ctx, state, trade, nil)
	b.notifier.Send(fmt.Sprintf("TRANCHE EXIT %s @ %gx\nEntry: $%.8f\nExit: $%.8f\nSize: %.2f\nP&L: $%+.2f",
		b.cfg.Asset, target, pos.EntryPrice, fill.Price, trade.Quantity, *trade.RealizedPnL))
	if allFilled {
		b.notifier.Send(fmt.Sprintf("Position fully closed: %s (all tranches filled)", b.cfg.Asset))
		b.logger.Info("all tranches filled, position flat")
	}
	return nil
}

// placeOrder wraps order placement with the single in-flight guard. No lock
// is held across the network call.
func (b *Bot) placeOrder(ctx context.Context, side domain.Side, notionalUSD float64) (*domain.Fill, error) {
	b.mu.Lock()
	if b.orderInFlight {
		b.mu.Unlock()
		return nil, domain.ErrOrderInFlight
	}
	b.orderInFlight = true
	ex := b.exchange
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.orderInFlight = false
		b.mu.Unlock()
	}()

	fill, err := ex.PlaceMarketOrder(ctx, side, notionalUSD, b.cfg.Asset)
	if err != nil {
		result := "failed"
		var amb *domain.OrderAmbiguousError
		if errors.As(err, &amb) {
			result = "ambiguous"
		}
		mtxOrders.WithLabelValues(string(side), result).Inc()
		return nil, err
	}
	mtxOrders.WithLabelValues(string(side), "filled").Inc()
	return fill, nil
}

func (b *Bot) commandPump(ctx context.Context, commands <-chan domain.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			b.Apply(ctx, cmd)
		}
	}
}

// Apply executes one external command. It runs on the pump goroutine,
// concurrent with ticks; the shared mutex keeps the two serialized.
func (b *Bot) Apply(ctx context.Context, cmd domain.Command) {
	mtxCommands.WithLabelValues(string(cmd.Kind)).Inc()
	b.logger.Info("command received", zap.String("command", string(cmd.Kind)), zap.String("arg", cmd.Arg))

	reply := func(text string) {
		if cmd.Reply != nil {
			select {
			case cmd.Reply <- text:
			default:
			}
		}
	}

	switch cmd.Kind {
	case domain.CommandPause:
		b.setState(StatePaused)
		reply("Trading paused. Open position (if any) is still monitored manually; send /resume to continue.")
	case domain.CommandResume:
		b.setState(StateRunning)
		reply("Trading resumed.")
	case domain.CommandForceClose:
		trade, err := b.ClosePosition(ctx, time.Now().UTC(), "force close command")
		switch {
		case err != nil:
			reply("Force close FAILED: " + err.Error())
		case trade == nil:
			reply("No open position to close.")
		default:
			reply(fmt.Sprintf("Position closed at $%.2f, P&L $%+.2f", trade.Price, *trade.RealizedPnL))
		}
	case domain.CommandSwitchCredentials:
		reply(b.switchCredentials(ctx, cmd.Arg))
	case domain.CommandStatus:
		reply(b.StatusLine())
	default:
		reply("Unknown command.")
	}
}

func (b *Bot) switchCredentials(ctx context.Context, name string) string {
	if b.credentials == nil {
		return "Credential switching is not configured."
	}

	b.mu.Lock()
	if b.book.Direction() != domain.DirectionFlat {
		b.mu.Unlock()
		return "Refusing to switch credentials with an open position. Close it first."
	}
	if b.orderInFlight {
		b.mu.Unlock()
		return "Refusing to switch credentials while an order is in flight."
	}
	b.mu.Unlock()

	newExchange, err := b.credentials(name)
	if err != nil {
		return "Credential switch failed: " + err.Error()
	}
	balance, err := newExchange.GetBalance(ctx)
	if err != nil {
		return "Credential switch failed, new credentials rejected: " + err.Error()
	}

	// A tick may have traded during the validation calls above. The swap
	// replaces the book, so it is only safe while the book is still flat;
	// re-check under the lock that installs the new client.
	b.mu.Lock()
	if b.book.Direction() != domain.DirectionFlat || b.orderInFlight {
		b.mu.Unlock()
		return "Refusing to switch credentials: a trade started during validation. Try again."
	}
	b.exchange = newExchange
	b.book = NewBook(b.cfg.Asset, balance)
	b.mu.Unlock()

	b.logger.Info("credentials switched", zap.String("name", name), zap.Float64("balance", balance))
	return fmt.Sprintf("Switched to credentials %q, balance $%.2f.", name, balance)
}

// Status is a point-in-time snapshot for the status endpoint and command.
type Status struct {
	State             LoopState        `json:"state"`
	Asset             string           `json:"asset"`
	Direction         domain.Direction `json:"direction"`
	EntryPrice        float64          `json:"entry_price,omitempty"`
	PositionSize      float64          `json:"position_size,omitempty"`
	PeakPrice         float64          `json:"peak_price,omitempty"`
	Cash              float64          `json:"cash"`
	DailyPnL          float64          `json:"daily_pnl"`
	ConsecutiveLosses int              `json:"consecutive_losses"`
	LastPrice         float64          `json:"last_price,omitempty"`
	LastPriceAt       time.Time        `json:"last_price_at,omitempty"`
	LoopCount         int              `json:"loop_count"`
}

func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.book.Position()
	return Status{
		State:             b.state,
		Asset:             b.cfg.Asset,
		Direction:         pos.Direction,
		EntryPrice:        pos.EntryPrice,
		PositionSize:      pos.Size,
		PeakPrice:         pos.PeakPrice,
		Cash:              b.book.Cash(),
		DailyPnL:          b.counters.DailyPnL,
		ConsecutiveLosses: b.counters.ConsecutiveLosses,
		LastPrice:         b.lastPrice,
		LastPriceAt:       b.lastPriceAt,
		LoopCount:         b.loopCount,
	}
}

func (b *Bot) StatusLine() string {
	s := b.Status()
	if s.Direction == domain.DirectionFlat {
		return fmt.Sprintf("State: %s\nAsset: %s\nPosition: none\nCash: $%.2f\nDaily P&L: $%+.2f\nLoss streak: %d",
			s.State, s.Asset, s.Cash, s.DailyPnL, s.ConsecutiveLosses)
	}
	return fmt.Sprintf("State: %s\nAsset: %s\nPosition: %s %.6f @ $%.2f (peak $%.2f)\nCash: $%.2f\nDaily P&L: $%+.2f\nLoss streak: %d",
		s.State, s.Asset, s.Direction, s.PositionSize, s.EntryPrice, s.PeakPrice, s.Cash, s.DailyPnL, s.ConsecutiveLosses)
}

func (b *Bot) rolloverIfNeeded(ctx context.Context, now time.Time) error {
	date := now.In(b.loc).Format("2006-01-02")
	b.mu.Lock()
	lastReset := b.counters.LastResetDate
	b.mu.Unlock()
	if lastReset == date {
		return nil
	}

	balance, err := b.currentExchange().GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance for daily reset: %w", err)
	}

	b.mu.Lock()
	b.counters.DailyStartBalance = balance
	b.counters.DailyPnL = 0
	b.counters.LastResetDate = date
	state := b.book.Snapshot(b.counters)
	b.mu.Unlock()

	if resettable, ok := b.strategy.(interface{ ResetDaily() }); ok {
		resettable.ResetDaily()
	}
	b.persist(ctx, state, nil, nil)
	b.logger.Info("daily risk limits reset", zap.String("date", date), zap.Float64("start_balance", balance))
	return nil
}

// heartbeat is throttled to the configured interval while flat, but emits
// every tick while a position is open.
func (b *Bot) heartbeat(now time.Time, price float64) {
	b.mu.Lock()
	inPosition := b.book.Direction() != domain.DirectionFlat
	state := b.state
	b.mu.Unlock()

	if !inPosition && now.Sub(b.lastHeartbeat) < b.cfg.HeartbeatInterval {
		return
	}
	b.lastHeartbeat = now
	b.notifier.Send(fmt.Sprintf("Heartbeat: %s, %s $%.2f, in position: %t", state, b.cfg.Asset, price, inPosition))
}

func (b *Bot) stopRequested() bool {
	if b.cfg.StopFile == "" {
		return false
	}
	_, err := os.Stat(b.cfg.StopFile)
	return err == nil
}

// persist writes state, journal rows and never fails the tick: persistence
// errors are logged and alerted, the in-memory state stays authoritative.
func (b *Bot) persist(ctx context.Context, state *domain.BotState, trade *domain.Trade, closed *domain.ClosedPosition) {
	if err := b.store.Save(state); err != nil {
		b.logger.Error("failed to persist state", zap.Error(err))
		b.notifier.Send("WARNING: failed to persist state: " + err.Error())
	}
	if b.trades == nil {
		return
	}
	if trade != nil {
		if err := b.trades.SaveTrade(ctx, trade); err != nil {
			b.logger.Error("failed to journal trade", zap.Error(err))
		}
	}
	if closed != nil {
		if err := b.trades.SavePositionHistory(ctx, closed); err != nil {
			b.logger.Error("failed to journal closed position", zap.Error(err))
		}
	}
}

func (b *Bot) currentExchange() domain.Exchange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchange
}

func (b *Bot) markToMarket(price float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.book.MarkToMarket(price)
}

func (b *Bot) lastObservedPrice() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPrice
}

func (b *Bot) lastBookTrade() *domain.Trade {
	trades := b.book.Trades()
	if len(trades) == 0 {
		return nil
	}
	t := trades[len(trades)-1]
	return &t
}

func breakerKind(reason string) string {
	switch {
	case strings.Contains(reason, "daily loss"):
		return "daily_loss"
	case strings.Contains(reason, "consecutive losses"):
		return "loss_streak"
	case strings.Contains(reason, "stale"):
		return "stale_data"
	default:
		return "other"
	}
}
