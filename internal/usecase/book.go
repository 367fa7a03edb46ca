package usecase

import (
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/google/uuid"
)

// Book holds the cash balance and the single open position (if any) for one
// instrument, and applies the fee arithmetic for every transition. All
// operations are atomic with respect to the single owning driver; Book itself
// is not goroutine-safe.
type Book struct {
	asset string
	cash  float64
	pos   domain.Position
	log   []domain.Trade
}

func NewBook(asset string, cash float64) *Book {
	return &Book{
		asset: asset,
		cash:  cash,
		pos:   domain.Position{Asset: asset, Direction: domain.DirectionFlat},
	}
}

func (b *Book) Direction() domain.Direction { return b.pos.Direction }

func (b *Book) Cash() float64 { return b.cash }

// Position returns a copy of the current position.
func (b *Book) Position() domain.Position { return b.pos }

// SetPosition restores a position from persisted state (startup only).
func (b *Book) SetPosition(p domain.Position) { b.pos = p }

// Trades returns the append-only fill log accumulated by this book.
func (b *Book) Trades() []domain.Trade { return b.log }

// OpenLong buys size = notional/(price*(1+feeRate)) of the base asset. The
// entry fee is implicit in the size reduction.
func (b *Book) OpenLong(t time.Time, price, notional, feeRate float64) (*domain.Position, error) {
	if b.pos.Direction != domain.DirectionFlat {
		return nil, domain.ErrInvalidTransition
	}
	size := notional / (price * (1 + feeRate))
	b.cash -= notional
	b.pos = domain.Position{
		Asset:      b.asset,
		Direction:  domain.DirectionLong,
		EntryPrice: price,
		Size:       size,
		EntryTime:  t,
		PeakPrice:  price,
	}
	b.record(t, domain.SideBuy, domain.DirectionLong, price, size, size*price*feeRate, nil, "")
	return &b.pos, nil
}

// OpenShort sells borrowed base asset; the book tracks the liability rather
// than an owned quantity. Proceeds (net of fee) are added to cash.
func (b *Book) OpenShort(t time.Time, price, notional, feeRate float64) (*domain.Position, error) {
	if b.pos.Direction != domain.DirectionFlat {
		return nil, domain.ErrInvalidTransition
	}
	size := notional / (price * (1 + feeRate))
	proceeds := size * price
	fee := proceeds * feeRate
	b.cash += proceeds - fee
	b.pos = domain.Position{
		Asset:      b.asset,
		Direction:  domain.DirectionShort,
		EntryPrice: price,
		Size:       size,
		EntryTime:  t,
		PeakPrice:  price,
	}
	b.record(t, domain.SideSell, domain.DirectionShort, price, size, fee, nil, "")
	return &b.pos, nil
}

// CloseLong sells the whole long position: proceeds = size*price*(1-feeRate),
// pnl = proceeds - size*entryPrice.
func (b *Book) CloseLong(t time.Time, price, feeRate float64, reason string) (*domain.Trade, error) {
	if b.pos.Direction != domain.DirectionLong {
		return nil, domain.ErrInvalidTransition
	}
	size := b.pos.Size
	proceeds := size * price * (1 - feeRate)
	fee := size * price * feeRate
	pnl := proceeds - size*b.pos.EntryPrice
	b.cash += proceeds
	trade := b.record(t, domain.SideSell, domain.DirectionLong, price, size, fee, &pnl, reason)
	b.reset()
	return trade, nil
}

// CloseShort buys back the borrowed quantity:
// pnl = (entryPrice-price)*size - fee.
func (b *Book) CloseShort(t time.Time, price, feeRate float64, reason string) (*domain.Trade, error) {
	if b.pos.Direction != domain.DirectionShort {
		return nil, domain.ErrInvalidTransition
	}
	size := b.pos.Size
	cost := size * price
	fee := cost * feeRate
	pnl := (b.pos.EntryPrice-price)*size - fee
	b.cash -= cost + fee
	trade := b.record(t, domain.SideBuy, domain.DirectionShort, price, size, fee, &pnl, reason)
	b.reset()
	return trade, nil
}

// Close exits whatever position is open.
func (b *Book) Close(t time.Time, price, feeRate float64, reason string) (*domain.Trade, error) {
	switch b.pos.Direction {
	case domain.DirectionLong:
		return b.CloseLong(t, price, feeRate, reason)
	case domain.DirectionShort:
		return b.CloseShort(t, price, feeRate, reason)
	default:
		return nil, domain.ErrInvalidTransition
	}
}

// ReduceLong sells a partial quantity of an open long (tranche fill). The
// position stays open; the caller flattens the book when all tranches are
// filled.
func (b *Book) ReduceLong(t time.Time, price, quantity, feeRate float64, reason string) (*domain.Trade, error) {
	if b.pos.Direction != domain.DirectionLong || quantity > b.pos.Size {
		return nil, domain.ErrInvalidTransition
	}
	proceeds := quantity * price * (1 - feeRate)
	fee := quantity * price * feeRate
	pnl := proceeds - quantity*b.pos.EntryPrice
	b.cash += proceeds
	b.pos.Size -= quantity
	trade := b.record(t, domain.SideSell, domain.DirectionLong, price, quantity, fee, &pnl, reason)
	if b.pos.Size <= 0 {
		b.reset()
	}
	return trade, nil
}

// MarkToMarket values the portfolio at the given price. The short liability
// grows as price rises, so the portfolio value falls.
func (b *Book) MarkToMarket(price float64) float64 {
	switch b.pos.Direction {
	case domain.DirectionLong:
		return b.cash + b.pos.Size*price
	case domain.DirectionShort:
		return b.cash - b.pos.Size*price
	default:
		return b.cash
	}
}

// UpdatePeak raises the trailing-stop watermark. No-op unless long and the
// price is a new high.
func (b *Book) UpdatePeak(price float64) {
	if b.pos.Direction == domain.DirectionLong && price > b.pos.PeakPrice {
		b.pos.PeakPrice = price
	}
}

// SetTranches attaches a tiered exit plan to the open position.
func (b *Book) SetTranches(tranches []domain.Tranche) error {
	if b.pos.Direction == domain.DirectionFlat {
		return domain.ErrInvalidTransition
	}
	b.pos.Tranches = tranches
	return nil
}

// MarkDead flags the open position's token as dead (monitoring stop).
func (b *Book) MarkDead() {
	if b.pos.Direction != domain.DirectionFlat {
		b.pos.Dead = true
	}
}

// FillTranche reduces the position by the quantity the venue actually
// executed against tranche idx. When the executed quantity covers the
// tranche's remaining size the tranche is marked filled; a partial fill
// shrinks the tranche so it re-triggers on the next price check. Returns
// the partial-exit trade and whether the position is now flat.
func (b *Book) FillTranche(t time.Time, idx int, price, executed, feeRate float64) (*domain.Trade, bool, error) {
	if b.pos.Direction != domain.DirectionLong || idx < 0 || idx >= len(b.pos.Tranches) {
		return nil, false, domain.ErrInvalidTransition
	}
	tr := &b.pos.Tranches[idx]
	if tr.Filled || executed <= 0 {
		return nil, false, domain.ErrInvalidTransition
	}
	remaining := tr.Size
	if remaining > b.pos.Size {
		remaining = b.pos.Size
	}
	quantity := executed
	if quantity > remaining {
		quantity = remaining
	}
	reason := trancheReason(tr.TargetMultiple)
	// Snapshot the tranche list: ReduceLong resets the position on full exit.
	tranches := b.pos.Tranches
	trade, err := b.ReduceLong(t, price, quantity, feeRate, reason)
	if err != nil {
		return nil, false, err
	}
	if quantity < remaining {
		// Venue executed less than planned. Leave the tranche open with the
		// unsold remainder so the next due check sells the rest.
		tr.Size = remaining - quantity
		return trade, false, nil
	}
	tr.Filled = true
	tr.FilledAt = &t
	tr.FilledPrice = price
	allFilled := true
	for i := range tranches {
		if !tranches[i].Filled {
			allFilled = false
			break
		}
	}
	if allFilled && b.pos.Direction != domain.DirectionFlat {
		b.reset()
	}
	return trade, allFilled, nil
}

// Snapshot serializes book + counters into the persisted schema.
func (b *Book) Snapshot(counters domain.RiskCounters) *domain.BotState {
	st := domain.DefaultBotState()
	st.DailyStartBalance = counters.DailyStartBalance
	st.DailyPnL = counters.DailyPnL
	st.ConsecutiveLosses = counters.ConsecutiveLosses
	st.LastTradeResult = counters.LastTradeResult
	st.LastResetDate = counters.LastResetDate
	if b.pos.Direction != domain.DirectionFlat {
		p := b.pos
		st.InPosition = true
		st.Direction = p.Direction
		st.EntryTime = &p.EntryTime
		st.EntryPrice = &p.EntryPrice
		st.PositionSize = &p.Size
		st.PeakPrice = &p.PeakPrice
		st.Tranches = p.Tranches
		st.Dead = p.Dead
	}
	return st
}

func (b *Book) record(t time.Time, side domain.Side, dir domain.Direction, price, quantity, fee float64, pnl *float64, reason string) *domain.Trade {
	trade := domain.Trade{
		ID:          uuid.NewString(),
		Timestamp:   t,
		Side:        side,
		Direction:   dir,
		Price:       price,
		Quantity:    quantity,
		Fee:         fee,
		RealizedPnL: pnl,
		Reason:      reason,
	}
	b.log = append(b.log, trade)
	return &trade
}

func (b *Book) reset() {
	b.pos = domain.Position{Asset: b.asset, Direction: domain.DirectionFlat}
}
