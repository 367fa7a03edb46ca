package tests

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
)

type MockExchange struct {
	mu        sync.Mutex
	Price     float64
	Balance   float64
	Positions []domain.ExchangePosition
	Orders    []struct {
		Side     domain.Side
		Notional float64
	}
}

func (m *MockExchange) SetPrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Price = price
}

func (m *MockExchange) SetPositions(positions []domain.ExchangePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = positions
}

func (m *MockExchange) GetPrice(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Price, nil
}

func (m *MockExchange) GetBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, side domain.Side, notionalUSD float64, asset string) (*domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, struct {
		Side     domain.Side
		Notional float64
	}{side, notionalUSD})
	return &domain.Fill{OrderID: "mock", Price: m.Price, Size: notionalUSD / m.Price}, nil
}

func (m *MockExchange) GetPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Positions, nil
}

type MockNotifier struct {
	mu   sync.Mutex
	Msgs []string
}

func (m *MockNotifier) Send(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Msgs = append(m.Msgs, text)
}

func (m *MockNotifier) Contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.Msgs {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

type ToggleStrategy struct {
	mu    sync.Mutex
	Enter bool
	Exit  bool
}

func (s *ToggleStrategy) Name() string { return "toggle" }

func (s *ToggleStrategy) SetEnter(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enter = v
}

func (s *ToggleStrategy) SetExit(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Exit = v
}

func (s *ToggleStrategy) ShouldEnter(now time.Time, price float64) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Enter, "toggle"
}

func (s *ToggleStrategy) ShouldExit(price, entryPrice, peakPrice float64) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Exit, "toggle"
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
