package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the append-only trade journal: every fill and every fully
// closed position is recorded for later analysis. It is not the source of
// truth for restarts; the JSON state file is.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			side TEXT NOT NULL,
			direction TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			fee REAL NOT NULL,
			realized_pnl REAL,
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			asset TEXT NOT NULL,
			direction TEXT NOT NULL,
			size REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			reason TEXT,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_position_history_closed_at ON position_history(closed_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: reason column was added after the initial schema. The error
	// is ignored when the column already exists.
	_, _ = s.db.Exec(`ALTER TABLE trades ADD COLUMN reason TEXT`)

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	query := `INSERT INTO trades (id, timestamp, side, direction, price, quantity, fee, realized_pnl, reason)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var pnl sql.NullFloat64
	if trade.RealizedPnL != nil {
		pnl = sql.NullFloat64{Float64: *trade.RealizedPnL, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.Timestamp, trade.Side, trade.Direction, trade.Price, trade.Quantity, trade.Fee, pnl, trade.Reason)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, timestamp, side, direction, price, quantity, fee, realized_pnl, reason
			  FROM trades ORDER BY timestamp DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var pnl sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Side, &t.Direction, &t.Price, &t.Quantity, &t.Fee, &pnl, &t.Reason); err != nil {
			return nil, err
		}
		if pnl.Valid {
			v := pnl.Float64
			t.RealizedPnL = &v
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, closed *domain.ClosedPosition) error {
	query := `INSERT INTO position_history (asset, direction, size, entry_price, exit_price, realized_pnl, reason, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		closed.Asset, closed.Direction, closed.Size, closed.EntryPrice, closed.ExitPrice, closed.RealizedPnL, closed.Reason, closed.ClosedAt)
	return err
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.ClosedPosition, error) {
	query := `SELECT id, asset, direction, size, entry_price, exit_price, realized_pnl, reason, closed_at
			  FROM position_history ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.ClosedPosition
	for rows.Next() {
		var c domain.ClosedPosition
		if err := rows.Scan(&c.ID, &c.Asset, &c.Direction, &c.Size, &c.EntryPrice, &c.ExitPrice, &c.RealizedPnL, &c.Reason, &c.ClosedAt); err != nil {
			return nil, err
		}
		history = append(history, &c)
	}
	return history, rows.Err()
}
