package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)
	return store, dir
}

func sampleState() *domain.BotState {
	entry := 100.0
	size := 9.99
	peak := 103.0
	ts := time.Date(2026, 8, 30, 9, 3, 0, 0, time.UTC)
	return &domain.BotState{
		InPosition:        true,
		Direction:         domain.DirectionLong,
		EntryTime:         &ts,
		EntryPrice:        &entry,
		PositionSize:      &size,
		PeakPrice:         &peak,
		DailyStartBalance: 1000,
		DailyPnL:          -12.5,
		ConsecutiveLosses: 1,
		LastTradeResult:   "loss",
		LastResetDate:     "2026-08-30",
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(sampleState()))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.InPosition)
	assert.Equal(t, domain.DirectionLong, loaded.Direction)
	assert.Equal(t, 100.0, *loaded.EntryPrice)
	assert.Equal(t, 103.0, *loaded.PeakPrice)
	assert.Equal(t, 1, loaded.ConsecutiveLosses)
	assert.Equal(t, domain.StateVersion, loaded.Version)
	assert.False(t, loaded.LastUpdated.IsZero())
}

func TestStore_FirstRunReturnsDefault(t *testing.T) {
	store, _ := newTestStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.False(t, loaded.InPosition)
	assert.Equal(t, domain.DirectionFlat, loaded.Direction)
}

func TestStore_BackupSurvivesSecondSave(t *testing.T) {
	store, dir := newTestStore(t)

	first := sampleState()
	require.NoError(t, store.Save(first))

	second := sampleState()
	second.InPosition = false
	second.Direction = domain.DirectionFlat
	require.NoError(t, store.Save(second))

	// The backup holds the previous good state.
	data, err := os.ReadFile(filepath.Join(dir, backupFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"in_position": true`)
}

func TestStore_CorruptPrimaryFallsBackToBackup(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Save(sampleState()))
	require.NoError(t, store.Save(sampleState())) // populate the backup

	// Simulate a crash mid-write: truncated primary.
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte(`{"in_position": tr`), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.InPosition, "backup state must be used")

	// The primary is healed from the backup.
	healed, err := store.read(store.primaryPath())
	require.NoError(t, err)
	assert.True(t, healed.InPosition)
}

// Healing must never route through the backup-before-write path: that would
// copy the corrupt primary over the only good copy, and a crash before the
// rename would leave nothing parseable on disk.
func TestStore_HealPreservesGoodBackup(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Save(sampleState()))
	require.NoError(t, store.Save(sampleState())) // populate the backup

	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte(`{"in_position": tr`), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.InPosition)

	// The backup still parses and still holds the good state.
	backup, err := store.read(store.backupPath())
	require.NoError(t, err, "backup must not be overwritten with corrupt bytes")
	assert.True(t, backup.InPosition)
}

func TestStore_BothCorruptIsAnError(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, backupFile), []byte("also garbage"), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStateCorrupt), "got: %v", err)
}

func TestStore_CorruptPrimaryNoBackupIsAnError(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte("garbage"), 0o644))

	_, err := store.Load()
	assert.True(t, errors.Is(err, domain.ErrStateCorrupt), "got: %v", err)
}

// A version-0 file has no version or direction field; an in-position state
// from that era was always a long.
func TestStore_MigratesVersionZero(t *testing.T) {
	store, dir := newTestStore(t)

	v0 := `{
		"in_position": true,
		"entry_time": "2026-08-29T09:03:00Z",
		"entry_price": 100.0,
		"position_size": 9.99,
		"peak_price": 101.5,
		"daily_pnl": 0,
		"consecutive_losses": 0,
		"last_updated": "2026-08-29T15:00:00Z"
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte(v0), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.StateVersion, loaded.Version)
	assert.Equal(t, domain.DirectionLong, loaded.Direction)

	pos := loaded.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 101.5, pos.PeakPrice)
}
