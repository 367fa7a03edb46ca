package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	stateFile  = "bot_state.json"
	backupFile = "bot_state.backup.json"
)

// Store persists bot state as JSON with backup-before-write: the previous
// good primary is copied to the backup before the primary is replaced, and the
// replacement itself is an atomic rename. At any crash point at least one of
// the two files holds a complete state.
type Store struct {
	dir    string
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) primaryPath() string { return filepath.Join(s.dir, stateFile) }
func (s *Store) backupPath() string  { return filepath.Join(s.dir, backupFile) }

func (s *Store) Save(st *domain.BotState) error {
	st.Version = domain.StateVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Preserve the last good state before touching the primary.
	if _, err := os.Stat(s.primaryPath()); err == nil {
		if err := copyFile(s.primaryPath(), s.backupPath()); err != nil {
			return fmt.Errorf("back up state: %w", err)
		}
	}
	return s.writePrimary(data)
}

// writePrimary atomically replaces the primary via temp-write + rename. It
// never touches the backup, so the heal path can rewrite a corrupt primary
// without clobbering the only good copy.
func (s *Store) writePrimary(data []byte) error {
	tmp, err := os.CreateTemp(s.dir, stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.primaryPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Load reads the primary, falls back to the backup on corruption, and falls
// back to a default flat state when neither file exists. ErrStateCorrupt is
// returned only when files exist but none of them parses: that case needs an
// operator decision, not a silent cold start.
func (s *Store) Load() (*domain.BotState, error) {
	st, primaryErr := s.read(s.primaryPath())
	if primaryErr == nil {
		return st, nil
	}
	if errors.Is(primaryErr, os.ErrNotExist) {
		// First run.
		s.logger.Info("no state file found, starting fresh")
		return domain.DefaultBotState(), nil
	}

	s.logger.Warn("primary state file unreadable, trying backup", zap.Error(primaryErr))
	st, backupErr := s.read(s.backupPath())
	if backupErr == nil {
		// Heal the primary from the backup. Save would first copy the corrupt
		// primary over the backup, so write the primary directly instead.
		if data, merr := json.MarshalIndent(st, "", "  "); merr != nil {
			s.logger.Error("failed to restore primary from backup", zap.Error(merr))
		} else if werr := s.writePrimary(data); werr != nil {
			s.logger.Error("failed to restore primary from backup", zap.Error(werr))
		}
		return st, nil
	}
	if errors.Is(backupErr, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", domain.ErrStateCorrupt, primaryErr)
	}
	return nil, fmt.Errorf("%w: primary: %v, backup: %v", domain.ErrStateCorrupt, primaryErr, backupErr)
}

func (s *Store) read(path string) (*domain.BotState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st domain.BotState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	st.Migrate()
	return &st, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
