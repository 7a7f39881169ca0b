package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"idleempire.io/internal/persistence/indexdb"
	"idleempire.io/internal/persistence/kv"
	"idleempire.io/internal/persistence/snapshot"
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/tuning"
)

// openStore returns the slot store named by --store. The SQLite store is also returned on
// its own so callers can reach its history.
func (o *options) openStore() (kv.Store, *indexdb.SQLiteStore, error) {
	switch strings.ToLower(strings.TrimSpace(o.store)) {
	case "", "file":
		s, err := kv.OpenFile(filepath.Join(o.dataDir, "slots"))
		if err != nil {
			return nil, nil, err
		}
		s.MaxBytes = envInt("IDLE_FILE_QUOTA_BYTES", 0)
		return s, nil, nil
	case "sqlite":
		db, err := indexdb.OpenSQLite(filepath.Join(o.dataDir, "index", "saves.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		db.SetHistoryLimit(envInt("IDLE_HISTORY_LIMIT", indexdb.DefaultHistoryLimit))
		return db, db, nil
	case "memory":
		return kv.NewMemory(0), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store %q", o.store)
	}
}

// readSlot loads the stored save the way a session would, without crediting offline time.
func readSlot(ctx context.Context, store kv.Store, cats *catalogs.Catalogs, tune tuning.Tuning, log *slog.Logger) (*model.GameState, snapshot.LoadInfo, error) {
	raw, err := store.Get(ctx, tune.Save.Slot)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, snapshot.LoadInfo{}, fmt.Errorf("read slot %s: %w", tune.Save.Slot, err)
	}
	st, info := snapshot.Load(raw, cats, tune.StartingCash, log)
	return st, info, nil
}
