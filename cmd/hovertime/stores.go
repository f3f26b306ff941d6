package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/hovertime/config"
	"github.com/hazyhaar/hovertime/store"
)

type stores struct {
	db         *sql.DB
	kv         *store.SQLiteKV
	timestamps *store.Timestamps
	settings   *store.Settings
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	db, err := store.Open(cfg.DBPath, store.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	kv := store.NewKV(db)
	st := &stores{
		db:         db,
		kv:         kv,
		timestamps: store.NewTimestamps(kv, cfg.Storage.TimestampsKey, logger),
		settings:   store.NewSettings(kv, cfg.Storage.SettingsKey, cfg.Defaults, logger),
	}
	st.timestamps.Load(ctx)
	st.settings.Load(ctx)
	logger.Info("hovertime: store opened", "path", cfg.DBPath, "timestamps", st.timestamps.Len())
	return st, nil
}

func (s *stores) close() {
	s.db.Close()
}
