// Package repotest opens throwaway ledgers for tests outside the store package.
package repotest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"aitrader/internal/config"
	"aitrader/internal/db"
	"aitrader/internal/models"
	gormrepository "aitrader/internal/repository/gorm"
	"aitrader/internal/simulation"
)

// New returns a migrated SQLite store in a temp dir, closed on cleanup.
func New(t testing.TB) *gormrepository.Store {
	t.Helper()
	conn, err := db.Open(config.DBConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))
	return gormrepository.New(conn.Gorm)
}

// CreateSimulation inserts a validated simulation in status created.
func CreateSimulation(t testing.TB, store *gormrepository.Store, name string, cfg simulation.Config) *models.Simulation {
	t.Helper()
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	item := &models.Simulation{
		ID:     uuid.NewString(),
		Name:   name,
		Config: datatypes.JSON(raw),
		Status: string(simulation.StatusCreated),
	}
	require.NoError(t, store.CreateSimulation(context.Background(), item))
	return item
}

// Config is a small valid BTC spot configuration.
func Config() simulation.Config {
	cfg := simulation.DefaultConfig()
	cfg.Symbol = "BTCUSDT"
	cfg.CheckIntervalSeconds = 60
	return cfg
}
