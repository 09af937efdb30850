package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"aitrader/internal/models"
	"aitrader/internal/repository"
)

// Repository is a read-through cache over the simulation detail and stats
// reads the API serves most. Cache failures fall back to the primary store.
// Workers write the ledger directly, so the manager calls Invalidate when a
// worker reports a trade or a cycle.
type Repository struct {
	repository.Repository

	Store  Store
	TTL    time.Duration
	Logger *zap.Logger
}

func NewRepository(primary repository.Repository, store Store, ttl time.Duration, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Repository{Repository: primary, Store: store, TTL: ttl, Logger: logger}
}

func simulationKey(id string) string { return "sim:" + id }
func statsKey(id string) string      { return "stats:" + id }

func (r *Repository) GetSimulation(ctx context.Context, id string) (*models.Simulation, error) {
	var cached models.Simulation
	if r.load(ctx, simulationKey(id), &cached) {
		return &cached, nil
	}
	item, err := r.Repository.GetSimulation(ctx, id)
	if err != nil {
		return nil, err
	}
	r.save(ctx, simulationKey(id), item)
	return item, nil
}

func (r *Repository) SimulationStats(ctx context.Context, id string) (*repository.SimulationStats, error) {
	var cached repository.SimulationStats
	if r.load(ctx, statsKey(id), &cached) {
		return &cached, nil
	}
	stats, err := r.Repository.SimulationStats(ctx, id)
	if err != nil {
		return nil, err
	}
	r.save(ctx, statsKey(id), stats)
	return stats, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, update repository.StatusUpdate) (*models.Simulation, error) {
	defer r.Invalidate(ctx, id)
	return r.Repository.UpdateStatus(ctx, id, update)
}

func (r *Repository) SetWorkerPID(ctx context.Context, id string, pid *int) error {
	defer r.Invalidate(ctx, id)
	return r.Repository.SetWorkerPID(ctx, id, pid)
}

func (r *Repository) DeleteSimulation(ctx context.Context, id string) error {
	defer r.Invalidate(ctx, id)
	return r.Repository.DeleteSimulation(ctx, id)
}

func (r *Repository) RecordTrade(ctx context.Context, simulationID string, trade *models.SimulationTrade) error {
	defer r.Invalidate(ctx, simulationID)
	return r.Repository.RecordTrade(ctx, simulationID, trade)
}

func (r *Repository) RecordExecution(ctx context.Context, exec repository.Execution) error {
	defer r.Invalidate(ctx, exec.SimulationID)
	return r.Repository.RecordExecution(ctx, exec)
}

// Invalidate drops every cached read of one simulation.
func (r *Repository) Invalidate(ctx context.Context, simulationID string) {
	if r.Store == nil {
		return
	}
	if err := r.Store.Delete(ctx, simulationKey(simulationID), statsKey(simulationID)); err != nil {
		r.Logger.Warn("cache invalidate failed", zap.String("simulation_id", simulationID), zap.Error(err))
	}
}

func (r *Repository) load(ctx context.Context, key string, out any) bool {
	if r.Store == nil {
		return false
	}
	b, found, err := r.Store.Get(ctx, key)
	if err != nil {
		r.Logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		_ = r.Store.Delete(ctx, key)
		return false
	}
	return true
}

func (r *Repository) save(ctx context.Context, key string, v any) {
	if r.Store == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.Store.Set(ctx, key, b, r.TTL); err != nil {
		r.Logger.Debug("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
