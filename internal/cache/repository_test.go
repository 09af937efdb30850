package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aitrader/internal/config"
	"aitrader/internal/models"
	"aitrader/internal/repository"
)

type countingRepo struct {
	repository.Repository
	gets  int
	stats int
}

func (c *countingRepo) GetSimulation(_ context.Context, id string) (*models.Simulation, error) {
	c.gets++
	return &models.Simulation{ID: id, Name: "cached", Status: "running"}, nil
}

func (c *countingRepo) SimulationStats(_ context.Context, id string) (*repository.SimulationStats, error) {
	c.stats++
	return &repository.SimulationStats{SimulationID: id, TotalTrades: 2, TotalPnL: decimal.RequireFromString("12.5")}, nil
}

func (c *countingRepo) UpdateStatus(_ context.Context, id string, _ repository.StatusUpdate) (*models.Simulation, error) {
	return &models.Simulation{ID: id}, nil
}

func TestRepository_ReadThroughAndInvalidate(t *testing.T) {
	primary := &countingRepo{}
	repo := NewRepository(primary, NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		item, err := repo.GetSimulation(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "cached", item.Name)
	}
	assert.Equal(t, 1, primary.gets)

	stats, err := repo.SimulationStats(ctx, "s1")
	require.NoError(t, err)
	stats, err = repo.SimulationStats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, primary.stats)
	assert.True(t, stats.TotalPnL.Equal(decimal.RequireFromString("12.5")))

	_, err = repo.UpdateStatus(ctx, "s1", repository.StatusUpdate{})
	require.NoError(t, err)
	_, err = repo.GetSimulation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, primary.gets)
}

func TestRepository_FallsBackWhenRedisIsDown(t *testing.T) {
	primary := &countingRepo{}
	store := NewRedisStore(config.RedisConfig{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = store.Close() })
	repo := NewRepository(primary, store, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	item, err := repo.GetSimulation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", item.ID)
	_, err = repo.GetSimulation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, primary.gets)
}

func TestMemoryStore_Expires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	b, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(b))

	time.Sleep(20 * time.Millisecond)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
