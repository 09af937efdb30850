package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aitrader/internal/accounting"
	"aitrader/internal/simulation"
)

type recordingClient struct {
	orders int
}

func (c *recordingClient) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (c *recordingClient) PlaceOrder(_ context.Context, symbol string, side accounting.Side, qty decimal.Decimal) (Order, error) {
	c.orders++
	return Order{ID: "o1", Symbol: symbol, Side: side, Quantity: qty, Price: decimal.NewFromInt(100)}, nil
}

func (c *recordingClient) Position(context.Context, string) (*Position, error) { return nil, nil }

func (c *recordingClient) ClosePosition(context.Context, string) (Order, error) {
	return Order{}, ErrNoPosition
}

func TestRegistry_SpotRejectsShorts(t *testing.T) {
	inner := &recordingClient{}
	r := NewRegistry()
	r.Register(simulation.ExchangeCoinbase, func(simulation.Config) (Client, error) { return inner, nil })

	c, err := r.Client(simulation.Config{Exchange: simulation.ExchangeCoinbase, Venue: simulation.VenueSpot})
	require.NoError(t, err)

	_, err = c.PlaceOrder(context.Background(), "BTCUSDT", accounting.SideShort, decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.Zero(t, inner.orders)

	o, err := c.PlaceOrder(context.Background(), "BTCUSDT", accounting.SideLong, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, 1, inner.orders)
}

func TestRegistry_FuturesAllowShorts(t *testing.T) {
	inner := &recordingClient{}
	r := NewRegistry()
	r.Register(simulation.ExchangeBitunix, func(simulation.Config) (Client, error) { return inner, nil })

	c, err := r.Client(simulation.Config{Exchange: simulation.ExchangeBitunix, Venue: simulation.VenueFutures})
	require.NoError(t, err)
	_, err = c.PlaceOrder(context.Background(), "BTCUSDT", accounting.SideShort, decimal.NewFromInt(1))
	require.NoError(t, err)
}

func TestRegistry_NotConfigured(t *testing.T) {
	_, err := NewRegistry().Client(simulation.Config{Exchange: simulation.ExchangeBitunix})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
