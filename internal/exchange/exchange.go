package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"aitrader/internal/accounting"
	"aitrader/internal/simulation"
)

var (
	// ErrUnsupported is an order the venue cannot take, such as a spot short.
	// Workers report it as a skipped action rather than a failure.
	ErrUnsupported   = errors.New("unsupported by venue")
	ErrNotConfigured = errors.New("exchange not configured")
	ErrNoPosition    = errors.New("no open position")
)

type Order struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     accounting.Side `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Fee      decimal.Decimal `json:"fee"`
}

type Position struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       accounting.Side `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// Client is the uniform live-trading surface over spot and futures venues.
type Client interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, symbol string, side accounting.Side, qty decimal.Decimal) (Order, error)
	Position(ctx context.Context, symbol string) (*Position, error)
	ClosePosition(ctx context.Context, id string) (Order, error)
}

// Spot wraps a client so that short opens fail with ErrUnsupported before
// reaching the venue.
func Spot(c Client) Client { return spotClient{Client: c} }

type spotClient struct{ Client }

func (s spotClient) PlaceOrder(ctx context.Context, symbol string, side accounting.Side, qty decimal.Decimal) (Order, error) {
	if side == accounting.SideShort {
		return Order{}, fmt.Errorf("spot short %s: %w", symbol, ErrUnsupported)
	}
	return s.Client.PlaceOrder(ctx, symbol, side, qty)
}

// Factory builds a client for one simulation.
type Factory func(cfg simulation.Config) (Client, error)

// Registry maps the closed exchange enum to client factories.
type Registry struct {
	factories map[simulation.Exchange]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[simulation.Exchange]Factory{}}
}

func (r *Registry) Register(key simulation.Exchange, f Factory) {
	r.factories[key] = f
}

// Client builds the venue client for a live configuration. Spot venues get
// the short guard.
func (r *Registry) Client(cfg simulation.Config) (Client, error) {
	f, ok := r.factories[cfg.Exchange]
	if !ok || f == nil {
		return nil, fmt.Errorf("%s: %w", cfg.Exchange, ErrNotConfigured)
	}
	c, err := f(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Venue == simulation.VenueSpot {
		c = Spot(c)
	}
	return c, nil
}
