package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"aitrader/internal/config"
	"aitrader/internal/simulation"
)

// Provider tries its sources in order and returns the first quote.
type Provider struct {
	Sources   []Source
	FearGreed *FearGreedClient
	Logger    *zap.Logger
}

func NewFromConfig(cfg config.MarketDataConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: cfg.Timeout}
	p := &Provider{Logger: logger}
	for _, name := range cfg.Sources {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "coinbase":
			p.Sources = append(p.Sources, &Coinbase{HTTP: client, BaseURL: cfg.CoinbaseBaseURL})
		case "coingecko":
			p.Sources = append(p.Sources, &CoinGecko{HTTP: client, BaseURL: cfg.CoinGeckoBaseURL})
		case "binance":
			p.Sources = append(p.Sources, &Binance{HTTP: client, BaseURL: cfg.BinanceBaseURL})
		default:
			logger.Warn("market data: unknown source ignored", zap.String("source", name))
		}
	}
	if cfg.FearGreedEnabled && strings.TrimSpace(cfg.FearGreedURL) != "" {
		p.FearGreed = &FearGreedClient{HTTP: client, URL: cfg.FearGreedURL}
	}
	return p
}

// Quote fails with a collaborator error only when every source failed.
func (p *Provider) Quote(ctx context.Context, symbol string) (Quote, error) {
	base := BaseSymbol(symbol)
	var errs []error
	for _, src := range p.Sources {
		q, err := src.Quote(ctx, base)
		if err == nil {
			p.Logger.Debug("market data fetched", zap.String("source", src.Name()), zap.String("symbol", base))
			return q, nil
		}
		p.Logger.Warn("market data source failed", zap.String("source", src.Name()), zap.String("symbol", base), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no sources configured"))
	}
	return Quote{}, simulation.Collaborator("market_data", fmt.Errorf("all sources failed for %s: %w", base, errors.Join(errs...)))
}

// Context fetches a quote and renders the prompt context. The Fear & Greed
// section is best-effort.
func (p *Provider) Context(ctx context.Context, symbol string) (Quote, string, error) {
	q, err := p.Quote(ctx, symbol)
	if err != nil {
		return Quote{}, "", err
	}
	text := FormatContext(q)
	if p.FearGreed != nil {
		fg, err := p.FearGreed.Fetch(ctx)
		if err != nil {
			p.Logger.Debug("fear and greed unavailable", zap.Error(err))
		} else {
			text += "\n\n" + FormatFearGreed(fg)
		}
	}
	return q, text, nil
}
