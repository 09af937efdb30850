package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Binance reads the public 24h ticker against USDT.
type Binance struct {
	HTTP    *http.Client
	BaseURL string
}

func (c *Binance) Name() string { return "binance" }

func (c *Binance) Quote(ctx context.Context, base string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/ticker/24hr?symbol=%s", strings.TrimRight(c.BaseURL, "/"), url.QueryEscape(base+"USDT"))
	var parsed struct {
		LastPrice          decimal.Decimal `json:"lastPrice"`
		PriceChange        decimal.Decimal `json:"priceChange"`
		PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
		HighPrice          decimal.Decimal `json:"highPrice"`
		LowPrice           decimal.Decimal `json:"lowPrice"`
		QuoteVolume        decimal.Decimal `json:"quoteVolume"`
	}
	if err := getJSON(ctx, defaultHTTP(c.HTTP), endpoint, &parsed); err != nil {
		return Quote{}, err
	}
	if !parsed.LastPrice.IsPositive() {
		return Quote{}, fmt.Errorf("binance: invalid price for %s", base)
	}
	return Quote{
		Symbol:       base,
		Price:        parsed.LastPrice,
		Change24h:    parsed.PriceChange,
		ChangePct24h: parsed.PriceChangePercent,
		High24h:      parsed.HighPrice,
		Low24h:       parsed.LowPrice,
		Volume24h:    parsed.QuoteVolume,
		Source:       c.Name(),
		Time:         time.Now().UTC(),
	}, nil
}
