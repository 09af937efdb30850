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

// Coinbase reads the public exchange product stats endpoint.
type Coinbase struct {
	HTTP    *http.Client
	BaseURL string
}

func (c *Coinbase) Name() string { return "coinbase" }

func (c *Coinbase) Quote(ctx context.Context, base string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/products/%s/stats", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(base+"-USD"))
	var parsed struct {
		Open   decimal.Decimal `json:"open"`
		High   decimal.Decimal `json:"high"`
		Low    decimal.Decimal `json:"low"`
		Last   decimal.Decimal `json:"last"`
		Volume decimal.Decimal `json:"volume"`
	}
	if err := getJSON(ctx, defaultHTTP(c.HTTP), endpoint, &parsed); err != nil {
		return Quote{}, err
	}
	if !parsed.Last.IsPositive() {
		return Quote{}, fmt.Errorf("coinbase: invalid price for %s", base)
	}
	change := decimal.Zero
	pct := decimal.Zero
	if parsed.Open.IsPositive() {
		change = parsed.Last.Sub(parsed.Open)
		pct = change.Div(parsed.Open).Mul(decimal.NewFromInt(100))
	}
	return Quote{
		Symbol:       base,
		Price:        parsed.Last,
		Change24h:    change,
		ChangePct24h: pct,
		High24h:      parsed.High,
		Low24h:       parsed.Low,
		// Coinbase reports base-asset volume.
		Volume24h: parsed.Volume.Mul(parsed.Last),
		Source:    c.Name(),
		Time:      time.Now().UTC(),
	}, nil
}
