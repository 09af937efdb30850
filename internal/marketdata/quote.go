package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownSymbol = errors.New("symbol not supported by source")

// Quote is a 24h ticker snapshot in USD.
type Quote struct {
	Symbol       string           `json:"symbol"`
	Price        decimal.Decimal  `json:"price"`
	Change24h    decimal.Decimal  `json:"change_24h"`
	ChangePct24h decimal.Decimal  `json:"change_pct_24h"`
	High24h      decimal.Decimal  `json:"high_24h"`
	Low24h       decimal.Decimal  `json:"low_24h"`
	Volume24h    decimal.Decimal  `json:"volume_24h"`
	MarketCap    *decimal.Decimal `json:"market_cap,omitempty"`
	Source       string           `json:"source"`
	Time         time.Time        `json:"ts"`
}

// Source is one market-data backend.
type Source interface {
	Name() string
	Quote(ctx context.Context, base string) (Quote, error)
}

// BaseSymbol extracts the base asset of a pair: BTCUSDT -> BTC.
func BaseSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range []string{"-USDT", "-USD", "USDT", "USDC", "BUSD", "USD"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return s[:len(s)-len(suffix)]
		}
	}
	return s
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "aitrader/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func defaultHTTP(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 10 * time.Second}
}
