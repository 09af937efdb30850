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

var coinGeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
	"SHIB":  "shiba-inu",
	"LTC":   "litecoin",
	"UNI":   "uniswap",
	"ATOM":  "cosmos",
	"XLM":   "stellar",
}

type CoinGecko struct {
	HTTP    *http.Client
	BaseURL string
}

func (c *CoinGecko) Name() string { return "coingecko" }

type usdAmount struct {
	USD decimal.Decimal `json:"usd"`
}

func (c *CoinGecko) Quote(ctx context.Context, base string) (Quote, error) {
	id, ok := coinGeckoIDs[base]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko %s: %w", base, ErrUnknownSymbol)
	}
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	q.Set("sparkline", "false")
	endpoint := fmt.Sprintf("%s/coins/%s?%s", strings.TrimRight(c.BaseURL, "/"), id, q.Encode())

	var parsed struct {
		MarketData struct {
			CurrentPrice             usdAmount       `json:"current_price"`
			PriceChange24h           decimal.Decimal `json:"price_change_24h"`
			PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
			High24h                  usdAmount       `json:"high_24h"`
			Low24h                   usdAmount       `json:"low_24h"`
			TotalVolume              usdAmount       `json:"total_volume"`
			MarketCap                usdAmount       `json:"market_cap"`
		} `json:"market_data"`
	}
	if err := getJSON(ctx, defaultHTTP(c.HTTP), endpoint, &parsed); err != nil {
		return Quote{}, err
	}
	md := parsed.MarketData
	if !md.CurrentPrice.USD.IsPositive() {
		return Quote{}, fmt.Errorf("coingecko: invalid price for %s", base)
	}
	out := Quote{
		Symbol:       base,
		Price:        md.CurrentPrice.USD,
		Change24h:    md.PriceChange24h,
		ChangePct24h: md.PriceChangePercentage24h,
		High24h:      md.High24h.USD,
		Low24h:       md.Low24h.USD,
		Volume24h:    md.TotalVolume.USD,
		Source:       c.Name(),
		Time:         time.Now().UTC(),
	}
	if md.MarketCap.USD.IsPositive() {
		mc := md.MarketCap.USD
		out.MarketCap = &mc
	}
	return out, nil
}
