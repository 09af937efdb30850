package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrValidation = errors.New("validation failed")

// ValidationError lists every rejected field of a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid simulation config: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type AIProvider string

const (
	AIAnthropic AIProvider = "anthropic"
	AIXAI       AIProvider = "xai"
	AIDeepSeek  AIProvider = "deepseek"
)

// ParseAIProvider accepts the closed provider set; "grok" is an alias of xai.
func ParseAIProvider(v string) (AIProvider, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "anthropic", "claude":
		return AIAnthropic, true
	case "xai", "grok":
		return AIXAI, true
	case "deepseek":
		return AIDeepSeek, true
	}
	return "", false
}

type Venue string

const (
	VenueSpot    Venue = "spot"
	VenueFutures Venue = "futures"
)

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

type Exchange string

const (
	ExchangeCoinbase Exchange = "coinbase"
	ExchangeBitunix  Exchange = "bitunix"
)

// PositionSize is either a fixed USD notional or a percentage of capital.
// JSON accepts 250, "250" or "5%".
type PositionSize struct {
	Percent bool
	Value   decimal.Decimal
}

func FixedSize(usd decimal.Decimal) PositionSize   { return PositionSize{Value: usd} }
func PercentSize(pct decimal.Decimal) PositionSize { return PositionSize{Percent: true, Value: pct} }
func ParsePositionSize(v string) (PositionSize, error) {
	raw := strings.TrimSpace(v)
	percent := strings.HasSuffix(raw, "%")
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return PositionSize{}, fmt.Errorf("position_size %q: %w", v, err)
	}
	return PositionSize{Percent: percent, Value: d}, nil
}

// Notional resolves the size against the current capital.
func (p PositionSize) Notional(capital decimal.Decimal) decimal.Decimal {
	if p.Percent {
		return capital.Mul(p.Value).Div(decimal.NewFromInt(100))
	}
	return p.Value
}

func (p PositionSize) String() string {
	if p.Percent {
		return p.Value.String() + "%"
	}
	return p.Value.String()
}

func (p PositionSize) IsZero() bool { return p.Value.IsZero() }

func (p PositionSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *PositionSize) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("position_size must be a number or string: %w", err)
		}
		s = n.String()
	}
	parsed, err := ParsePositionSize(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Config is the immutable strategy configuration of one simulation.
type Config struct {
	Symbol               string          `json:"symbol"`
	CryptoName           string          `json:"crypto_name,omitempty"`
	InitialCapital       decimal.Decimal `json:"initial_capital"`
	PositionSize         PositionSize    `json:"position_size"`
	FeeRate              decimal.Decimal `json:"fee_rate"`
	AIProvider           AIProvider      `json:"ai_provider"`
	StopLossPercent      decimal.Decimal `json:"stop_loss_percent"`
	MaxDailyTrades       int             `json:"max_daily_trades"`
	MaxDrawdownPercent   decimal.Decimal `json:"max_drawdown_percent"`
	CheckIntervalSeconds int             `json:"check_interval_seconds"`
	Venue                Venue           `json:"venue"`
	Mode                 Mode            `json:"mode"`
	Exchange             Exchange        `json:"exchange,omitempty"`
	QuantityStep         decimal.Decimal `json:"quantity_step"`
	MaxIterations        int             `json:"max_iterations,omitempty"`
	NotificationsEnabled *bool           `json:"notifications_enabled,omitempty"`
	IncludeReasoning     *bool           `json:"include_reasoning,omitempty"`
}

const (
	DefaultFeeRate       = "0.0006"
	DefaultStopLoss      = "10"
	DefaultMaxDaily      = 10
	DefaultCheckInterval = 300
	DefaultQuantityStep  = "0.00000001"
)

var (
	minCapital  = decimal.NewFromInt(100)
	maxFeeRate  = decimal.RequireFromString("0.1")
	minStopLoss = decimal.RequireFromString("0.1")
	maxStopLoss = decimal.NewFromInt(50)
	hundred     = decimal.NewFromInt(100)
)

// DefaultConfig is the base that request payloads are decoded over, so
// omitted fields keep their defaults while explicit zeros disable a guard.
func DefaultConfig() Config {
	notify, reasoning := true, false
	return Config{
		InitialCapital:       decimal.NewFromInt(10000),
		PositionSize:         PercentSize(decimal.NewFromInt(5)),
		FeeRate:              decimal.RequireFromString(DefaultFeeRate),
		AIProvider:           AIAnthropic,
		StopLossPercent:      decimal.RequireFromString(DefaultStopLoss),
		MaxDailyTrades:       DefaultMaxDaily,
		CheckIntervalSeconds: DefaultCheckInterval,
		Venue:                VenueSpot,
		Mode:                 ModePaper,
		QuantityStep:         decimal.RequireFromString(DefaultQuantityStep),
		NotificationsEnabled: &notify,
		IncludeReasoning:     &reasoning,
	}
}

// Normalize fills defaults and canonicalizes enums in place.
func (c *Config) Normalize() {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.CryptoName = strings.TrimSpace(c.CryptoName)
	if c.CryptoName == "" {
		c.CryptoName = BaseSymbol(c.Symbol)
	}
	if c.PositionSize.IsZero() {
		c.PositionSize = PercentSize(decimal.NewFromInt(5))
	}
	if p, ok := ParseAIProvider(string(c.AIProvider)); ok {
		c.AIProvider = p
	}
	if c.MaxDailyTrades == 0 {
		c.MaxDailyTrades = DefaultMaxDaily
	}
	if c.CheckIntervalSeconds == 0 {
		c.CheckIntervalSeconds = DefaultCheckInterval
	}
	c.Venue = Venue(strings.ToLower(strings.TrimSpace(string(c.Venue))))
	if c.Venue == "" {
		c.Venue = VenueSpot
	}
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	if c.Mode == "" {
		c.Mode = ModePaper
	}
	c.Exchange = Exchange(strings.ToLower(strings.TrimSpace(string(c.Exchange))))
	if c.QuantityStep.IsZero() {
		c.QuantityStep = decimal.RequireFromString(DefaultQuantityStep)
	}
	if c.NotificationsEnabled == nil {
		v := true
		c.NotificationsEnabled = &v
	}
	if c.IncludeReasoning == nil {
		v := false
		c.IncludeReasoning = &v
	}
}

// Validate checks bounds. It expects a normalized config.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Symbol == "" {
		add("symbol is required")
	}
	if c.InitialCapital.LessThan(minCapital) {
		add("initial_capital must be >= %s", minCapital)
	}
	if !c.PositionSize.Value.IsPositive() {
		add("position_size must be positive")
	} else if c.PositionSize.Percent && c.PositionSize.Value.GreaterThan(hundred) {
		add("position_size percent must be <= 100")
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThan(maxFeeRate) {
		add("fee_rate must be within [0, %s]", maxFeeRate)
	}
	if _, ok := ParseAIProvider(string(c.AIProvider)); !ok {
		add("ai_provider must be one of anthropic, xai, grok, deepseek")
	}
	if !c.StopLossPercent.IsZero() && (c.StopLossPercent.LessThan(minStopLoss) || c.StopLossPercent.GreaterThan(maxStopLoss)) {
		add("stop_loss_percent must be 0 or within [%s, %s]", minStopLoss, maxStopLoss)
	}
	if c.MaxDailyTrades < 1 || c.MaxDailyTrades > 100 {
		add("max_daily_trades must be within [1, 100]")
	}
	if c.MaxDrawdownPercent.IsNegative() || c.MaxDrawdownPercent.GreaterThan(hundred) {
		add("max_drawdown_percent must be within [0, 100]")
	}
	if c.CheckIntervalSeconds < 60 || c.CheckIntervalSeconds > 3600 {
		add("check_interval_seconds must be within [60, 3600]")
	}
	switch c.Venue {
	case VenueSpot, VenueFutures:
	default:
		add("venue must be spot or futures")
	}
	switch c.Mode {
	case ModePaper:
	case ModeLive:
		switch c.Exchange {
		case ExchangeCoinbase:
			if c.Venue != VenueSpot {
				add("exchange coinbase only supports the spot venue")
			}
		case ExchangeBitunix:
			if c.Venue != VenueFutures {
				add("exchange bitunix only supports the futures venue")
			}
		default:
			add("live mode requires exchange coinbase or bitunix")
		}
	default:
		add("mode must be paper or live")
	}
	if !c.QuantityStep.IsPositive() {
		add("quantity_step must be positive")
	}
	if c.MaxIterations < 0 {
		add("max_iterations must be >= 0")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c Config) Notifications() bool {
	return c.NotificationsEnabled == nil || *c.NotificationsEnabled
}

func (c Config) Reasoning() bool {
	return c.IncludeReasoning != nil && *c.IncludeReasoning
}

// BaseSymbol strips the quote currency: BTCUSDT -> BTC, ETH-USD -> ETH.
func BaseSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range []string{"-USDT", "-USD", "USDT", "USDC", "BUSD", "USD"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return s[:len(s)-len(suffix)]
		}
	}
	return s
}

// DecodeConfig reads a persisted or submitted configuration over the
// defaults and normalizes it. It does not validate.
func DecodeConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode simulation config: %w", err)
		}
	}
	cfg.Normalize()
	return cfg, nil
}
