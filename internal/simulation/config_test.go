package simulation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionSize_JSON(t *testing.T) {
	cases := []struct {
		raw     string
		percent bool
		value   string
	}{
		{`250`, false, "250"},
		{`"250"`, false, "250"},
		{`"5%"`, true, "5"},
		{`" 12.5 % "`, true, "12.5"},
	}
	for _, tc := range cases {
		var p PositionSize
		require.NoError(t, json.Unmarshal([]byte(tc.raw), &p), tc.raw)
		assert.Equal(t, tc.percent, p.Percent, tc.raw)
		assert.Equal(t, tc.value, p.Value.String(), tc.raw)
	}

	var bad PositionSize
	require.Error(t, json.Unmarshal([]byte(`"lots"`), &bad))

	b, err := json.Marshal(PercentSize(decimal.NewFromInt(5)))
	require.NoError(t, err)
	assert.Equal(t, `"5%"`, string(b))
}

func TestPositionSize_Notional(t *testing.T) {
	capital := decimal.NewFromInt(10000)
	assert.Equal(t, "1000", PercentSize(decimal.NewFromInt(10)).Notional(capital).String())
	assert.Equal(t, "250", FixedSize(decimal.NewFromInt(250)).Notional(capital).String())
}

func TestConfig_DecodeOverDefaults(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`{
		"symbol": "ethusdt",
		"initial_capital": 5000,
		"position_size": "10%",
		"ai_provider": "grok",
		"stop_loss_percent": 0
	}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, "ETH", cfg.CryptoName)
	assert.Equal(t, AIXAI, cfg.AIProvider)
	assert.True(t, cfg.StopLossPercent.IsZero())
	assert.Equal(t, "0.0006", cfg.FeeRate.String())
	assert.Equal(t, 300, cfg.CheckIntervalSeconds)
	assert.True(t, cfg.Notifications())
	assert.False(t, cfg.Reasoning())

	_, err = DecodeConfig([]byte(`{"symbol": 1}`))
	require.Error(t, err)
}

func TestConfig_ValidateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbol = "BTCUSDT"
	cfg.InitialCapital = decimal.NewFromInt(-5)
	cfg.FeeRate = decimal.RequireFromString("0.5")
	cfg.AIProvider = "gpt"
	cfg.StopLossPercent = decimal.NewFromInt(70)
	cfg.MaxDailyTrades = 101
	cfg.CheckIntervalSeconds = 10
	cfg.Mode = ModeLive

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Problems, 7)
}

func TestConfig_LiveExchangeVenue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbol = "BTCUSDT"
	cfg.Mode = ModeLive
	cfg.Exchange = ExchangeBitunix
	cfg.Venue = VenueSpot
	require.Error(t, cfg.Validate())

	cfg.Venue = VenueFutures
	require.NoError(t, cfg.Validate())
}

func TestPresets_AreValid(t *testing.T) {
	presets := Presets()
	require.Len(t, presets, 5)
	for _, p := range presets {
		assert.NoError(t, p.Config.Validate(), p.ID)
	}
	p, ok := PresetByID("sol_aggressive")
	require.True(t, ok)
	assert.True(t, p.Config.PositionSize.Percent)
	assert.True(t, p.Config.Reasoning())
}

func TestBaseSymbol(t *testing.T) {
	assert.Equal(t, "BTC", BaseSymbol("btcusdt"))
	assert.Equal(t, "ETH", BaseSymbol("ETH-USD"))
	assert.Equal(t, "SOL", BaseSymbol("SOL"))
}
