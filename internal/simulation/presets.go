package simulation

import "github.com/shopspring/decimal"

type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Config      Config `json:"config"`
}

func Presets() []Preset {
	out := []Preset{
		preset("btc_conservative", "BTC Conservative", "Conservative Bitcoin trading with tight risk management",
			"BTCUSDT", "Bitcoin", 10000, FixedSize(decimal.NewFromInt(5)), 5, 5, 600, false),
		preset("eth_moderate", "ETH Moderate", "Moderate Ethereum trading strategy",
			"ETHUSDT", "Ethereum", 10000, PercentSize(decimal.NewFromInt(5)), 10, 10, 300, false),
		preset("sol_aggressive", "SOL Aggressive", "Aggressive Solana trading for higher volatility",
			"SOLUSDT", "Solana", 5000, PercentSize(decimal.NewFromInt(10)), 15, 15, 180, true),
		preset("xrp_swing", "XRP Swing", "XRP swing trading strategy",
			"XRPUSDT", "XRP", 5000, FixedSize(decimal.NewFromInt(10)), 8, 8, 600, false),
		preset("ada_long_term", "ADA Long Term", "Cardano longer-term position trading",
			"ADAUSDT", "Cardano", 5000, PercentSize(decimal.NewFromInt(8)), 12, 3, 1800, false),
	}
	return out
}

func PresetByID(id string) (Preset, bool) {
	for _, p := range Presets() {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

func preset(id, name, desc, symbol, crypto string, capital int64, size PositionSize, stopLoss int64, maxDaily, interval int, reasoning bool) Preset {
	notify := true
	cfg := Config{
		Symbol:               symbol,
		CryptoName:           crypto,
		InitialCapital:       decimal.NewFromInt(capital),
		PositionSize:         size,
		FeeRate:              decimal.RequireFromString(DefaultFeeRate),
		AIProvider:           AIAnthropic,
		StopLossPercent:      decimal.NewFromInt(stopLoss),
		MaxDailyTrades:       maxDaily,
		CheckIntervalSeconds: interval,
		NotificationsEnabled: &notify,
		IncludeReasoning:     &reasoning,
	}
	cfg.Normalize()
	return Preset{ID: id, Name: name, Description: desc, Config: cfg}
}
