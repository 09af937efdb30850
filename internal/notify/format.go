package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"aitrader/internal/marketdata"
)

const maxDetail = 500

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func usd(d decimal.Decimal) string {
	return "$" + marketdata.Money(d, 2)
}

func signedUSD(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + usd(d.Abs())
	}
	return "+" + usd(d)
}

func paperTag(paper bool) string {
	if paper {
		return "[PAPER] "
	}
	return ""
}

func SignalContent(symbol, interpretation, reasoning string, includeReasoning bool) string {
	out := fmt.Sprintf("Signal: %s for %s", interpretation, symbol)
	if includeReasoning && strings.TrimSpace(reasoning) != "" {
		out += "\nReasoning: " + truncate(reasoning, maxDetail)
	}
	return out
}

func TradeOpenedContent(symbol, side string, qty, price decimal.Decimal, paper bool) string {
	return fmt.Sprintf("%sOpened %s %s %s @ %s", paperTag(paper), strings.ToUpper(side), qty.StringFixed(6), symbol, usd(price))
}

func TradeClosedContent(symbol, side string, entry, exit, pnl decimal.Decimal, paper bool) string {
	return fmt.Sprintf("%sClosed %s %s | Entry: %s | Exit: %s | PnL: %s",
		paperTag(paper), strings.ToUpper(side), symbol, usd(entry), usd(exit), signedUSD(pnl))
}

func ErrorContent(name, message string) string {
	return fmt.Sprintf("Error in %s: %s", name, truncate(message, maxDetail))
}

// DailySummaryContent takes the win rate as a percentage.
func DailySummaryContent(name string, trades int64, winRate, pnl, balance decimal.Decimal) string {
	return fmt.Sprintf("Daily Summary for %s: %d trades, %s%% win rate, PnL: %s, Balance: %s",
		name, trades, winRate.StringFixed(1), signedUSD(pnl), usd(balance))
}

var statusEmoji = map[string]string{
	"started": "▶️",
	"resumed": "▶️",
	"stopped": "⏹️",
	"paused":  "⏸️",
	"error":   "⚠️",
}

func StatusContent(name, status, message string) string {
	emoji, ok := statusEmoji[status]
	if !ok {
		emoji = "ℹ️"
	}
	out := fmt.Sprintf("%s Simulation '%s' %s", emoji, name, status)
	if message != "" {
		out += ": " + message
	}
	return out
}
