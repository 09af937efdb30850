package marketdata

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatContext renders a quote as the market section of the AI prompt.
func FormatContext(q Quote) string {
	direction := "down"
	if q.ChangePct24h.IsPositive() {
		direction = "up"
	}
	position := decimal.NewFromInt(50)
	if span := q.High24h.Sub(q.Low24h); !span.IsZero() {
		position = q.Price.Sub(q.Low24h).Div(span).Mul(decimal.NewFromInt(100))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current %s Market Data:\n", q.Symbol)
	fmt.Fprintf(&b, "- Price: $%s\n", Money(q.Price, 2))
	fmt.Fprintf(&b, "- 24h Change: %s%% (%s$%s)\n", signed(q.ChangePct24h.StringFixed(2), q.ChangePct24h), sign(q.Change24h), Money(q.Change24h.Abs(), 2))
	fmt.Fprintf(&b, "- 24h High: $%s\n", Money(q.High24h, 2))
	fmt.Fprintf(&b, "- 24h Low: $%s\n", Money(q.Low24h, 2))
	fmt.Fprintf(&b, "- 24h Volume: $%s\n", Money(q.Volume24h, 0))
	fmt.Fprintf(&b, "- Price is trending %s over the last 24 hours\n", direction)
	fmt.Fprintf(&b, "- Current price is %s%% of the way between 24h low and high", position.StringFixed(0))
	return b.String()
}

// FormatFearGreed renders the sentiment section appended to the context.
func FormatFearGreed(fg FearGreed) string {
	return fmt.Sprintf("Market Sentiment (Fear & Greed Index):\n- Value: %d/100\n- Classification: %s", fg.Value, fg.Classification)
}

// Money renders a decimal with thousands separators.
func Money(d decimal.Decimal, places int32) string {
	s := d.Abs().StringFixed(places)
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	if d.IsNegative() && !d.Round(places).IsZero() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func sign(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-"
	}
	return "+"
}

func signed(s string, d decimal.Decimal) string {
	if d.IsNegative() {
		if strings.HasPrefix(s, "-") {
			return s
		}
		return "-" + s
	}
	return "+" + s
}
