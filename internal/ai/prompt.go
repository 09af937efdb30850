package ai

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the analyst prompt. An empty market context is left out.
func BuildPrompt(cryptoName, marketContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional cryptocurrency analyst. Analyze %s and provide your outlook for the next 24 hours.\n\n", cryptoName)
	b.WriteString("Consider:\n")
	b.WriteString("- Technical analysis and chart patterns\n")
	b.WriteString("- Market sentiment and momentum\n")
	b.WriteString("- Recent price action and trends\n")
	b.WriteString("- Support and resistance levels\n\n")
	if ctx := strings.TrimSpace(marketContext); ctx != "" {
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}
	b.WriteString("Provide your analysis as either:\n")
	b.WriteString("- Bullish: You expect the price to increase\n")
	b.WriteString("- Bearish: You expect the price to decrease\n")
	b.WriteString("- Neutral: No clear directional bias\n\n")
	b.WriteString("Be decisive and provide clear reasoning for your outlook.")
	return b.String()
}
