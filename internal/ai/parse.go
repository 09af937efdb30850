package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"aitrader/internal/accounting"
)

type outlook struct {
	Interpretation string `json:"interpretation"`
	Reasons        string `json:"reasons"`
	Reasoning      string `json:"reasoning"`
}

// parseOutlook validates tool arguments or a JSON reply. Models sometimes
// wrap JSON in a markdown fence or prose; the first object is used.
func parseOutlook(raw string) (Signal, error) {
	body := strings.TrimSpace(raw)
	if start := strings.Index(body, "{"); start >= 0 {
		if end := strings.LastIndex(body, "}"); end > start {
			body = body[start : end+1]
		}
	}
	var out outlook
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	sig, ok := accounting.ParseSignal(out.Interpretation)
	if !ok {
		return Signal{}, fmt.Errorf("%w: interpretation %q", ErrBadResponse, out.Interpretation)
	}
	reason := strings.TrimSpace(out.Reasons)
	if reason == "" {
		reason = strings.TrimSpace(out.Reasoning)
	}
	if reason == "" {
		return Signal{}, fmt.Errorf("%w: empty reasons", ErrBadResponse)
	}
	return Signal{Interpretation: sig, Reasoning: reason}, nil
}
