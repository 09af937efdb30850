package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aitrader/internal/accounting"
	"aitrader/internal/simulation"
)

var (
	ErrNotConfigured = errors.New("ai provider not configured")
	ErrBadResponse   = errors.New("ai response did not match the outlook schema")
)

// Signal is a provider's outlook for the next 24 hours.
type Signal struct {
	Interpretation accounting.Signal `json:"interpretation"`
	Reasoning      string            `json:"reasoning"`
	Provider       string            `json:"provider"`
}

// PromptContext is what a provider needs to produce an outlook.
type PromptContext struct {
	Symbol        string
	CryptoName    string
	MarketContext string
}

type Provider interface {
	Name() string
	Signal(ctx context.Context, pc PromptContext) (Signal, error)
}

// Registry maps the closed provider enum to configured providers.
type Registry struct {
	providers map[simulation.AIProvider]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[simulation.AIProvider]Provider{}}
}

func (r *Registry) Register(key simulation.AIProvider, p Provider) {
	r.providers[key] = p
}

func (r *Registry) Get(key simulation.AIProvider) (Provider, error) {
	p, ok := r.providers[key]
	if !ok || p == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNotConfigured)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, string(k))
	}
	return out
}

func toolName(cryptoName string) string {
	name := strings.ToLower(strings.TrimSpace(cryptoName))
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
	if name == "" {
		name = "market"
	}
	return name + "_outlook"
}

func toolDescription(cryptoName string) string {
	return fmt.Sprintf("Return a structured %s outlook for the next 24 hours.", cryptoName)
}

func outlookSchema() map[string]any {
	return map[string]any{
		"interpretation": map[string]any{
			"type":        "string",
			"enum":        []string{"Bullish", "Bearish", "Neutral"},
			"description": "Market outlook direction",
		},
		"reasons": map[string]any{
			"type":        "string",
			"description": "Concise rationale citing the strongest factors.",
		},
	}
}
