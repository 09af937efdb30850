package ai

import (
	"strings"

	"aitrader/internal/config"
	"aitrader/internal/simulation"
)

// NewRegistryFromConfig registers every provider that has an API key.
func NewRegistryFromConfig(cfg config.AIConfig) *Registry {
	r := NewRegistry()
	if strings.TrimSpace(cfg.Anthropic.APIKey) != "" {
		r.Register(simulation.AIAnthropic, NewAnthropicProvider(cfg.Anthropic, cfg))
	}
	if strings.TrimSpace(cfg.XAI.APIKey) != "" {
		r.Register(simulation.AIXAI, NewOpenAIProvider(string(simulation.AIXAI), cfg.XAI, cfg))
	}
	if strings.TrimSpace(cfg.DeepSeek.APIKey) != "" {
		r.Register(simulation.AIDeepSeek, NewOpenAIProvider(string(simulation.AIDeepSeek), cfg.DeepSeek, cfg))
	}
	return r
}
