package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aitrader/internal/config"
	"aitrader/internal/simulation"
)

// AnthropicProvider forces a single tool call whose arguments are the outlook.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

func NewAnthropicProvider(pc config.AIProviderConfig, common config.AIConfig, opts ...option.RequestOption) *AnthropicProvider {
	base := []option.RequestOption{option.WithAPIKey(pc.APIKey)}
	if pc.BaseURL != "" {
		base = append(base, option.WithBaseURL(pc.BaseURL))
	}
	return &AnthropicProvider{
		client:      anthropic.NewClient(append(base, opts...)...),
		model:       pc.Model,
		temperature: common.Temperature,
		maxTokens:   common.MaxTokens,
		timeout:     common.Timeout,
	}
}

func (p *AnthropicProvider) Name() string { return string(simulation.AIAnthropic) }

func (p *AnthropicProvider) Signal(ctx context.Context, pc PromptContext) (Signal, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	name := toolName(pc.CryptoName)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(p.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(pc.CryptoName, pc.MarketContext))),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        name,
				Description: anthropic.String(toolDescription(pc.CryptoName)),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: outlookSchema(),
					Required:   []string{"interpretation", "reasons"},
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceParamOfTool(name),
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Signal{}, simulation.Collaborator(p.Name(), err)
	}

	var text string
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if block.Name != name {
				return Signal{}, simulation.Collaborator(p.Name(), fmt.Errorf("%w: unexpected tool %q", ErrBadResponse, block.Name))
			}
			return p.finish(string(block.Input))
		case "text":
			text += block.Text
		}
	}
	if text == "" {
		return Signal{}, simulation.Collaborator(p.Name(), fmt.Errorf("%w: no tool_use block", ErrBadResponse))
	}
	return p.finish(text)
}

func (p *AnthropicProvider) finish(raw string) (Signal, error) {
	sig, err := parseOutlook(raw)
	if err != nil {
		return Signal{}, simulation.Collaborator(p.Name(), err)
	}
	sig.Provider = p.Name()
	return sig, nil
}
