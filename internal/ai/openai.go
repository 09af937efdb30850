package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"aitrader/internal/config"
	"aitrader/internal/simulation"
)

// OpenAIProvider talks to OpenAI-compatible chat completion APIs. xAI and
// DeepSeek both use it with their own base URL and model.
type OpenAIProvider struct {
	client      openai.Client
	name        string
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

func NewOpenAIProvider(name string, pc config.AIProviderConfig, common config.AIConfig, opts ...option.RequestOption) *OpenAIProvider {
	base := []option.RequestOption{option.WithAPIKey(pc.APIKey)}
	if pc.BaseURL != "" {
		base = append(base, option.WithBaseURL(pc.BaseURL))
	}
	return &OpenAIProvider{
		client:      openai.NewClient(append(base, opts...)...),
		name:        name,
		model:       pc.Model,
		temperature: common.Temperature,
		maxTokens:   common.MaxTokens,
		timeout:     common.Timeout,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Signal(ctx context.Context, pc PromptContext) (Signal, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	name := toolName(pc.CryptoName)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(pc.CryptoName, pc.MarketContext)),
		},
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(p.maxTokens),
		Tools: []openai.ChatCompletionToolUnionParam{
			openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name:        name,
				Description: openai.String(toolDescription(pc.CryptoName)),
				Parameters: shared.FunctionParameters{
					"type":                 "object",
					"properties":           outlookSchema(),
					"required":             []string{"interpretation", "reasons"},
					"additionalProperties": false,
				},
			}),
		},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Signal{}, simulation.Collaborator(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return Signal{}, simulation.Collaborator(p.name, fmt.Errorf("%w: no choices", ErrBadResponse))
	}
	msg := resp.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Function.Name != name {
			continue
		}
		return p.finish(call.Function.Arguments)
	}
	if msg.Content == "" {
		return Signal{}, simulation.Collaborator(p.name, fmt.Errorf("%w: missing tool_calls", ErrBadResponse))
	}
	return p.finish(msg.Content)
}

func (p *OpenAIProvider) finish(raw string) (Signal, error) {
	sig, err := parseOutlook(raw)
	if err != nil {
		return Signal{}, simulation.Collaborator(p.name, err)
	}
	sig.Provider = p.name
	return sig, nil
}
