package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"

	"aitrader/internal/config"
)

// discordMaxContent is the message length Discord accepts.
const discordMaxContent = 2000

type discordAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSender posts through a bot channel when a bot token is set,
// otherwise through an incoming webhook.
type DiscordSender struct {
	api          discordAPI
	channelID    string
	webhookID    string
	webhookToken string
}

func NewDiscordSender(cfg config.DiscordConfig) (*DiscordSender, error) {
	out := &DiscordSender{channelID: strings.TrimSpace(cfg.ChannelID)}
	token := strings.TrimSpace(cfg.BotToken)
	switch {
	case token != "" && out.channelID != "":
		token = "Bot " + token
	case strings.TrimSpace(cfg.WebhookURL) != "":
		id, secret, err := parseDiscordWebhook(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		out.webhookID, out.webhookToken = id, secret
		out.channelID = ""
		token = ""
	default:
		return nil, fmt.Errorf("discord: missing bot_token/channel_id or webhook_url: %w", ErrNotConfigured)
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	out.api = session
	return out, nil
}

// parseDiscordWebhook splits https://discord.com/api/webhooks/{id}/{token}.
func parseDiscordWebhook(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord webhook_url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook_url %q: %w", raw, ErrNotConfigured)
}

func (s *DiscordSender) Channel() string { return ChannelDiscord }

func (s *DiscordSender) Send(ctx context.Context, msg Message) (string, error) {
	content := truncate(msg.Content, discordMaxContent)
	var (
		sent *discordgo.Message
		err  error
	)
	if s.channelID != "" {
		sent, err = s.api.ChannelMessageSend(s.channelID, content, discordgo.WithContext(ctx))
	} else {
		sent, err = s.api.WebhookExecute(s.webhookID, s.webhookToken, true, &discordgo.WebhookParams{Content: content}, discordgo.WithContext(ctx))
	}
	if err != nil {
		return "", fmt.Errorf("discord send: %w", err)
	}
	if sent == nil {
		return "", nil
	}
	return sent.ID, nil
}
