package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"aitrader/internal/config"
)

type telegramAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type TelegramSender struct {
	api    telegramAPI
	chatID int64
}

func NewTelegramSender(cfg config.TelegramConfig, opts ...telego.BotOption) (*TelegramSender, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: missing bot_token/chat_id: %w", ErrNotConfigured)
	}
	bot, err := telego.NewBot(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSender{api: bot, chatID: cfg.ChatID}, nil
}

func (s *TelegramSender) Channel() string { return ChannelTelegram }

func (s *TelegramSender) Send(ctx context.Context, msg Message) (string, error) {
	sent, err := s.api.SendMessage(ctx, tu.Message(tu.ID(s.chatID), msg.Content))
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}
