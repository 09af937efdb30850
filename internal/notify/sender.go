package notify

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("notification channel not configured")
	ErrNotRetryable  = errors.New("notification is not retryable")
	ErrRetryLimit    = errors.New("notification retry limit reached")
)

const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
	ChannelWebhook  = "webhook"
)

// SkippedReason is recorded on notifications that were never handed to a sender.
const SkippedReason = "notifications not configured or disabled"

const DefaultTestMessage = "This is a test notification from AITrading Bot Dashboard"

// Message is one notification ready for delivery.
type Message struct {
	Type         string
	SimulationID *string
	Symbol       *string
	Content      string
	// Disabled records the message as skipped without sending it.
	Disabled bool
}

// Sender delivers a message on one channel and returns the channel's
// message id when it has one.
type Sender interface {
	Channel() string
	Send(ctx context.Context, msg Message) (string, error)
}

type TypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Types is the notification catalogue exposed to clients.
func Types() []TypeInfo {
	return []TypeInfo{
		{Type: "signal", Description: "AI market signal for a simulation"},
		{Type: "trade_opened", Description: "Position opened"},
		{Type: "trade_closed", Description: "Position closed with realized P&L"},
		{Type: "error", Description: "Simulation error"},
		{Type: "daily_summary", Description: "Daily performance summary"},
		{Type: "simulation_status", Description: "Simulation started, paused, resumed, stopped or failed"},
		{Type: "test", Description: "Test notification"},
	}
}
