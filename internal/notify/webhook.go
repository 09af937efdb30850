package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aitrader/internal/config"
)

type WebhookSender struct {
	HTTP *http.Client
	URL  string
}

type WebhookPayload struct {
	Type         string    `json:"type"`
	SimulationID *string   `json:"simulation_id,omitempty"`
	Symbol       *string   `json:"symbol,omitempty"`
	Message      string    `json:"message"`
	Time         time.Time `json:"time"`
}

func NewWebhookSender(cfg config.WebhookConfig, timeout time.Duration) (*WebhookSender, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook: missing url: %w", ErrNotConfigured)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSender{HTTP: &http.Client{Timeout: timeout}, URL: strings.TrimSpace(cfg.URL)}, nil
}

func (s *WebhookSender) Channel() string { return ChannelWebhook }

func (s *WebhookSender) Send(ctx context.Context, msg Message) (string, error) {
	b, err := json.Marshal(WebhookPayload{
		Type:         msg.Type,
		SimulationID: msg.SimulationID,
		Symbol:       msg.Symbol,
		Message:      msg.Content,
		Time:         time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpError{StatusCode: resp.StatusCode}
	}
	return "", nil
}

type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("webhook http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}
