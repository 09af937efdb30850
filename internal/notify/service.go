package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aitrader/internal/config"
	"aitrader/internal/metrics"
	"aitrader/internal/models"
	"aitrader/internal/repository"
	"aitrader/internal/simulation"
)

// Service persists every notification before delivery and records the
// outcome: sent, failed or skipped.
type Service struct {
	Repo       repository.NotificationRepository
	Senders    []Sender
	Enabled    bool
	MaxRetries int
	Timeout    time.Duration
	Logger     *zap.Logger

	now func() time.Time
}

// NewFromConfig wires the configured channels in order. Channels that are
// listed but lack credentials are logged and left out.
func NewFromConfig(cfg config.NotifyConfig, repo repository.NotificationRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		Repo:       repo,
		Enabled:    cfg.Enabled,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	}
	for _, name := range cfg.Channels {
		var (
			sender Sender
			err    error
		)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ChannelTelegram:
			sender, err = NewTelegramSender(cfg.Telegram)
		case ChannelDiscord:
			sender, err = NewDiscordSender(cfg.Discord)
		case ChannelWebhook:
			sender, err = NewWebhookSender(cfg.Webhook, cfg.Timeout)
		default:
			err = fmt.Errorf("unknown channel %q: %w", name, ErrNotConfigured)
		}
		if err != nil {
			logger.Warn("notification channel disabled", zap.String("channel", name), zap.Error(err))
			continue
		}
		s.Senders = append(s.Senders, sender)
	}
	return s
}

func (s *Service) Configured() bool {
	return s != nil && s.Enabled && len(s.Senders) > 0
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// Notify records the message and delivers it on the first channel that
// accepts it.
func (s *Service) Notify(ctx context.Context, msg Message) (*models.Notification, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item := &models.Notification{
		SimulationID:   msg.SimulationID,
		Type:           msg.Type,
		Symbol:         msg.Symbol,
		Content:        msg.Content,
		DeliveryStatus: models.DeliveryPending,
	}
	if err := s.Repo.InsertNotification(ctx, item); err != nil {
		return nil, err
	}
	if msg.Disabled || !s.Configured() {
		reason := SkippedReason
		return observe(s.Repo.UpdateNotificationDelivery(ctx, item.ID, repository.DeliveryUpdate{
			Status:       models.DeliverySkipped,
			ErrorMessage: &reason,
		}))
	}
	return observe(s.deliver(ctx, item, msg, false))
}

func observe(item *models.Notification, err error) (*models.Notification, error) {
	if err == nil && item != nil {
		metrics.Notifications.WithLabelValues(item.Type, item.DeliveryStatus).Inc()
	}
	return item, err
}

func (s *Service) deliver(ctx context.Context, item *models.Notification, msg Message, retry bool) (*models.Notification, error) {
	var errs []error
	for _, sender := range s.Senders {
		sendCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.Timeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		}
		externalID, err := sender.Send(sendCtx, msg)
		cancel()
		if err != nil {
			s.Logger.Warn("notification send failed",
				zap.Uint64("notification_id", item.ID),
				zap.String("channel", sender.Channel()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		channel := sender.Channel()
		sentAt := s.clock()
		update := repository.DeliveryUpdate{
			Status:         models.DeliverySent,
			Channel:        &channel,
			SentAt:         &sentAt,
			IncrementRetry: retry,
		}
		if externalID != "" {
			update.ExternalMessageID = &externalID
		}
		return s.Repo.UpdateNotificationDelivery(ctx, item.ID, update)
	}
	reason := truncate(errors.Join(errs...).Error(), 1000)
	return s.Repo.UpdateNotificationDelivery(ctx, item.ID, repository.DeliveryUpdate{
		Status:         models.DeliveryFailed,
		ErrorMessage:   &reason,
		IncrementRetry: retry,
	})
}

// Retry resends a failed or pending notification with its stored content.
func (s *Service) Retry(ctx context.Context, id uint64) (*models.Notification, error) {
	if s == nil || s.Repo == nil {
		return nil, repository.ErrUnavailable
	}
	item, err := s.Repo.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.DeliveryStatus != models.DeliveryFailed && item.DeliveryStatus != models.DeliveryPending {
		return nil, fmt.Errorf("notification %d is %s: %w", id, item.DeliveryStatus, ErrNotRetryable)
	}
	if s.MaxRetries > 0 && item.RetryCount >= s.MaxRetries {
		return nil, fmt.Errorf("notification %d retried %d times: %w", id, item.RetryCount, ErrRetryLimit)
	}
	if !s.Configured() {
		reason := SkippedReason
		return s.Repo.UpdateNotificationDelivery(ctx, id, repository.DeliveryUpdate{
			Status:         item.DeliveryStatus,
			ErrorMessage:   &reason,
			IncrementRetry: true,
		})
	}
	return observe(s.deliver(ctx, item, Message{
		Type:         item.Type,
		SimulationID: item.SimulationID,
		Symbol:       item.Symbol,
		Content:      item.Content,
	}, true))
}

// RetryFailed retries failed notifications still under the retry cap and
// returns how many were attempted.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	if !s.Configured() {
		return 0, nil
	}
	status := models.DeliveryFailed
	params := repository.ListNotificationsParams{Limit: 100, DeliveryStatus: &status}
	if s.MaxRetries > 0 {
		params.MaxRetries = &s.MaxRetries
	}
	items, err := s.Repo.ListNotifications(ctx, params)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if _, err := s.Retry(ctx, item.ID); err != nil {
			s.Logger.Warn("notification retry failed", zap.Uint64("notification_id", item.ID), zap.Error(err))
		}
	}
	return len(items), nil
}

func (s *Service) SendTest(ctx context.Context, text string) (*models.Notification, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTestMessage
	}
	return s.Notify(ctx, Message{Type: models.NotificationTest, Content: text})
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// SimulationNotifier binds notifications to one simulation and honours its
// per-simulation switches.
type SimulationNotifier struct {
	Service          *Service
	SimulationID     string
	Name             string
	Symbol           string
	Paper            bool
	Enabled          bool
	IncludeReasoning bool
}

func (n SimulationNotifier) send(ctx context.Context, typ, content string, withSymbol bool) (*models.Notification, error) {
	msg := Message{
		Type:         typ,
		SimulationID: strPtr(n.SimulationID),
		Content:      content,
		Disabled:     !n.Enabled,
	}
	if withSymbol {
		msg.Symbol = strPtr(n.Symbol)
	}
	return n.Service.Notify(ctx, msg)
}

func (n SimulationNotifier) Signal(ctx context.Context, interpretation, reasoning string) (*models.Notification, error) {
	return n.send(ctx, models.NotificationSignal, SignalContent(n.Symbol, interpretation, reasoning, n.IncludeReasoning), true)
}

func (n SimulationNotifier) TradeOpened(ctx context.Context, side string, qty, price decimal.Decimal) (*models.Notification, error) {
	return n.send(ctx, models.NotificationTradeOpened, TradeOpenedContent(n.Symbol, side, qty, price, n.Paper), true)
}

func (n SimulationNotifier) TradeClosed(ctx context.Context, side string, entry, exit, pnl decimal.Decimal) (*models.Notification, error) {
	return n.send(ctx, models.NotificationTradeClosed, TradeClosedContent(n.Symbol, side, entry, exit, pnl, n.Paper), true)
}

func (n SimulationNotifier) Error(ctx context.Context, message string) (*models.Notification, error) {
	return n.send(ctx, models.NotificationError, ErrorContent(n.Name, message), false)
}

func (n SimulationNotifier) Status(ctx context.Context, status, message string) (*models.Notification, error) {
	return n.send(ctx, models.NotificationSimulationStatus, StatusContent(n.Name, status, message), false)
}

// ForSimulation builds the notifier for a persisted simulation.
func (s *Service) ForSimulation(item *models.Simulation, cfg simulation.Config) SimulationNotifier {
	return SimulationNotifier{
		Service:          s,
		SimulationID:     item.ID,
		Name:             item.Name,
		Symbol:           cfg.Symbol,
		Paper:            cfg.Mode != simulation.ModeLive,
		Enabled:          cfg.Notifications(),
		IncludeReasoning: cfg.Reasoning(),
	}
}

// DailySummaries sends one summary per running or paused simulation.
func (s *Service) DailySummaries(ctx context.Context, sims repository.SimulationRepository) (int, error) {
	items, err := sims.ListSimulations(ctx, repository.ListSimulationsParams{
		Limit:    500,
		Statuses: []string{string(simulation.StatusRunning), string(simulation.StatusPaused)},
	})
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range items {
		item := &items[i]
		cfg, err := simulation.DecodeConfig(item.Config)
		if err != nil {
			s.Logger.Warn("daily summary skipped", zap.String("simulation_id", item.ID), zap.Error(err))
			continue
		}
		stats, err := sims.SimulationStats(ctx, item.ID)
		if err != nil {
			s.Logger.Warn("daily summary stats failed", zap.String("simulation_id", item.ID), zap.Error(err))
			continue
		}
		balance := cfg.InitialCapital
		if stats.Account != nil {
			balance = stats.Account.Capital
		}
		n := s.ForSimulation(item, cfg)
		if _, err := n.send(ctx, models.NotificationDailySummary,
			DailySummaryContent(item.Name, stats.TotalTrades, stats.WinRate, stats.TotalPnL, balance), false); err != nil {
			s.Logger.Warn("daily summary failed", zap.String("simulation_id", item.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

// SimulationStatus reports a status change decided outside the worker, such
// as a kill or an orphaned run. Errors use the error format.
func (s *Service) SimulationStatus(ctx context.Context, sim *models.Simulation, status, message string) {
	if s == nil || sim == nil {
		return
	}
	cfg, err := simulation.DecodeConfig(sim.Config)
	if err != nil {
		s.Logger.Warn("status notification skipped", zap.String("simulation_id", sim.ID), zap.Error(err))
		return
	}
	n := s.ForSimulation(sim, cfg)
	if status == string(simulation.StatusError) {
		_, err = n.Error(ctx, message)
	} else {
		_, err = n.Status(ctx, status, message)
	}
	if err != nil {
		s.Logger.Warn("status notification failed", zap.String("simulation_id", sim.ID), zap.Error(err))
	}
}
