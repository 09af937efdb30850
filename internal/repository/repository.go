package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"aitrader/internal/models"
	"aitrader/internal/simulation"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("repository unavailable")
)

// SimulationRepository is the ledger of simulations, their trades and
// accounting snapshots. Every cross-entity write runs in one transaction.
type SimulationRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	CreateSimulation(ctx context.Context, item *models.Simulation) error
	GetSimulation(ctx context.Context, id string) (*models.Simulation, error)
	ListSimulations(ctx context.Context, params ListSimulationsParams) ([]models.Simulation, error)
	CountSimulations(ctx context.Context, params ListSimulationsParams) (int64, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*models.Simulation, error)
	SetWorkerPID(ctx context.Context, id string, pid *int) error
	DeleteSimulation(ctx context.Context, id string) error

	RecordTrade(ctx context.Context, simulationID string, trade *models.SimulationTrade) error
	RecordExecution(ctx context.Context, exec Execution) error
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.SimulationTrade, error)
	CountTrades(ctx context.Context, params ListTradesParams) (int64, error)
	ListOpenTrades(ctx context.Context, simulationID string) ([]models.SimulationTrade, error)
	CountOpensSince(ctx context.Context, simulationID string, since time.Time) (int64, error)

	GetAccount(ctx context.Context, simulationID string) (*models.SimulationAccount, error)
	SimulationStats(ctx context.Context, simulationID string) (*SimulationStats, error)
}

type NotificationRepository interface {
	InsertNotification(ctx context.Context, item *models.Notification) error
	UpdateNotificationDelivery(ctx context.Context, id uint64, update DeliveryUpdate) (*models.Notification, error)
	GetNotification(ctx context.Context, id uint64) (*models.Notification, error)
	ListNotifications(ctx context.Context, params ListNotificationsParams) ([]models.Notification, error)
	CountNotifications(ctx context.Context, params ListNotificationsParams) (int64, error)
	NotificationStats(ctx context.Context, since time.Time) (*NotificationStats, error)
}

type Repository interface {
	SimulationRepository
	NotificationRepository
}

type ListSimulationsParams struct {
	Limit    int
	Offset   int
	Status   *string
	Statuses []string
	OrderBy  string
	Asc      *bool
}

type ListTradesParams struct {
	SimulationID string
	Limit        int
	Offset       int
	Open         *bool
	Asc          *bool
}

type ListNotificationsParams struct {
	Limit          int
	Offset         int
	SimulationID   *string
	Type           *string
	DeliveryStatus *string
	MaxRetries     *int
	Since          *time.Time
	Asc            *bool
}

// StatusUpdate is a compare-and-set status transition. The store rejects it
// with simulation.ErrInvalidTransition unless the persisted status allows To.
type StatusUpdate struct {
	To           simulation.Status
	Reason       string
	ErrorMessage string
	// From, when set, additionally requires the persisted status to match.
	From []simulation.Status
}

type DeliveryUpdate struct {
	Status            string
	Channel           *string
	ExternalMessageID *string
	ErrorMessage      *string
	IncrementRetry    bool
	SentAt            *time.Time
}

// TradeClose fills the exit fields of one open lot.
type TradeClose struct {
	TradeID     string
	ExitPrice   decimal.Decimal
	ExitFee     decimal.Decimal
	RealizedPnL decimal.Decimal
	Reason      string
	ClosedAt    time.Time
}

// Execution is everything one decision cycle writes.
type Execution struct {
	SimulationID string
	Opened       []models.SimulationTrade
	Closed       []TradeClose
	Account      *models.SimulationAccount
	Status       *StatusUpdate
}

type SimulationStats struct {
	SimulationID  string          `json:"simulation_id"`
	TotalTrades   int64           `json:"total_trades"`
	OpenTrades    int64           `json:"open_trades"`
	WinningTrades int64           `json:"winning_trades"`
	LosingTrades  int64           `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	AvgWin        decimal.Decimal `json:"avg_win"`
	AvgLoss       decimal.Decimal `json:"avg_loss"`

	Account *models.SimulationAccount `json:"account,omitempty"`
}

type NotificationStats struct {
	Since             time.Time        `json:"since"`
	ByStatus          map[string]int64 `json:"by_status"`
	ByType            map[string]int64 `json:"by_type"`
	Total             int64            `json:"total"`
	RecentFailures24h int64            `json:"recent_failures_24h"`
}
