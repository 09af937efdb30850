package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SimulationAccount is the persisted accounting snapshot of one simulation.
type SimulationAccount struct {
	SimulationID string `gorm:"type:varchar(36);primaryKey" json:"simulation_id"`

	Capital       decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"capital"`
	Equity        decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"equity"`
	HighWaterMark decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"high_water_mark"`
	Drawdown      decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"drawdown"`
	MaxDrawdown   decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"max_drawdown"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0" json:"realized_pnl"`
	TotalFees     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"total_fees"`
	LastPrice     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"last_price"`

	PositionSide     string          `gorm:"type:varchar(10)" json:"position_side,omitempty"`
	PositionQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"position_quantity"`
	PositionEntry    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"position_entry"`

	Streak      int `gorm:"not null;default:0" json:"streak"`
	BestStreak  int `gorm:"not null;default:0" json:"best_streak"`
	WorstStreak int `gorm:"not null;default:0" json:"worst_streak"`
	Iterations  int `gorm:"not null;default:0" json:"iterations"`

	// State is the full engine state used to resume accounting.
	State datatypes.JSON `json:"-"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SimulationAccount) TableName() string {
	return "simulation_accounts"
}
