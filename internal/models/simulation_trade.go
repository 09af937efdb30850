package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SimulationTrade is one opened lot. Exit fields stay empty until the lot closes.
type SimulationTrade struct {
	ID           string `gorm:"type:varchar(36);primaryKey" json:"id"`
	SimulationID string `gorm:"type:varchar(36);not null;index" json:"simulation_id"`
	Symbol       string `gorm:"type:varchar(30);not null" json:"symbol"`
	Action       string `gorm:"type:varchar(20);not null" json:"action"`
	Side         string `gorm:"type:varchar(10);not null" json:"side"`

	Quantity   decimal.Decimal  `gorm:"type:numeric(30,10);not null" json:"quantity"`
	EntryPrice decimal.Decimal  `gorm:"type:numeric(30,10);not null" json:"entry_price"`
	EntryFee   decimal.Decimal  `gorm:"type:numeric(30,10);not null;default:0" json:"entry_fee"`
	ExitPrice  *decimal.Decimal `gorm:"type:numeric(30,10)" json:"exit_price,omitempty"`
	ExitFee    *decimal.Decimal `gorm:"type:numeric(30,10)" json:"exit_fee,omitempty"`
	// RealizedPnL is net of both fees.
	RealizedPnL *decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10)" json:"realized_pnl,omitempty"`

	CloseReason    *string `gorm:"type:varchar(30)" json:"close_reason,omitempty"`
	Interpretation string  `gorm:"type:varchar(20)" json:"interpretation,omitempty"`
	ExternalID     *string `gorm:"type:varchar(100)" json:"external_id,omitempty"`

	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

func (SimulationTrade) TableName() string {
	return "simulation_trades"
}

func (t SimulationTrade) Closed() bool {
	return t.ClosedAt != nil
}
