package models

import "time"

const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

const (
	NotificationSignal           = "signal"
	NotificationTradeOpened      = "trade_opened"
	NotificationTradeClosed      = "trade_closed"
	NotificationError            = "error"
	NotificationDailySummary     = "daily_summary"
	NotificationSimulationStatus = "simulation_status"
	NotificationTest             = "test"
)

type Notification struct {
	ID                uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SimulationID      *string     `gorm:"type:varchar(36);index" json:"simulation_id,omitempty"`
	Simulation        *Simulation `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Type              string      `gorm:"type:varchar(30);not null;index" json:"type"`
	Symbol            *string     `gorm:"type:varchar(30)" json:"symbol,omitempty"`
	Content           string      `gorm:"type:text;not null" json:"content"`
	DeliveryStatus    string      `gorm:"type:varchar(20);not null;default:'pending';index" json:"delivery_status"`
	Channel           *string     `gorm:"type:varchar(20)" json:"channel,omitempty"`
	ExternalMessageID *string     `gorm:"type:varchar(100)" json:"external_message_id,omitempty"`
	RetryCount        int         `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage      *string     `gorm:"type:text" json:"error_message,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	CreatedAt         time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
