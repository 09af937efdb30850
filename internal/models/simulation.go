package models

import (
	"time"

	"gorm.io/datatypes"
)

type Simulation struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(200);not null" json:"name"`
	Config       datatypes.JSON `gorm:"not null" json:"config"`
	Status       string         `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	StatusReason *string        `gorm:"type:varchar(200)" json:"status_reason,omitempty"`
	ErrorMessage *string        `gorm:"type:text" json:"error_message,omitempty"`
	PID          *int           `gorm:"column:pid" json:"pid,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Trades  []SimulationTrade  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Account *SimulationAccount `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (Simulation) TableName() string {
	return "simulations"
}
