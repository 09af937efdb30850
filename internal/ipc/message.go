package ipc

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommandType is a control command the manager writes to a worker's stdin.
type CommandType string

const (
	CommandPause  CommandType = "pause"
	CommandResume CommandType = "resume"
	CommandStop   CommandType = "stop"
)

func (c CommandType) Valid() bool {
	switch c {
	case CommandPause, CommandResume, CommandStop:
		return true
	}
	return false
}

type Command struct {
	Type CommandType `json:"type"`
	Time time.Time   `json:"ts"`
}

// EventType is a message a worker writes to its stdout.
type EventType string

const (
	EventReady     EventType = "ready"
	EventStatus    EventType = "status"
	EventHeartbeat EventType = "heartbeat"
	EventTrade     EventType = "trade"
	EventCycle     EventType = "cycle"
	EventError     EventType = "error"
)

// Worker states. They mirror but are distinct from the persisted status.
const (
	StateStarting  = "starting"
	StateRunning   = "running"
	StatePaused    = "paused"
	StateStopping  = "stopping"
	StateStopped   = "stopped"
	StateCompleted = "completed"
	StateError     = "error"
)

type Event struct {
	Type         EventType `json:"type"`
	SimulationID string    `json:"simulation_id"`
	PID          int       `json:"pid,omitempty"`
	State        string    `json:"state,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Message      string    `json:"message,omitempty"`
	Trade        *Trade    `json:"trade,omitempty"`
	Cycle        *Cycle    `json:"cycle,omitempty"`
	Time         time.Time `json:"ts"`
}

// Trade reports one opened or closed lot.
type Trade struct {
	TradeID     string           `json:"trade_id"`
	Action      string           `json:"action"`
	Side        string           `json:"side"`
	Symbol      string           `json:"symbol"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	Fee         decimal.Decimal  `json:"fee"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	CloseReason string           `json:"close_reason,omitempty"`
}

// Cycle summarizes one decision-loop iteration.
type Cycle struct {
	Iteration      int             `json:"iteration"`
	Price          decimal.Decimal `json:"price"`
	Interpretation string          `json:"interpretation,omitempty"`
	Action         string          `json:"action"`
	Capital        decimal.Decimal `json:"capital"`
	Equity         decimal.Decimal `json:"equity"`
	Drawdown       decimal.Decimal `json:"drawdown"`
	Failures       int             `json:"consecutive_failures"`
}
