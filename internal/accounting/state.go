package accounting

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Lot is one opened fill. Its ID is the trade row id in the ledger.
type Lot struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryFee   decimal.Decimal `json:"entry_fee"`
	OpenedAt   time.Time       `json:"opened_at"`
}

func (l Lot) Notional() decimal.Decimal {
	return l.EntryPrice.Mul(l.Quantity)
}

// Position aggregates the open lots of one side.
type Position struct {
	Side     Side            `json:"side,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgEntry decimal.Decimal `json:"avg_entry"`
	Lots     []Lot           `json:"-"`
}

func (p Position) Open() bool {
	return p.Side != "" && p.Quantity.IsPositive()
}

// State is everything the engine mutates. It is serialized into the
// accounting snapshot; lots are restored from open trade rows instead.
type State struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Capital        decimal.Decimal `json:"capital"`
	Equity         decimal.Decimal `json:"equity"`
	HighWaterMark  decimal.Decimal `json:"high_water_mark"`
	Drawdown       decimal.Decimal `json:"drawdown"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	LastPrice      decimal.Decimal `json:"last_price"`

	Streak       int `json:"streak"`
	BestStreak   int `json:"best_streak"`
	WorstStreak  int `json:"worst_streak"`
	Wins         int `json:"wins"`
	Losses       int `json:"losses"`
	ClosedTrades int `json:"closed_trades"`
	Iterations   int `json:"iterations"`

	Lots []Lot `json:"-"`
}

func NewState(initialCapital decimal.Decimal) *State {
	return &State{
		InitialCapital: initialCapital,
		Capital:        initialCapital,
		Equity:         initialCapital,
		HighWaterMark:  initialCapital,
	}
}

func (s *State) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalSnapshot(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *State) Position() Position {
	if len(s.Lots) == 0 {
		return Position{Quantity: decimal.Zero, AvgEntry: decimal.Zero}
	}
	qty := decimal.Zero
	cost := decimal.Zero
	for _, l := range s.Lots {
		qty = qty.Add(l.Quantity)
		cost = cost.Add(l.Notional())
	}
	avg := decimal.Zero
	if qty.IsPositive() {
		avg = cost.Div(qty)
	}
	lots := make([]Lot, len(s.Lots))
	copy(lots, s.Lots)
	return Position{Side: s.Lots[0].Side, Quantity: qty, AvgEntry: avg, Lots: lots}
}

// WinRate is the percentage of closed trades with positive realized P&L.
func (s *State) WinRate() decimal.Decimal {
	if s.ClosedTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).
		Div(decimal.NewFromInt(int64(s.ClosedTrades))).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

// Clone copies the state so a failed cycle can be rolled back.
func (s *State) Clone() *State {
	out := *s
	out.Lots = append([]Lot(nil), s.Lots...)
	return &out
}
