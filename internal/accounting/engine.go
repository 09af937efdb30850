package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aitrader/internal/simulation"
)

var (
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrQuantityTooSmall    = errors.New("quantity below instrument step")
	ErrNoPosition          = errors.New("no open position")
	ErrSideConflict        = errors.New("position is open on the other side")
	ErrInvalidPrice        = errors.New("price must be positive")
)

type Params struct {
	Venue        simulation.Venue
	FeeRate      decimal.Decimal
	QuantityStep decimal.Decimal
}

func ParamsFromConfig(cfg simulation.Config) Params {
	return Params{Venue: cfg.Venue, FeeRate: cfg.FeeRate, QuantityStep: cfg.QuantityStep}
}

// ClosedLot is the exit of one lot. RealizedPnL is net of entry and exit fees,
// so the sum over closed lots equals the capital change since their opens.
type ClosedLot struct {
	Lot
	ExitPrice   decimal.Decimal
	ExitFee     decimal.Decimal
	Gross       decimal.Decimal
	RealizedPnL decimal.Decimal
	Reason      string
	ClosedAt    time.Time
}

// Engine is the paper-trading forward tester of one simulation. It is not
// safe for concurrent use; the owning worker serializes every call.
type Engine struct {
	Params Params
	State  *State

	now   func() time.Time
	newID func() string
}

func NewEngine(params Params, state *State) *Engine {
	return &Engine{
		Params: params,
		State:  state,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Truncate rounds a quantity down to the instrument step.
func (e *Engine) Truncate(qty decimal.Decimal) decimal.Decimal {
	step := e.Params.QuantityStep
	if !step.IsPositive() || !qty.IsPositive() {
		if qty.IsNegative() {
			return decimal.Zero
		}
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func (e *Engine) Fee(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Mul(e.Params.FeeRate)
}

// FreeCapital is capital not committed to open lots at cost.
func (e *Engine) FreeCapital() decimal.Decimal {
	free := e.State.Capital
	for _, l := range e.State.Lots {
		free = free.Sub(l.Notional())
	}
	return free
}

// Open adds a lot. The fee is deducted from capital; the notional stays
// committed until close.
func (e *Engine) Open(side Side, price, qty decimal.Decimal) (Lot, error) {
	if !price.IsPositive() {
		return Lot{}, ErrInvalidPrice
	}
	qty = e.Truncate(qty)
	if !qty.IsPositive() {
		return Lot{}, ErrQuantityTooSmall
	}
	if pos := e.State.Position(); pos.Open() && pos.Side != side {
		return Lot{}, fmt.Errorf("open %s while %s: %w", side, pos.Side, ErrSideConflict)
	}
	notional := price.Mul(qty)
	fee := e.Fee(price, qty)
	if e.State.Capital.Sub(fee).IsNegative() {
		return Lot{}, fmt.Errorf("fee %s exceeds capital %s: %w", fee.StringFixed(8), e.State.Capital.StringFixed(8), ErrInsufficientCapital)
	}
	if e.Params.Venue != simulation.VenueFutures {
		if free := e.FreeCapital(); notional.Add(fee).GreaterThan(free) {
			return Lot{}, fmt.Errorf("notional %s plus fee exceeds free capital %s: %w", notional.StringFixed(8), free.StringFixed(8), ErrInsufficientCapital)
		}
	}

	lot := Lot{
		ID:         e.newID(),
		Side:       side,
		Quantity:   qty,
		EntryPrice: price,
		EntryFee:   fee,
		OpenedAt:   e.now(),
	}
	e.State.Capital = e.State.Capital.Sub(fee)
	e.State.TotalFees = e.State.TotalFees.Add(fee)
	e.State.Lots = append(e.State.Lots, lot)
	e.Mark(price)
	return lot, nil
}

// Close exits every open lot at price.
func (e *Engine) Close(price decimal.Decimal, reason string) ([]ClosedLot, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if len(e.State.Lots) == 0 {
		return nil, ErrNoPosition
	}
	now := e.now()
	out := make([]ClosedLot, 0, len(e.State.Lots))
	for _, l := range e.State.Lots {
		gross := price.Sub(l.EntryPrice).Mul(l.Quantity).Mul(decimal.NewFromInt(l.Side.sign()))
		exitFee := e.Fee(price, l.Quantity)
		realized := gross.Sub(l.EntryFee).Sub(exitFee)

		e.State.Capital = e.State.Capital.Add(gross).Sub(exitFee)
		e.State.TotalFees = e.State.TotalFees.Add(exitFee)
		e.State.RealizedPnL = e.State.RealizedPnL.Add(realized)
		e.recordResult(realized)

		out = append(out, ClosedLot{
			Lot:         l,
			ExitPrice:   price,
			ExitFee:     exitFee,
			Gross:       gross,
			RealizedPnL: realized,
			Reason:      reason,
			ClosedAt:    now,
		})
	}
	e.State.Lots = nil
	e.Mark(price)
	return out, nil
}

// recordResult advances the streak counters. Break-even trades leave the
// streak unchanged.
func (e *Engine) recordResult(pnl decimal.Decimal) {
	s := e.State
	s.ClosedTrades++
	switch {
	case pnl.IsPositive():
		s.Wins++
		if s.Streak > 0 {
			s.Streak++
		} else {
			s.Streak = 1
		}
		if s.Streak > s.BestStreak {
			s.BestStreak = s.Streak
		}
	case pnl.IsNegative():
		s.Losses++
		if s.Streak < 0 {
			s.Streak--
		} else {
			s.Streak = -1
		}
		if s.Streak < s.WorstStreak {
			s.WorstStreak = s.Streak
		}
	default:
		s.Losses++
	}
}

// Unrealized is the mark-to-market P&L of open lots before exit fees.
func (e *Engine) Unrealized(price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.State.Lots {
		total = total.Add(price.Sub(l.EntryPrice).Mul(l.Quantity).Mul(decimal.NewFromInt(l.Side.sign())))
	}
	return total
}

// Mark recomputes equity, the high-water mark and drawdown at price.
func (e *Engine) Mark(price decimal.Decimal) {
	s := e.State
	if price.IsPositive() {
		s.LastPrice = price
	}
	s.Equity = s.Capital.Add(e.Unrealized(s.LastPrice))
	if s.Equity.GreaterThan(s.HighWaterMark) {
		s.HighWaterMark = s.Equity
	}
	if s.HighWaterMark.IsPositive() {
		s.Drawdown = s.HighWaterMark.Sub(s.Equity).Div(s.HighWaterMark)
		if s.Drawdown.IsNegative() {
			s.Drawdown = decimal.Zero
		}
	} else {
		s.Drawdown = decimal.Zero
	}
	if s.Drawdown.GreaterThan(s.MaxDrawdown) {
		s.MaxDrawdown = s.Drawdown
	}
}

// DrawdownPercent is the current drawdown scaled to percent.
func (e *Engine) DrawdownPercent() decimal.Decimal {
	return e.State.Drawdown.Mul(decimal.NewFromInt(100))
}
