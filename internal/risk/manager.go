package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aitrader/internal/accounting"
	"aitrader/internal/simulation"
)

const (
	ReasonStopLoss    = "stop_loss"
	ReasonMaxDrawdown = "max drawdown exceeded"
	ReasonDailyLimit  = "max daily trades reached"
)

// OpenCounter is the ledger query behind the daily open limit.
type OpenCounter interface {
	CountOpensSince(ctx context.Context, simulationID string, since time.Time) (int64, error)
}

// Manager holds the per-simulation guards a worker consults every cycle:
// stop-loss, the daily open limit, the drawdown guard and order sizing.
type Manager struct {
	Config       simulation.Config
	SimulationID string
	Opens        OpenCounter
	Logger       *zap.Logger

	mu         sync.Mutex
	dailyDay   time.Time
	dailyOpens int64
	dailyKnown bool
}

func dayStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// dailyCount loads today's opens once per UTC day and then tracks NoteOpen.
func (m *Manager) dailyCount(ctx context.Context, now time.Time) (int64, error) {
	day := dayStart(now)
	m.mu.Lock()
	if m.dailyKnown && m.dailyDay.Equal(day) {
		v := m.dailyOpens
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	var count int64
	if m.Opens != nil {
		n, err := m.Opens.CountOpensSince(ctx, m.SimulationID, day)
		if err != nil {
			return 0, err
		}
		count = n
	}
	m.mu.Lock()
	m.dailyDay = day
	m.dailyOpens = count
	m.dailyKnown = true
	m.mu.Unlock()
	return count, nil
}

// AllowOpen reports whether another open fits under max_daily_trades.
func (m *Manager) AllowOpen(ctx context.Context, now time.Time) (bool, error) {
	if m == nil || m.Config.MaxDailyTrades <= 0 {
		return true, nil
	}
	count, err := m.dailyCount(ctx, now)
	if err != nil {
		return false, err
	}
	if count >= int64(m.Config.MaxDailyTrades) {
		if m.Logger != nil {
			m.Logger.Info("risk: daily open limit reached",
				zap.Int64("opens_today", count),
				zap.Int("limit", m.Config.MaxDailyTrades),
			)
		}
		return false, nil
	}
	return true, nil
}

// NoteOpen counts an open committed after the last AllowOpen.
func (m *Manager) NoteOpen(now time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dailyKnown && m.dailyDay.Equal(dayStart(now)) {
		m.dailyOpens++
	}
}

// StopLossHit reports whether price has moved against the position by at
// least stop_loss_percent of its average entry.
func (m *Manager) StopLossHit(pos accounting.Position, price decimal.Decimal) bool {
	if m == nil || !pos.Open() || !m.Config.StopLossPercent.IsPositive() || !pos.AvgEntry.IsPositive() {
		return false
	}
	frac := m.Config.StopLossPercent.Div(decimal.NewFromInt(100))
	switch pos.Side {
	case accounting.SideShort:
		return price.GreaterThanOrEqual(pos.AvgEntry.Mul(decimal.NewFromInt(1).Add(frac)))
	default:
		return price.LessThanOrEqual(pos.AvgEntry.Mul(decimal.NewFromInt(1).Sub(frac)))
	}
}

// DrawdownBreached compares a drawdown percentage with max_drawdown_percent.
func (m *Manager) DrawdownBreached(drawdownPercent decimal.Decimal) bool {
	if m == nil || !m.Config.MaxDrawdownPercent.IsPositive() {
		return false
	}
	return drawdownPercent.GreaterThanOrEqual(m.Config.MaxDrawdownPercent)
}

// SizeOrder turns the configured position size into a quantity at price,
// capped by what the account can pay for. Warnings name every cap applied.
func (m *Manager) SizeOrder(engine *accounting.Engine, price decimal.Decimal) (decimal.Decimal, []string) {
	if m == nil || engine == nil || !price.IsPositive() {
		return decimal.Zero, nil
	}
	requested := m.Config.PositionSize.Notional(engine.State.Capital)
	planned, warnings := limitPlannedSize(m.Config.Venue, engine.Params.FeeRate, engine.State.Capital, engine.FreeCapital(), requested)
	if planned.IsZero() {
		return decimal.Zero, warnings
	}
	qty := engine.Truncate(planned.Div(price))
	if m.Logger != nil && len(warnings) > 0 {
		m.Logger.Debug("risk: order size capped",
			zap.String("requested", requested.StringFixed(2)),
			zap.String("planned", planned.StringFixed(2)),
			zap.Strings("warnings", warnings),
		)
	}
	return qty, warnings
}

// limitPlannedSize is a pure helper for sizing caps (testable without an engine).
func limitPlannedSize(venue simulation.Venue, feeRate, capital, free, requested decimal.Decimal) (decimal.Decimal, []string) {
	warnings := []string{}
	planned := requested
	if planned.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, warnings
	}
	onePlusFee := decimal.NewFromInt(1).Add(feeRate)

	// Spot pays the notional in full from free capital.
	if venue != simulation.VenueFutures {
		remaining := free
		if remaining.LessThan(decimal.Zero) {
			remaining = decimal.Zero
		}
		maxNotional := remaining.Div(onePlusFee)
		if planned.GreaterThan(maxNotional) {
			planned = maxNotional
			warnings = append(warnings, "free_capital_cap")
		}
	}

	// The fee alone must never exceed capital.
	if feeRate.IsPositive() {
		maxByFee := capital.Div(feeRate)
		if planned.GreaterThan(maxByFee) {
			planned = maxByFee
			warnings = append(warnings, "fee_capital_cap")
		}
	}

	if planned.LessThan(decimal.Zero) {
		planned = decimal.Zero
	}
	return planned, warnings
}
