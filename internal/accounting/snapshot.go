package accounting

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"aitrader/internal/models"
)

// Snapshot renders the state as the persisted accounting row.
func (e *Engine) Snapshot(simulationID string) (*models.SimulationAccount, error) {
	raw, err := e.State.MarshalSnapshot()
	if err != nil {
		return nil, err
	}
	s := e.State
	pos := s.Position()
	return &models.SimulationAccount{
		SimulationID:     simulationID,
		Capital:          s.Capital,
		Equity:           s.Equity,
		HighWaterMark:    s.HighWaterMark,
		Drawdown:         s.Drawdown,
		MaxDrawdown:      s.MaxDrawdown,
		RealizedPnL:      s.RealizedPnL,
		TotalFees:        s.TotalFees,
		LastPrice:        s.LastPrice,
		PositionSide:     string(pos.Side),
		PositionQuantity: pos.Quantity,
		PositionEntry:    pos.AvgEntry,
		Streak:           s.Streak,
		BestStreak:       s.BestStreak,
		WorstStreak:      s.WorstStreak,
		Iterations:       s.Iterations,
		State:            datatypes.JSON(raw),
	}, nil
}

// Restore rebuilds the state of a simulation that ran before. The snapshot
// supplies the scalar figures and the open trade rows are the lots. A missing
// snapshot starts from the initial capital.
func Restore(initialCapital decimal.Decimal, account *models.SimulationAccount, open []models.SimulationTrade) (*State, error) {
	st := NewState(initialCapital)
	if account != nil && len(account.State) > 0 {
		restored, err := UnmarshalSnapshot(account.State)
		if err != nil {
			return nil, err
		}
		st = restored
		if st.InitialCapital.IsZero() {
			st.InitialCapital = initialCapital
		}
	}
	st.Lots = st.Lots[:0]
	for _, t := range open {
		if t.Closed() {
			continue
		}
		st.Lots = append(st.Lots, Lot{
			ID:         t.ID,
			Side:       Side(t.Side),
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			EntryFee:   t.EntryFee,
			OpenedAt:   t.CreatedAt,
		})
	}
	return st, nil
}
