package gormrepository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aitrader/internal/models"
	"aitrader/internal/repository"
	"aitrader/internal/simulation"
)

func (s *Store) RecordTrade(ctx context.Context, simulationID string, trade *models.SimulationTrade) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if trade == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getSimulation(tx, simulationID); err != nil {
			return err
		}
		trade.SimulationID = simulationID
		return insertTradeTx(tx, trade)
	})
}

func insertTradeTx(tx *gorm.DB, trade *models.SimulationTrade) error {
	if strings.TrimSpace(trade.ID) == "" {
		trade.ID = uuid.NewString()
	}
	return tx.Create(trade).Error
}

// RecordExecution writes new lots, closed-lot exit fields, the accounting
// snapshot and an optional status transition in one transaction.
func (s *Store) RecordExecution(ctx context.Context, exec repository.Execution) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sim, err := getSimulation(tx, exec.SimulationID)
		if err != nil {
			return err
		}
		// A stop or error committed by another writer wins over late cycle output.
		if exec.Status == nil && len(exec.Opened) > 0 && simulation.Status(sim.Status).Terminal() {
			return fmt.Errorf("simulation %s is %s: %w", sim.ID, sim.Status, simulation.ErrInvalidTransition)
		}
		for i := range exec.Opened {
			exec.Opened[i].SimulationID = exec.SimulationID
			if err := insertTradeTx(tx, &exec.Opened[i]); err != nil {
				return err
			}
		}
		for _, c := range exec.Closed {
			if err := closeTradeTx(tx, exec.SimulationID, c); err != nil {
				return err
			}
		}
		if exec.Account != nil {
			exec.Account.SimulationID = exec.SimulationID
			if err := saveAccountTx(tx, exec.Account); err != nil {
				return err
			}
		}
		if exec.Status != nil {
			if _, err := updateStatusTx(tx, exec.SimulationID, *exec.Status); err != nil {
				return err
			}
		}
		return nil
	})
}

func closeTradeTx(tx *gorm.DB, simulationID string, c repository.TradeClose) error {
	closedAt := c.ClosedAt
	if closedAt.IsZero() {
		closedAt = nowUTC()
	}
	values := map[string]any{
		"exit_price":   c.ExitPrice,
		"exit_fee":     c.ExitFee,
		"realized_pnl": c.RealizedPnL,
		"closed_at":    closedAt,
	}
	if reason := strings.TrimSpace(c.Reason); reason != "" {
		values["close_reason"] = reason
	}
	res := tx.Model(&models.SimulationTrade{}).
		Where("id = ? AND simulation_id = ? AND closed_at IS NULL", c.TradeID, simulationID).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("open trade %s: %w", c.TradeID, repository.ErrNotFound)
	}
	return nil
}

func saveAccountTx(tx *gorm.DB, item *models.SimulationAccount) error {
	item.UpdatedAt = nowUTC()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "simulation_id"}},
		UpdateAll: true,
	}).Create(item).Error
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.SimulationTrade, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	query := filterTrades(s.db.WithContext(ctx).Model(&models.SimulationTrade{}), params)
	query = applyOrder(query, "", params.Asc, "created_at")
	var items []models.SimulationTrade
	err := query.
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	var total int64
	err := filterTrades(s.db.WithContext(ctx).Model(&models.SimulationTrade{}), params).Count(&total).Error
	return total, err
}

func filterTrades(query *gorm.DB, params repository.ListTradesParams) *gorm.DB {
	query = query.Where("simulation_id = ?", params.SimulationID)
	if params.Open != nil {
		if *params.Open {
			query = query.Where("closed_at IS NULL")
		} else {
			query = query.Where("closed_at IS NOT NULL")
		}
	}
	return query
}

func (s *Store) ListOpenTrades(ctx context.Context, simulationID string) ([]models.SimulationTrade, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var items []models.SimulationTrade
	err := s.db.WithContext(ctx).
		Where("simulation_id = ? AND closed_at IS NULL", simulationID).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOpensSince(ctx context.Context, simulationID string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	var total int64
	err := s.db.WithContext(ctx).Model(&models.SimulationTrade{}).
		Where("simulation_id = ? AND created_at >= ?", simulationID, since.UTC()).
		Count(&total).Error
	return total, err
}

func (s *Store) GetAccount(ctx context.Context, simulationID string) (*models.SimulationAccount, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var item models.SimulationAccount
	if err := s.db.WithContext(ctx).Where("simulation_id = ?", simulationID).First(&item).Error; err != nil {
		return nil, notFound(err, "account", simulationID)
	}
	return &item, nil
}

func (s *Store) SimulationStats(ctx context.Context, simulationID string) (*repository.SimulationStats, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	if _, err := s.GetSimulation(ctx, simulationID); err != nil {
		return nil, err
	}
	var trades []models.SimulationTrade
	if err := s.db.WithContext(ctx).
		Where("simulation_id = ?", simulationID).
		Find(&trades).Error; err != nil {
		return nil, err
	}

	out := &repository.SimulationStats{SimulationID: simulationID}
	sumWin, sumLoss := decimal.Zero, decimal.Zero
	for _, t := range trades {
		out.TotalFees = out.TotalFees.Add(t.EntryFee)
		if t.ExitFee != nil {
			out.TotalFees = out.TotalFees.Add(*t.ExitFee)
		}
		if !t.Closed() || t.RealizedPnL == nil {
			out.OpenTrades++
			continue
		}
		out.TotalTrades++
		pnl := *t.RealizedPnL
		out.TotalPnL = out.TotalPnL.Add(pnl)
		if pnl.IsPositive() {
			out.WinningTrades++
			sumWin = sumWin.Add(pnl)
		} else {
			out.LosingTrades++
			sumLoss = sumLoss.Add(pnl)
		}
	}
	if out.TotalTrades > 0 {
		out.WinRate = decimal.NewFromInt(out.WinningTrades).
			Div(decimal.NewFromInt(out.TotalTrades)).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	if out.WinningTrades > 0 {
		out.AvgWin = sumWin.Div(decimal.NewFromInt(out.WinningTrades)).Round(8)
	}
	if out.LosingTrades > 0 {
		out.AvgLoss = sumLoss.Div(decimal.NewFromInt(out.LosingTrades)).Round(8)
	}

	account, err := s.GetAccount(ctx, simulationID)
	if err == nil {
		out.Account = account
	}
	return out, nil
}
