package gormrepository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"aitrader/internal/models"
	"aitrader/internal/repository"
	"aitrader/internal/simulation"
)

func (s *Store) CreateSimulation(ctx context.Context, item *models.Simulation) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if item == nil || strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("create simulation: missing id: %w", simulation.ErrValidation)
	}
	item.Status = string(simulation.StatusCreated)
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetSimulation(ctx context.Context, id string) (*models.Simulation, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	return getSimulation(s.db.WithContext(ctx), id)
}

func getSimulation(db *gorm.DB, id string) (*models.Simulation, error) {
	var item models.Simulation
	if err := db.Where("id = ?", strings.TrimSpace(id)).First(&item).Error; err != nil {
		return nil, notFound(err, "simulation", id)
	}
	return &item, nil
}

func (s *Store) ListSimulations(ctx context.Context, params repository.ListSimulationsParams) ([]models.Simulation, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	query := filterSimulations(s.db.WithContext(ctx).Model(&models.Simulation{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Simulation
	err := query.
		Order("id desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSimulations(ctx context.Context, params repository.ListSimulationsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	var total int64
	err := filterSimulations(s.db.WithContext(ctx).Model(&models.Simulation{}), params).Count(&total).Error
	return total, err
}

func filterSimulations(query *gorm.DB, params repository.ListSimulationsParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	return query
}

// UpdateStatus applies a transition as a compare-and-set on the persisted
// status, so two writers racing on the same row cannot both succeed.
func (s *Store) UpdateStatus(ctx context.Context, id string, update repository.StatusUpdate) (*models.Simulation, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var out *models.Simulation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := updateStatusTx(tx, id, update)
		out = item
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func updateStatusTx(tx *gorm.DB, id string, update repository.StatusUpdate) (*models.Simulation, error) {
	current, err := getSimulation(tx, id)
	if err != nil {
		return nil, err
	}
	from := simulation.Status(current.Status)
	if len(update.From) > 0 && !containsStatus(update.From, from) {
		return nil, &simulation.TransitionError{From: from, To: update.To}
	}
	if err := simulation.CheckTransition(from, update.To); err != nil {
		return nil, err
	}

	now := nowUTC()
	values := map[string]any{
		"status":     string(update.To),
		"updated_at": now,
	}
	if reason := strings.TrimSpace(update.Reason); reason != "" {
		values["status_reason"] = reason
	} else {
		values["status_reason"] = nil
	}
	values["error_message"] = nil
	switch update.To {
	case simulation.StatusRunning:
		if current.StartedAt == nil {
			values["started_at"] = now
		}
		values["paused_at"] = nil
	case simulation.StatusPaused:
		values["paused_at"] = now
	case simulation.StatusStopped:
		values["stopped_at"] = now
		values["pid"] = nil
	case simulation.StatusError:
		msg := strings.TrimSpace(update.ErrorMessage)
		if msg == "" {
			msg = "unknown error"
		}
		values["error_message"] = msg
		values["stopped_at"] = now
		values["pid"] = nil
	}

	res := tx.Model(&models.Simulation{}).
		Where("id = ? AND status = ?", current.ID, current.Status).
		Updates(values)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, &simulation.TransitionError{From: from, To: update.To}
	}
	return getSimulation(tx, current.ID)
}

func containsStatus(items []simulation.Status, v simulation.Status) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

func (s *Store) SetWorkerPID(ctx context.Context, id string, pid *int) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	res := s.db.WithContext(ctx).Model(&models.Simulation{}).
		Where("id = ?", id).
		Updates(map[string]any{"pid": pid, "updated_at": nowUTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("simulation %s: %w", id, repository.ErrNotFound)
	}
	return nil
}

// DeleteSimulation removes the simulation with its trades and snapshot and
// detaches its notifications. Foreign keys do the same; the explicit deletes
// keep stores without enforced constraints consistent.
func (s *Store) DeleteSimulation(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sim, err := getSimulation(tx, id)
		if err != nil {
			return err
		}
		if simulation.Status(sim.Status).Active() {
			return fmt.Errorf("delete simulation %s (%s): %w", id, sim.Status, simulation.ErrActive)
		}
		if err := tx.Where("simulation_id = ?", id).Delete(&models.SimulationTrade{}).Error; err != nil {
			return err
		}
		if err := tx.Where("simulation_id = ?", id).Delete(&models.SimulationAccount{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Notification{}).
			Where("simulation_id = ?", id).
			Update("simulation_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Simulation{}).Error
	})
}
