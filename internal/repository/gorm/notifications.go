package gormrepository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"aitrader/internal/models"
	"aitrader/internal/repository"
)

func (s *Store) InsertNotification(ctx context.Context, item *models.Notification) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if item == nil {
		return nil
	}
	if strings.TrimSpace(item.DeliveryStatus) == "" {
		item.DeliveryStatus = models.DeliveryPending
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateNotificationDelivery(ctx context.Context, id uint64, update repository.DeliveryUpdate) (*models.Notification, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var out models.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := map[string]any{
			"delivery_status": update.Status,
			"error_message":   update.ErrorMessage,
		}
		if update.Channel != nil {
			values["channel"] = *update.Channel
		}
		if update.ExternalMessageID != nil {
			values["external_message_id"] = *update.ExternalMessageID
		}
		if update.SentAt != nil {
			values["sent_at"] = update.SentAt.UTC()
		}
		if update.IncrementRetry {
			values["retry_count"] = gorm.Expr("retry_count + 1")
		}
		res := tx.Model(&models.Notification{}).Where("id = ?", id).Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("notification %d: %w", id, repository.ErrNotFound)
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetNotification(ctx context.Context, id uint64) (*models.Notification, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var item models.Notification
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, notFound(err, "notification", strconv.FormatUint(id, 10))
	}
	return &item, nil
}

func (s *Store) ListNotifications(ctx context.Context, params repository.ListNotificationsParams) ([]models.Notification, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	query := filterNotifications(s.db.WithContext(ctx).Model(&models.Notification{}), params)
	query = applyOrder(query, "", params.Asc, "created_at")
	var items []models.Notification
	err := query.
		Order("id desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountNotifications(ctx context.Context, params repository.ListNotificationsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	var total int64
	err := filterNotifications(s.db.WithContext(ctx).Model(&models.Notification{}), params).Count(&total).Error
	return total, err
}

func filterNotifications(query *gorm.DB, params repository.ListNotificationsParams) *gorm.DB {
	if params.SimulationID != nil && strings.TrimSpace(*params.SimulationID) != "" {
		query = query.Where("simulation_id = ?", strings.TrimSpace(*params.SimulationID))
	}
	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		query = query.Where("type = ?", strings.TrimSpace(*params.Type))
	}
	if params.DeliveryStatus != nil && strings.TrimSpace(*params.DeliveryStatus) != "" {
		query = query.Where("delivery_status = ?", strings.TrimSpace(*params.DeliveryStatus))
	}
	if params.MaxRetries != nil {
		query = query.Where("retry_count < ?", *params.MaxRetries)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", params.Since.UTC())
	}
	return query
}

type groupCount struct {
	Bucket string
	Total  int64
}

// NotificationStats aggregates notifications created since the given time.
func (s *Store) NotificationStats(ctx context.Context, since time.Time) (*repository.NotificationStats, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	now := nowUTC()
	if since.IsZero() {
		since = now.Add(-24 * time.Hour)
	}
	out := &repository.NotificationStats{
		Since:    since.UTC(),
		ByStatus: map[string]int64{},
		ByType:   map[string]int64{},
	}
	db := s.db.WithContext(ctx)

	var byStatus []groupCount
	if err := db.Model(&models.Notification{}).
		Select("delivery_status AS bucket, COUNT(*) AS total").
		Where("created_at >= ?", out.Since).
		Group("delivery_status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		out.ByStatus[row.Bucket] = row.Total
		out.Total += row.Total
	}

	var byType []groupCount
	if err := db.Model(&models.Notification{}).
		Select("type AS bucket, COUNT(*) AS total").
		Where("created_at >= ?", out.Since).
		Group("type").
		Scan(&byType).Error; err != nil {
		return nil, err
	}
	for _, row := range byType {
		out.ByType[row.Bucket] = row.Total
	}

	if err := db.Model(&models.Notification{}).
		Where("delivery_status = ? AND created_at >= ?", models.DeliveryFailed, now.Add(-24*time.Hour)).
		Count(&out.RecentFailures24h).Error; err != nil {
		return nil, err
	}
	return out, nil
}
