package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aitrader/internal/models"
	"aitrader/internal/notify"
	"aitrader/internal/repository"
)

// Notifier is the delivery side the API drives.
type Notifier interface {
	Retry(ctx context.Context, id uint64) (*models.Notification, error)
	SendTest(ctx context.Context, text string) (*models.Notification, error)
}

type NotificationHandler struct {
	Repo    repository.NotificationRepository
	Service Notifier
	Logger  *zap.Logger
}

func (h *NotificationHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/notifications")
	group.GET("", h.list)
	group.GET("/types", h.types)
	group.GET("/stats", h.stats)
	group.POST("/test", h.test)
	group.GET("/:id", h.get)
	group.POST("/:id/retry", h.retry)
}

type testNotificationRequest struct {
	Message string `json:"message"`
}

var deliveryStatuses = map[string]bool{
	models.DeliveryPending: true,
	models.DeliverySent:    true,
	models.DeliveryFailed:  true,
	models.DeliverySkipped: true,
}

// @Summary List notifications
// @Tags notifications
// @Param simulation_id query string false "simulation id"
// @Param type query string false "notification type"
// @Param status query string false "pending|sent|failed|skipped"
// @Param since query string false "look-back window, e.g. 24h"
// @Param asc query bool false "oldest first"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/notifications [get]
func (h *NotificationHandler) list(c *gin.Context) {
	limit, offset := pagination(c)
	params := repository.ListNotificationsParams{
		Limit:          limit,
		Offset:         offset,
		SimulationID:   strQueryPtr(c, "simulation_id"),
		Type:           strQueryPtr(c, "type"),
		DeliveryStatus: strQueryPtr(c, "status"),
		Asc:            boolQueryPtr(c, "asc"),
	}
	if params.DeliveryStatus != nil && !deliveryStatuses[*params.DeliveryStatus] {
		Error(c, http.StatusBadRequest, "unknown delivery status "+*params.DeliveryStatus, nil)
		return
	}
	if window := durationQuery(c, "since", 0); window > 0 {
		since := time.Now().UTC().Add(-window)
		params.Since = &since
	}
	items, err := h.Repo.ListNotifications(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	total, err := h.Repo.CountNotifications(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Notification types
// @Tags notifications
// @Success 200 {object} apiResponse
// @Router /api/v1/notifications/types [get]
func (h *NotificationHandler) types(c *gin.Context) {
	Ok(c, notify.Types(), nil)
}

// @Summary Delivery statistics
// @Tags notifications
// @Param since query string false "look-back window, default 24h"
// @Success 200 {object} apiResponse
// @Router /api/v1/notifications/stats [get]
func (h *NotificationHandler) stats(c *gin.Context) {
	window := durationQuery(c, "since", 24*time.Hour)
	stats, err := h.Repo.NotificationStats(c.Request.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, stats, nil)
}

// @Summary Notification detail
// @Tags notifications
// @Param id path int true "notification id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/notifications/{id} [get]
func (h *NotificationHandler) get(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	item, err := h.Repo.GetNotification(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Retry a failed notification
// @Tags notifications
// @Param id path int true "notification id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/notifications/{id}/retry [post]
func (h *NotificationHandler) retry(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	item, err := h.Service.Retry(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Send a test notification
// @Tags notifications
// @Accept json
// @Param body body testNotificationRequest false "message"
// @Success 200 {object} apiResponse
// @Router /api/v1/notifications/test [post]
func (h *NotificationHandler) test(c *gin.Context) {
	var req testNotificationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid json body", nil)
			return
		}
	}
	item, err := h.Service.SendTest(c.Request.Context(), req.Message)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, item, nil)
}

func notificationID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid notification id", nil)
		return 0, false
	}
	return id, true
}
