package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aitrader/internal/manager"
	"aitrader/internal/notify"
	"aitrader/internal/repository"
	"aitrader/internal/simulation"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "created", Data: data})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps a domain error to its HTTP status. Unclassified errors are
// logged and answered with a generic message.
func Fail(c *gin.Context, logger *zap.Logger, err error) {
	var verr *simulation.ValidationError
	switch {
	case errors.As(err, &verr):
		Error(c, http.StatusBadRequest, verr.Error(), map[string]any{"problems": verr.Problems})
	case errors.Is(err, simulation.ErrValidation):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, repository.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, simulation.ErrInvalidTransition),
		errors.Is(err, simulation.ErrActive),
		errors.Is(err, manager.ErrCapacityExceeded),
		errors.Is(err, manager.ErrWorkerBound),
		errors.Is(err, notify.ErrNotRetryable),
		errors.Is(err, notify.ErrRetryLimit):
		Error(c, http.StatusConflict, err.Error(), nil)
	default:
		if logger != nil {
			logger.Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
		}
		Error(c, http.StatusInternalServerError, "internal error", nil)
	}
}
