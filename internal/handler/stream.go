package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"aitrader/internal/ipc"
	"aitrader/internal/metrics"
)

// Subscriber is the event fanout the stream reads from.
type Subscriber interface {
	Subscribe(buf int) (<-chan ipc.Event, func())
}

type StreamHandler struct {
	Hub    Subscriber
	Logger *zap.Logger
	// OriginPatterns are the cross-origin hosts allowed to connect.
	OriginPatterns []string
	PingInterval   time.Duration
}

func (h *StreamHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/simulations/stream", h.stream)
}

// @Summary Live simulation events over websocket
// @Tags simulations
// @Param simulation_id query string false "only events of this simulation"
// @Param types query string false "comma separated event types"
// @Success 101 {string} string "switching protocols"
// @Router /api/v1/simulations/stream [get]
func (h *StreamHandler) stream(c *gin.Context) {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}
	filterID := strings.TrimSpace(c.Query("simulation_id"))
	types := map[string]struct{}{}
	for _, t := range cleanStrings(c.QueryArray("types")) {
		types[t] = struct{}{}
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, cancel := h.Hub.Subscribe(128)
	defer cancel()
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(c.Request.Context())
	interval := h.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if filterID != "" && ev.SimulationID != filterID {
				continue
			}
			if len(types) > 0 {
				if _, ok := types[string(ev.Type)]; !ok {
					continue
				}
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Warn("encode stream event failed", zap.Error(err))
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				log.Debug("stream client gone", zap.Error(err))
				return
			}
		}
	}
}
