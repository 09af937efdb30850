package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"aitrader/internal/config"
	"aitrader/internal/ipc"
	"aitrader/internal/manager"
	"aitrader/internal/models"
	"aitrader/internal/notify"
	gormrepository "aitrader/internal/repository/gorm"
	"aitrader/internal/repository/repotest"
	"aitrader/internal/simulation"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

// lifecycle lets a test override Start while keeping the real manager.
type lifecycle struct {
	*manager.Manager
	startErr error
}

func (l *lifecycle) Start(ctx context.Context, id string) (*models.Simulation, error) {
	if l.startErr != nil {
		return nil, l.startErr
	}
	return l.Manager.Start(ctx, id)
}

type fixture struct {
	router *gin.Engine
	store  *gormrepository.Store
	life   *lifecycle
	hub    *manager.Hub
}

// idleWorker drains commands and ignores them until killed.
func idleWorker(ctx context.Context, id string, in io.Reader, out io.Writer) error {
	go func() { _, _ = io.Copy(io.Discard, in) }()
	<-ctx.Done()
	return ctx.Err()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := repotest.New(t)
	mgr := manager.New(store, manager.PipeSpawner{Run: idleWorker}, config.ManagerConfig{StopGrace: 50 * time.Millisecond}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	f := &fixture{store: store, life: &lifecycle{Manager: mgr}, hub: mgr.Hub}

	r := gin.New()
	(&SimulationHandler{Repo: store, Manager: f.life, Logger: zap.NewNop()}).Register(r)
	(&StreamHandler{Hub: mgr.Hub, Logger: zap.NewNop(), OriginPatterns: []string{"*"}}).Register(r)
	(&NotificationHandler{
		Repo:    store,
		Service: &notify.Service{Repo: store, MaxRetries: 3, Logger: zap.NewNop()},
		Logger:  zap.NewNop(),
	}).Register(r)
	(&HealthHandler{Active: mgr.Active}).Register(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (f *fixture) create(t *testing.T, body any) map[string]any {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/api/v1/simulations", body)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var out map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestCreateSimulation_PresetWithOverrides(t *testing.T) {
	f := newFixture(t)
	out := f.create(t, map[string]any{
		"preset": "btc_conservative",
		"config": map[string]any{"initial_capital": "5000"},
	})
	assert.Equal(t, "BTC Conservative", out["name"])
	assert.Equal(t, "created", out["status"])
	cfg := out["config"].(map[string]any)
	assert.Equal(t, "BTCUSDT", cfg["symbol"])
	assert.Equal(t, "5000", cfg["initial_capital"])

	code, env := f.do(t, http.MethodGet, "/api/v1/simulations/"+out["id"].(string), nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), out["id"].(string))
}

func TestCreateSimulation_Rejects(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		body any
	}{
		{"missing name", map[string]any{"config": map[string]any{"symbol": "BTCUSDT"}}},
		{"small capital", map[string]any{"name": "x", "config": map[string]any{"symbol": "BTCUSDT", "initial_capital": "1"}}},
		{"unknown preset", map[string]any{"name": "x", "preset": "doge_yolo"}},
		{"bad position size", map[string]any{"name": "x", "config": map[string]any{"symbol": "BTCUSDT", "position_size": "lots"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := f.do(t, http.MethodPost, "/api/v1/simulations", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestSimulation_NotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/v1/simulations/nope", "/api/v1/simulations/nope/stats", "/api/v1/simulations/nope/trades"} {
		code, _ := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, code, path)
	}
	code, _ := f.do(t, http.MethodPost, "/api/v1/simulations/nope/start", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSimulation_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, map[string]any{"name": "alpha", "config": map[string]any{"symbol": "BTCUSDT"}})["id"].(string)

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("5 of 5 workers active: %w", manager.ErrCapacityExceeded), http.StatusConflict},
		{&simulation.TransitionError{From: simulation.StatusStopped, To: simulation.StatusRunning}, http.StatusConflict},
		{fmt.Errorf("delete simulation x (running): %w", simulation.ErrActive), http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f.life.startErr = tc.err
		code, env := f.do(t, http.MethodPost, "/api/v1/simulations/"+id+"/start", nil)
		assert.Equal(t, tc.want, code)
		if tc.want == http.StatusInternalServerError {
			assert.Equal(t, "internal error", env.Message)
		}
	}
}

func TestSimulation_Lifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, map[string]any{"name": "alpha", "config": map[string]any{"symbol": "BTCUSDT"}})["id"].(string)
	base := "/api/v1/simulations/" + id

	code, _ := f.do(t, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env := f.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"status":"running"`)

	code, _ = f.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"paused"`)

	code, env = f.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"running"`)

	// The idle worker ignores stop, so the grace kill marks it error.
	code, env = f.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"error"`)

	code, env = f.do(t, http.MethodPost, base+"/clone", map[string]any{"name": "alpha again"})
	require.Equal(t, http.StatusCreated, code)
	assert.Contains(t, string(env.Data), `"status":"created"`)

	code, _ = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSimulation_ListStatsTrades(t *testing.T) {
	f := newFixture(t)
	f.create(t, map[string]any{"name": "a", "config": map[string]any{"symbol": "BTCUSDT"}})
	id := f.create(t, map[string]any{"name": "b", "config": map[string]any{"symbol": "ETHUSDT"}})["id"].(string)

	code, env := f.do(t, http.MethodGet, "/api/v1/simulations?status=created&limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, env.Meta["total"])
	assert.Equal(t, true, env.Meta["has_next"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/simulations?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(t, http.MethodGet, "/api/v1/simulations/"+id+"/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total_trades":0`)

	code, env = f.do(t, http.MethodGet, "/api/v1/simulations/"+id+"/trades?state=open", nil)
	require.Equal(t, http.StatusOK, code)
	var trades []models.SimulationTrade
	require.NoError(t, json.Unmarshal(env.Data, &trades))
	assert.Empty(t, trades)

	code, env = f.do(t, http.MethodGet, "/api/v1/simulations/presets", nil)
	require.Equal(t, http.StatusOK, code)
	var presets []simulation.Preset
	require.NoError(t, json.Unmarshal(env.Data, &presets))
	assert.Len(t, presets, 5)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sent := &models.Notification{Type: models.NotificationSignal, Content: "Signal: bullish for BTCUSDT", DeliveryStatus: models.DeliverySent}
	failed := &models.Notification{Type: models.NotificationError, Content: "Error in alpha: boom", DeliveryStatus: models.DeliveryFailed}
	require.NoError(t, f.store.InsertNotification(ctx, sent))
	require.NoError(t, f.store.InsertNotification(ctx, failed))

	code, env := f.do(t, http.MethodGet, "/api/v1/notifications?status=failed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["total"])
	assert.Contains(t, string(env.Data), "boom")

	code, _ = f.do(t, http.MethodGet, "/api/v1/notifications?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/notifications/%d", sent.ID), nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/notifications/999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/notifications/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/notifications/%d/retry", sent.ID), nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/notifications/%d/retry", failed.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"retry_count":1`)

	code, env = f.do(t, http.MethodPost, "/api/v1/notifications/test", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), notify.DefaultTestMessage)
	assert.Contains(t, string(env.Data), `"delivery_status":"skipped"`)

	code, env = f.do(t, http.MethodGet, "/api/v1/notifications/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":3`)

	code, env = f.do(t, http.MethodGet, "/api/v1/notifications/types", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "daily_summary")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	// No database handle configured.
	code, _ = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestStream_FiltersBySimulation(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/simulations/stream?simulation_id=want"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// Keep publishing until the subscription is in place.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				f.hub.Publish(ipc.Event{Type: ipc.EventCycle, SimulationID: "other"})
				f.hub.Publish(ipc.Event{Type: ipc.EventStatus, SimulationID: "want", State: ipc.StatePaused})
			}
		}
	}()

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev ipc.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, "want", ev.SimulationID)
	assert.Equal(t, ipc.StatePaused, ev.State)
}
