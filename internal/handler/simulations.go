package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aitrader/internal/models"
	"aitrader/internal/repository"
	"aitrader/internal/simulation"
)

// Lifecycle is the slice of the manager the API drives.
type Lifecycle interface {
	Create(ctx context.Context, name string, cfg simulation.Config) (*models.Simulation, error)
	Clone(ctx context.Context, id, name string) (*models.Simulation, error)
	Start(ctx context.Context, id string) (*models.Simulation, error)
	Stop(ctx context.Context, id string) (*models.Simulation, error)
	Pause(ctx context.Context, id string) (*models.Simulation, error)
	Resume(ctx context.Context, id string) (*models.Simulation, error)
	Delete(ctx context.Context, id string) error
	WorkerState(id string) (string, bool)
}

type SimulationHandler struct {
	Repo    repository.SimulationRepository
	Manager Lifecycle
	Logger  *zap.Logger
}

func (h *SimulationHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/simulations")
	group.GET("", h.list)
	group.POST("", h.create)
	group.GET("/presets", h.presets)
	group.GET("/:id", h.get)
	group.DELETE("/:id", h.delete)
	group.POST("/:id/start", h.start)
	group.POST("/:id/stop", h.stop)
	group.POST("/:id/pause", h.pause)
	group.POST("/:id/resume", h.resume)
	group.POST("/:id/clone", h.clone)
	group.GET("/:id/stats", h.stats)
	group.GET("/:id/trades", h.trades)
}

type createSimulationRequest struct {
	Name   string          `json:"name"`
	Preset string          `json:"preset,omitempty"`
	Config json.RawMessage `json:"config,omitempty" swaggertype:"object"`
}

type cloneSimulationRequest struct {
	Name string `json:"name"`
}

type simulationView struct {
	*models.Simulation
	Config      simulation.Config         `json:"config"`
	WorkerState string                    `json:"worker_state,omitempty"`
	Account     *models.SimulationAccount `json:"account,omitempty"`
}

func (h *SimulationHandler) view(item *models.Simulation) simulationView {
	v := simulationView{Simulation: item}
	if cfg, err := simulation.DecodeConfig(item.Config); err == nil {
		v.Config = cfg
	}
	if state, ok := h.Manager.WorkerState(item.ID); ok {
		v.WorkerState = state
	}
	return v
}

var simulationOrder = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
	"status":     "status",
}

// @Summary List simulations
// @Tags simulations
// @Param status query string false "comma separated statuses"
// @Param order_by query string false "created_at|updated_at|name|status"
// @Param asc query bool false "ascending"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/simulations [get]
func (h *SimulationHandler) list(c *gin.Context) {
	limit, offset := pagination(c)
	params := repository.ListSimulationsParams{
		Limit:    limit,
		Offset:   offset,
		Statuses: cleanStrings(c.QueryArray("status")),
		OrderBy:  parseOrder(c.Query("order_by"), simulationOrder),
		Asc:      boolQueryPtr(c, "asc"),
	}
	for _, s := range params.Statuses {
		if !simulation.Status(s).Valid() {
			Error(c, http.StatusBadRequest, "unknown status "+s, nil)
			return
		}
	}
	items, err := h.Repo.ListSimulations(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	total, err := h.Repo.CountSimulations(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	out := make([]simulationView, 0, len(items))
	for i := range items {
		out = append(out, h.view(&items[i]))
	}
	Ok(c, out, paginationMeta(limit, offset, total))
}

// @Summary Create a simulation from a config, a preset, or a preset with overrides
// @Tags simulations
// @Accept json
// @Param body body createSimulationRequest true "simulation"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/simulations [post]
func (h *SimulationHandler) create(c *gin.Context) {
	var req createSimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid json body", nil)
		return
	}
	cfg := simulation.DefaultConfig()
	if id := strings.TrimSpace(req.Preset); id != "" {
		p, ok := simulation.PresetByID(id)
		if !ok {
			Fail(c, h.Logger, &simulation.ValidationError{Problems: []string{"unknown preset " + id}})
			return
		}
		cfg = p.Config
		if strings.TrimSpace(req.Name) == "" {
			req.Name = p.Name
		}
	}
	if len(req.Config) > 0 && string(req.Config) != "null" {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			Fail(c, h.Logger, &simulation.ValidationError{Problems: []string{err.Error()}})
			return
		}
	}
	item, err := h.Manager.Create(c.Request.Context(), req.Name, cfg)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Created(c, h.view(item))
}

// @Summary Simulation presets
// @Tags simulations
// @Success 200 {object} apiResponse
// @Router /api/v1/simulations/presets [get]
func (h *SimulationHandler) presets(c *gin.Context) {
	Ok(c, simulation.Presets(), nil)
}

// @Summary Simulation detail with its account snapshot
// @Tags simulations
// @Param id path string true "simulation id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/simulations/{id} [get]
func (h *SimulationHandler) get(c *gin.Context) {
	item, err := h.Repo.GetSimulation(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	v := h.view(item)
	account, err := h.Repo.GetAccount(c.Request.Context(), item.ID)
	switch {
	case err == nil:
		v.Account = account
	case !errors.Is(err, repository.ErrNotFound):
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, v, nil)
}

// @Summary Delete a simulation without a running worker
// @Tags simulations
// @Param id path string true "simulation id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/simulations/{id} [delete]
func (h *SimulationHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.Manager.Delete(c.Request.Context(), id); err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, gin.H{"id": id, "deleted": true}, nil)
}

// @Summary Start a created simulation
// @Tags simulations
// @Param id path string true "simulation id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/simulations/{id}/start [post]
func (h *SimulationHandler) start(c *gin.Context) {
	h.transition(c, h.Manager.Start)
}

// @Summary Stop a running or paused simulation
// @Tags simulations
// @Param id path string true "simulation id"
// @Success 200 {object} apiResponse
// @Router /api/v1/simulations/{id}/stop [post]
func (h *SimulationHandler) stop(c *gin.Context) {
	h.transition(c, h.Manager.Stop)
}

// @Summary Pause a running simulation
// @Tags simulations
// @Param id path string true "simulation id"
// @Success 200 {object} apiResponse
// @Router /api/v1/simulations/{id}/pause [post]
func (h *SimulationHandler) pause(c *gin.Context) {
	h.transition(c, h.Manager.Pause)
}

// @Summary Resume a paused simulation
// @Tags simulations
// @Param id path string true "simulation id"
// @Success 200 {object} apiResponse
// @Router /api/v1/simulations/{id}/resume [post]
func (h *SimulationHandler) resume(c *gin.Context) {
	h.transition(c, h.Manager.Resume)
}

func (h *SimulationHandler) transition(c *gin.Context, fn func(context.Context, string) (*models.Simulation, error)) {
	item, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, h.view(item), nil)
}

// @Summary Create a fresh simulation with the same configuration
// @Tags simulations
// @Param id path string true "source simulation id"
// @Param body body cloneSimulationRequest false "optional name"
// @Success 201 {object} apiResponse
// @Router /api/v1/simulations/{id}/clone [post]
func (h *SimulationHandler) clone(c *gin.Context) {
	var req cloneSimulationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid json body", nil)
			return
		}
	}
	item, err := h.Manager.Clone(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Created(c, h.view(item))
}

// @Summary Simulation performance
// @Tags simulations
// @Param id path string true "simulation id"
// @Success 200 {object} apiResponse
// @Router /api/v1/simulations/{id}/stats [get]
func (h *SimulationHandler) stats(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Repo.GetSimulation(c.Request.Context(), id); err != nil {
		Fail(c, h.Logger, err)
		return
	}
	stats, err := h.Repo.SimulationStats(c.Request.Context(), id)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, stats, nil)
}

// @Summary Simulation trades
// @Tags simulations
// @Param id path string true "simulation id"
// @Param state query string false "open|closed"
// @Param asc query bool false "oldest first"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/simulations/{id}/trades [get]
func (h *SimulationHandler) trades(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Repo.GetSimulation(c.Request.Context(), id); err != nil {
		Fail(c, h.Logger, err)
		return
	}
	limit, offset := pagination(c)
	params := repository.ListTradesParams{
		SimulationID: id,
		Limit:        limit,
		Offset:       offset,
		Open:         parseOpen(c.Query("state")),
		Asc:          boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListTrades(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	total, err := h.Repo.CountTrades(c.Request.Context(), params)
	if err != nil {
		Fail(c, h.Logger, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
