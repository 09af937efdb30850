package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"aitrader/internal/config"
	"aitrader/internal/ipc"
	"aitrader/internal/metrics"
	"aitrader/internal/models"
	"aitrader/internal/repository"
	"aitrader/internal/simulation"
)

var (
	ErrCapacityExceeded = errors.New("maximum active simulations reached")
	ErrWorkerBound      = errors.New("simulation has a bound worker")
)

const (
	MessageExitedUnexpectedly = "worker exited unexpectedly"
	MessageOrphaned           = "orphaned on restart"
	ReasonUserStop            = "stopped by user"
)

// Invalidator drops cached reads after a worker wrote to the ledger.
type Invalidator interface {
	Invalidate(ctx context.Context, simulationID string)
}

// StatusNotifier reports manager-side status changes. It is optional.
type StatusNotifier interface {
	SimulationStatus(ctx context.Context, sim *models.Simulation, status, message string)
}

// Manager supervises at most MaxActive worker processes. It is the only
// component that spawns, signals or kills workers.
type Manager struct {
	Repo     repository.SimulationRepository
	Spawner  Spawner
	Cache    Invalidator
	Notifier StatusNotifier
	Hub      *Hub
	Logger   *zap.Logger
	Config   config.ManagerConfig

	mu      sync.Mutex
	workers map[string]*handle
	now     func() time.Time
}

func New(repo repository.SimulationRepository, spawner Spawner, cfg config.ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 5
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 45 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	return &Manager{
		Repo:    repo,
		Spawner: spawner,
		Hub:     NewHub(),
		Logger:  logger,
		Config:  cfg,
		workers: map[string]*handle{},
	}
}

func (m *Manager) clock() time.Time {
	if m.now != nil {
		return m.now().UTC()
	}
	return time.Now().UTC()
}

type handle struct {
	id   string
	proc Process
	enc  *ipc.Encoder

	lastSeen   atomic.Int64
	state      atomic.Value
	killReason atomic.Value
	done       chan struct{}
}

func (h *handle) touch(t time.Time) { h.lastSeen.Store(t.UnixNano()) }

func (h *handle) seen() time.Time { return time.Unix(0, h.lastSeen.Load()).UTC() }

func (h *handle) currentState() string {
	if v, ok := h.state.Load().(string); ok {
		return v
	}
	return ipc.StateStarting
}

func (h *handle) kill(reason string) error {
	h.killReason.CompareAndSwap(nil, reason)
	return h.proc.Kill()
}

func (h *handle) send(t ipc.CommandType, now time.Time) error {
	return h.enc.Encode(ipc.Command{Type: t, Time: now})
}

// Active is the number of bound workers, pending starts included.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

func (m *Manager) bound(id string) (*handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.workers[id]
	return h, ok
}

// Create validates the configuration and inserts the simulation as created.
func (m *Manager) Create(ctx context.Context, name string, cfg simulation.Config) (*models.Simulation, error) {
	name = strings.TrimSpace(name)
	cfg.Normalize()
	err := cfg.Validate()
	if name == "" {
		var verr *simulation.ValidationError
		if errors.As(err, &verr) {
			verr.Problems = append([]string{"name is required"}, verr.Problems...)
		} else {
			err = &simulation.ValidationError{Problems: []string{"name is required"}}
		}
	}
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	item := &models.Simulation{
		ID:     uuid.NewString(),
		Name:   name,
		Config: datatypes.JSON(raw),
		Status: string(simulation.StatusCreated),
	}
	if err := m.Repo.CreateSimulation(ctx, item); err != nil {
		return nil, err
	}
	m.Logger.Info("simulation created", zap.String("simulation_id", item.ID), zap.String("symbol", cfg.Symbol))
	return item, nil
}

// Clone creates a fresh simulation with the configuration of another one.
func (m *Manager) Clone(ctx context.Context, id, name string) (*models.Simulation, error) {
	src, err := m.Repo.GetSimulation(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := simulation.DecodeConfig(src.Config)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = src.Name + " (retry)"
	}
	return m.Create(ctx, name, cfg)
}

// Start persists running and spawns the worker. The capacity check, the
// status transition and the spawn happen under one lock.
func (m *Manager) Start(ctx context.Context, id string) (*models.Simulation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[id]; ok {
		metrics.WorkerStarts.WithLabelValues("bound").Inc()
		return nil, fmt.Errorf("simulation %s: %w", id, ErrWorkerBound)
	}
	if len(m.workers) >= m.Config.MaxActive {
		metrics.WorkerStarts.WithLabelValues("capacity").Inc()
		return nil, fmt.Errorf("%d of %d workers active: %w", len(m.workers), m.Config.MaxActive, ErrCapacityExceeded)
	}
	sim, err := m.Repo.GetSimulation(ctx, id)
	if err != nil {
		return nil, err
	}
	if from := simulation.Status(sim.Status); from != simulation.StatusCreated {
		return nil, &simulation.TransitionError{From: from, To: simulation.StatusRunning}
	}
	sim, err = m.Repo.UpdateStatus(ctx, id, repository.StatusUpdate{
		To:   simulation.StatusRunning,
		From: []simulation.Status{simulation.StatusCreated},
	})
	if err != nil {
		return nil, err
	}

	proc, err := m.Spawner.Spawn(id)
	if err != nil {
		metrics.WorkerStarts.WithLabelValues("spawn_failed").Inc()
		msg := fmt.Sprintf("spawn worker: %v", err)
		if _, uerr := m.Repo.UpdateStatus(ctx, id, repository.StatusUpdate{To: simulation.StatusError, ErrorMessage: msg}); uerr != nil {
			m.Logger.Error("persist spawn failure", zap.String("simulation_id", id), zap.Error(uerr))
		}
		m.invalidate(id)
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	pid := proc.PID()
	if err := m.Repo.SetWorkerPID(ctx, id, &pid); err != nil {
		m.Logger.Warn("record worker pid failed", zap.String("simulation_id", id), zap.Error(err))
	}
	sim.PID = &pid

	h := &handle{id: id, proc: proc, enc: ipc.NewEncoder(proc.Stdin()), done: make(chan struct{})}
	h.touch(m.clock())
	m.workers[id] = h
	metrics.ActiveWorkers.Set(float64(len(m.workers)))
	metrics.WorkerStarts.WithLabelValues("started").Inc()
	go m.watch(h)

	m.Logger.Info("worker started", zap.String("simulation_id", id), zap.Int("pid", pid))
	m.publish(ipc.Event{Type: ipc.EventStatus, SimulationID: id, PID: pid, State: ipc.StateStarting})
	return sim, nil
}

// Pause persists paused and tells the worker to skip cycles.
func (m *Manager) Pause(ctx context.Context, id string) (*models.Simulation, error) {
	return m.command(ctx, id, ipc.CommandPause, simulation.StatusPaused, simulation.StatusRunning)
}

func (m *Manager) Resume(ctx context.Context, id string) (*models.Simulation, error) {
	return m.command(ctx, id, ipc.CommandResume, simulation.StatusRunning, simulation.StatusPaused)
}

func (m *Manager) command(ctx context.Context, id string, cmd ipc.CommandType, to, from simulation.Status) (*models.Simulation, error) {
	h, ok := m.bound(id)
	if !ok {
		sim, err := m.Repo.GetSimulation(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &simulation.TransitionError{From: simulation.Status(sim.Status), To: to}
	}
	sim, err := m.Repo.UpdateStatus(ctx, id, repository.StatusUpdate{To: to, From: []simulation.Status{from}})
	if err != nil {
		return nil, err
	}
	if err := h.send(cmd, m.clock()); err != nil {
		m.Logger.Warn("send command failed", zap.String("simulation_id", id), zap.String("command", string(cmd)), zap.Error(err))
	}
	return sim, nil
}

// Stop asks the worker to stop and waits for the grace period. A worker that
// does not exit in time is killed and its simulation marked error.
func (m *Manager) Stop(ctx context.Context, id string) (*models.Simulation, error) {
	h, ok := m.bound(id)
	if !ok {
		sim, err := m.Repo.GetSimulation(ctx, id)
		if err != nil {
			return nil, err
		}
		if !simulation.Status(sim.Status).Active() {
			return nil, &simulation.TransitionError{From: simulation.Status(sim.Status), To: simulation.StatusStopped}
		}
		sim, err = m.Repo.UpdateStatus(ctx, id, repository.StatusUpdate{To: simulation.StatusStopped, Reason: ReasonUserStop})
		m.invalidate(id)
		return sim, err
	}

	if err := h.send(ipc.CommandStop, m.clock()); err != nil {
		m.Logger.Warn("send stop failed", zap.String("simulation_id", id), zap.Error(err))
	}
	timer := time.NewTimer(m.Config.StopGrace)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		m.Logger.Warn("worker ignored stop; killing", zap.String("simulation_id", id), zap.Duration("grace", m.Config.StopGrace))
		_ = h.kill(fmt.Sprintf("worker did not stop within %s; killed", m.Config.StopGrace))
		<-h.done
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.Repo.GetSimulation(ctx, id)
}

// Delete removes a simulation that has no bound worker. The store also
// refuses rows still persisted running or paused, which covers the window
// between a worker exiting and its status being settled.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, ok := m.bound(id); ok {
		return fmt.Errorf("simulation %s: %w", id, ErrWorkerBound)
	}
	if err := m.Repo.DeleteSimulation(ctx, id); err != nil {
		return err
	}
	m.publish(ipc.Event{Type: ipc.EventStatus, SimulationID: id, Message: "deleted"})
	return nil
}

// watch consumes the worker's events until its stdout closes, then settles
// the persisted status.
func (m *Manager) watch(h *handle) {
	log := m.Logger.With(zap.String("simulation_id", h.id), zap.Int("pid", h.proc.PID()))
	dec := ipc.NewDecoder(h.proc.Stdout())
	for {
		var ev ipc.Event
		err := dec.Decode(&ev)
		if err != nil {
			if errors.Is(err, ipc.ErrMalformed) {
				log.Warn("malformed worker event", zap.Error(err))
				continue
			}
			break
		}
		m.onEvent(h, ev)
	}
	waitErr := h.proc.Wait()

	m.mu.Lock()
	delete(m.workers, h.id)
	metrics.ActiveWorkers.Set(float64(len(m.workers)))
	m.mu.Unlock()

	m.settle(h, waitErr, log)
	close(h.done)
}

func (m *Manager) onEvent(h *handle, ev ipc.Event) {
	h.touch(m.clock())
	metrics.WorkerEvents.WithLabelValues(string(ev.Type)).Inc()
	if ev.State != "" {
		h.state.Store(ev.State)
	}
	if ev.SimulationID == "" {
		ev.SimulationID = h.id
	}
	switch ev.Type {
	case ipc.EventHeartbeat:
		return
	case ipc.EventTrade:
		if ev.Trade != nil {
			metrics.Trades.WithLabelValues(ev.Trade.Action, ev.Trade.Side).Inc()
		}
		m.invalidate(h.id)
	case ipc.EventCycle, ipc.EventStatus, ipc.EventReady:
		m.invalidate(h.id)
	}
	m.publish(ev)
}

// settle marks a simulation whose worker left it active as error.
func (m *Manager) settle(h *handle, waitErr error, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer m.invalidate(h.id)

	reason := "exited"
	if v, ok := h.killReason.Load().(string); ok {
		reason = "killed"
		if err := m.markError(ctx, h.id, v); err != nil {
			log.Error("persist kill failed", zap.Error(err))
		}
	} else if sim, err := m.Repo.GetSimulation(ctx, h.id); err == nil && simulation.Status(sim.Status).Active() {
		reason = "unexpected"
		log.Error(MessageExitedUnexpectedly, zap.String("status", sim.Status), zap.Error(waitErr))
		if err := m.markError(ctx, h.id, MessageExitedUnexpectedly); err != nil {
			log.Error("persist unexpected exit failed", zap.Error(err))
		}
	}
	if err := m.Repo.SetWorkerPID(ctx, h.id, nil); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Warn("clear worker pid failed", zap.Error(err))
	}
	metrics.WorkerExits.WithLabelValues(reason).Inc()
	log.Info("worker exited", zap.String("reason", reason), zap.Error(waitErr))
	m.publish(ipc.Event{Type: ipc.EventStatus, SimulationID: h.id, State: ipc.StateStopped, Reason: reason, Time: m.clock()})
}

func (m *Manager) markError(ctx context.Context, id, message string) error {
	sim, err := m.Repo.UpdateStatus(ctx, id, repository.StatusUpdate{
		To:           simulation.StatusError,
		ErrorMessage: message,
		From:         []simulation.Status{simulation.StatusRunning, simulation.StatusPaused},
	})
	if errors.Is(err, simulation.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	m.notify(sim, "error", message)
	return nil
}

// Reconcile marks running or paused simulations without a bound worker as
// error. It runs once at startup, before any Start.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	items, err := m.Repo.ListSimulations(ctx, repository.ListSimulationsParams{
		Limit:    1000,
		Statuses: []string{string(simulation.StatusRunning), string(simulation.StatusPaused)},
	})
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, item := range items {
		if _, ok := m.bound(item.ID); ok {
			continue
		}
		if err := m.markError(ctx, item.ID, MessageOrphaned); err != nil {
			m.Logger.Error("reconcile failed", zap.String("simulation_id", item.ID), zap.Error(err))
			continue
		}
		if err := m.Repo.SetWorkerPID(ctx, item.ID, nil); err != nil {
			m.Logger.Warn("clear worker pid failed", zap.String("simulation_id", item.ID), zap.Error(err))
		}
		m.invalidate(item.ID)
		marked++
	}
	if marked > 0 {
		m.Logger.Warn("orphaned simulations marked error", zap.Int("count", marked))
	}
	return marked, nil
}

// SweepHeartbeats kills workers silent for longer than the heartbeat timeout.
func (m *Manager) SweepHeartbeats(ctx context.Context) int {
	now := m.clock()
	m.mu.Lock()
	var stale []*handle
	for _, h := range m.workers {
		if now.Sub(h.seen()) > m.Config.HeartbeatTimeout {
			stale = append(stale, h)
		}
	}
	m.mu.Unlock()

	for _, h := range stale {
		m.Logger.Warn("worker heartbeat timeout; killing",
			zap.String("simulation_id", h.id),
			zap.Time("last_seen", h.seen()),
			zap.Duration("timeout", m.Config.HeartbeatTimeout),
		)
		if err := h.kill(fmt.Sprintf("no heartbeat for %s; killed", m.Config.HeartbeatTimeout)); err != nil {
			m.Logger.Error("kill worker failed", zap.String("simulation_id", h.id), zap.Error(err))
		}
	}
	return len(stale)
}

// Shutdown stops every worker, killing those still running when ctx ends.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.workers))
	for _, h := range m.workers {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		if err := h.send(ipc.CommandStop, m.clock()); err != nil {
			m.Logger.Warn("send stop failed", zap.String("simulation_id", h.id), zap.Error(err))
		}
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			_ = h.kill("killed on manager shutdown")
			<-h.done
		}
	}
	m.Logger.Info("manager shutdown complete", zap.Int("workers", len(handles)))
}

// WorkerState is the last state a bound worker reported.
func (m *Manager) WorkerState(id string) (string, bool) {
	h, ok := m.bound(id)
	if !ok {
		return "", false
	}
	return h.currentState(), true
}

func (m *Manager) invalidate(id string) {
	if m.Cache != nil {
		m.Cache.Invalidate(context.Background(), id)
	}
}

func (m *Manager) publish(ev ipc.Event) {
	if ev.Time.IsZero() {
		ev.Time = m.clock()
	}
	if m.Hub != nil {
		m.Hub.Publish(ev)
	}
}

func (m *Manager) notify(sim *models.Simulation, status, message string) {
	if m.Notifier == nil || sim == nil {
		return
	}
	m.Notifier.SimulationStatus(context.Background(), sim, status, message)
}
