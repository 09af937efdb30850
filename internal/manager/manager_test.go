package manager

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aitrader/internal/accounting"
	"aitrader/internal/ai"
	"aitrader/internal/config"
	"aitrader/internal/ipc"
	"aitrader/internal/marketdata"
	"aitrader/internal/models"
	"aitrader/internal/repository"
	gormrepository "aitrader/internal/repository/gorm"
	"aitrader/internal/repository/repotest"
	"aitrader/internal/simulation"
	"aitrader/internal/worker"
)

type script struct {
	ignoreStop bool
	exitAfter  bool
}

// scriptedWorker speaks the worker protocol without trading.
func scriptedWorker(repo repository.SimulationRepository, sc script) WorkerFunc {
	return func(ctx context.Context, id string, in io.Reader, out io.Writer) error {
		enc := ipc.NewEncoder(out)
		_ = enc.Encode(ipc.Event{Type: ipc.EventReady, SimulationID: id, State: ipc.StateRunning})
		if sc.exitAfter {
			return nil
		}
		cmds := make(chan ipc.Command, 8)
		go func() {
			defer close(cmds)
			dec := ipc.NewDecoder(in)
			for {
				var c ipc.Command
				if err := dec.Decode(&c); err != nil {
					return
				}
				cmds <- c
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, ok := <-cmds:
				if !ok {
					return worker.ErrControlLost
				}
				switch c.Type {
				case ipc.CommandStop:
					if sc.ignoreStop {
						continue
					}
					_, err := repo.UpdateStatus(context.Background(), id, repository.StatusUpdate{To: simulation.StatusStopped, Reason: ReasonUserStop})
					_ = enc.Encode(ipc.Event{Type: ipc.EventStatus, SimulationID: id, State: ipc.StateStopped})
					return err
				case ipc.CommandPause:
					_ = enc.Encode(ipc.Event{Type: ipc.EventStatus, SimulationID: id, State: ipc.StatePaused})
				case ipc.CommandResume:
					_ = enc.Encode(ipc.Event{Type: ipc.EventStatus, SimulationID: id, State: ipc.StateRunning})
				}
			}
		}
	}
}

func newManager(t *testing.T, sc script, grace time.Duration) (*Manager, *gormrepository.Store) {
	t.Helper()
	store := repotest.New(t)
	m := New(store, PipeSpawner{Run: scriptedWorker(store, sc)}, config.ManagerConfig{
		MaxActive:        5,
		StopGrace:        grace,
		HeartbeatTimeout: time.Minute,
	}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, store
}

func createSim(t *testing.T, m *Manager, name string) *models.Simulation {
	t.Helper()
	sim, err := m.Create(context.Background(), name, repotest.Config())
	require.NoError(t, err)
	return sim
}

func statusOf(t *testing.T, store *gormrepository.Store, id string) *models.Simulation {
	t.Helper()
	sim, err := store.GetSimulation(context.Background(), id)
	require.NoError(t, err)
	return sim
}

func TestStart_ConcurrentStartsRespectCapacity(t *testing.T) {
	m, _ := newManager(t, script{}, time.Second)
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = createSim(t, m, "sim").ID
	}

	var ok, full atomic.Int32
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.Start(context.Background(), id)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrCapacityExceeded):
				full.Add(1)
			default:
				t.Errorf("unexpected start error: %v", err)
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(5), full.Load())
	assert.Equal(t, 5, m.Active())
}

func TestLifecycle_PauseResumeStop(t *testing.T) {
	m, store := newManager(t, script{}, time.Second)
	ctx := context.Background()
	sim := createSim(t, m, "alpha")

	_, err := m.Pause(ctx, sim.ID)
	var terr *simulation.TransitionError
	require.ErrorAs(t, err, &terr)

	started, err := m.Start(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusRunning), started.Status)
	require.NotNil(t, started.PID)

	_, err = m.Start(ctx, sim.ID)
	assert.True(t, errors.Is(err, ErrWorkerBound))

	paused, err := m.Pause(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusPaused), paused.Status)
	require.Eventually(t, func() bool {
		s, _ := m.WorkerState(sim.ID)
		return s == ipc.StatePaused
	}, time.Second, 5*time.Millisecond)

	_, err = m.Pause(ctx, sim.ID)
	assert.True(t, errors.Is(err, simulation.ErrInvalidTransition))

	resumed, err := m.Resume(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusRunning), resumed.Status)

	stopped, err := m.Stop(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusStopped), stopped.Status)
	assert.Equal(t, 0, m.Active())
	assert.Nil(t, statusOf(t, store, sim.ID).PID)

	_, err = m.Start(ctx, sim.ID)
	assert.True(t, errors.Is(err, simulation.ErrInvalidTransition))
}

func TestStop_KillsAfterGrace(t *testing.T) {
	m, store := newManager(t, script{ignoreStop: true}, 50*time.Millisecond)
	ctx := context.Background()
	sim := createSim(t, m, "stubborn")
	_, err := m.Start(ctx, sim.ID)
	require.NoError(t, err)

	got, err := m.Stop(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusError), got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "did not stop")
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, string(simulation.StatusError), statusOf(t, store, sim.ID).Status)
}

func TestWatch_UnexpectedExitMarksError(t *testing.T) {
	m, store := newManager(t, script{exitAfter: true}, time.Second)
	sim := createSim(t, m, "crashy")
	_, err := m.Start(context.Background(), sim.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return statusOf(t, store, sim.ID).Status == string(simulation.StatusError)
	}, 2*time.Second, 10*time.Millisecond)
	got := statusOf(t, store, sim.ID)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, MessageExitedUnexpectedly, *got.ErrorMessage)
	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReconcile_MarksOrphans(t *testing.T) {
	m, store := newManager(t, script{}, time.Second)
	ctx := context.Background()
	running := createSim(t, m, "running")
	paused := createSim(t, m, "paused")
	idle := createSim(t, m, "idle")
	for _, id := range []string{running.ID, paused.ID} {
		_, err := store.UpdateStatus(ctx, id, repository.StatusUpdate{To: simulation.StatusRunning})
		require.NoError(t, err)
	}
	_, err := store.UpdateStatus(ctx, paused.ID, repository.StatusUpdate{To: simulation.StatusPaused})
	require.NoError(t, err)

	n, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []string{running.ID, paused.ID} {
		got := statusOf(t, store, id)
		assert.Equal(t, string(simulation.StatusError), got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, MessageOrphaned, *got.ErrorMessage)
	}
	assert.Equal(t, string(simulation.StatusCreated), statusOf(t, store, idle.ID).Status)
}

func TestSweepHeartbeats_KillsSilentWorkers(t *testing.T) {
	m, store := newManager(t, script{ignoreStop: true}, time.Second)
	var offset atomic.Int64
	m.now = func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	sim := createSim(t, m, "silent")
	_, err := m.Start(context.Background(), sim.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, m.SweepHeartbeats(context.Background()))
	offset.Store(int64(2 * time.Minute))
	assert.Equal(t, 1, m.SweepHeartbeats(context.Background()))

	require.Eventually(t, func() bool { return m.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
	got := statusOf(t, store, sim.ID)
	assert.Equal(t, string(simulation.StatusError), got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no heartbeat")
}

func TestDelete_RequiresNoBoundWorker(t *testing.T) {
	m, store := newManager(t, script{}, time.Second)
	ctx := context.Background()
	sim := createSim(t, m, "gone")
	_, err := m.Start(ctx, sim.ID)
	require.NoError(t, err)

	assert.True(t, errors.Is(m.Delete(ctx, sim.ID), ErrWorkerBound))
	_, err = m.Stop(ctx, sim.ID)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, sim.ID))
	_, err = store.GetSimulation(ctx, sim.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestCreateAndClone(t *testing.T) {
	m, _ := newManager(t, script{}, time.Second)
	ctx := context.Background()

	_, err := m.Create(ctx, " ", repotest.Config())
	assert.True(t, errors.Is(err, simulation.ErrValidation))

	bad := repotest.Config()
	bad.InitialCapital = decimal.NewFromInt(1)
	_, err = m.Create(ctx, "small", bad)
	var verr *simulation.ValidationError
	require.ErrorAs(t, err, &verr)

	src := createSim(t, m, "alpha")
	clone, err := m.Clone(ctx, src.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, clone.ID)
	assert.Equal(t, "alpha (retry)", clone.Name)
	assert.Equal(t, string(simulation.StatusCreated), clone.Status)
	assert.JSONEq(t, string(src.Config), string(clone.Config))
}

func TestHub_ReceivesWorkerEvents(t *testing.T) {
	m, _ := newManager(t, script{}, time.Second)
	events, cancel := m.Hub.Subscribe(16)
	defer cancel()

	sim := createSim(t, m, "watched")
	_, err := m.Start(context.Background(), sim.ID)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == ipc.EventReady {
				assert.Equal(t, sim.ID, ev.SimulationID)
				return
			}
		case <-deadline:
			t.Fatal("no ready event")
		}
	}
}

type stepMarket struct{}

func (stepMarket) Context(_ context.Context, symbol string) (marketdata.Quote, string, error) {
	return marketdata.Quote{Symbol: symbol, Price: decimal.NewFromInt(100)}, "Current BTC Market Data:", nil
}

type bullish struct{}

func (bullish) Name() string { return "fake" }

func (bullish) Signal(context.Context, ai.PromptContext) (ai.Signal, error) {
	return ai.Signal{Interpretation: accounting.SignalBullish, Reasoning: "up only"}, nil
}

func TestManager_DrivesRealWorker(t *testing.T) {
	store := repotest.New(t)
	providers := ai.NewRegistry()
	providers.Register(simulation.AIAnthropic, bullish{})
	run := func(ctx context.Context, id string, in io.Reader, out io.Writer) error {
		w := &worker.Worker{
			SimulationID: id,
			Repo:         store,
			Market:       stepMarket{},
			Providers:    providers,
			Logger:       zap.NewNop(),
			Options: worker.Options{
				Interval:          20 * time.Millisecond,
				RequestTimeout:    time.Second,
				HeartbeatInterval: 10 * time.Millisecond,
			},
		}
		return w.Serve(ctx, in, out)
	}
	m := New(store, PipeSpawner{Run: run}, config.ManagerConfig{StopGrace: 2 * time.Second}, zap.NewNop())
	ctx := context.Background()
	sim := createSim(t, m, "e2e")

	_, err := m.Start(ctx, sim.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		open, err := store.ListOpenTrades(ctx, sim.ID)
		return err == nil && len(open) > 0
	}, 3*time.Second, 20*time.Millisecond)

	got, err := m.Stop(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusStopped), got.Status)
	require.NotNil(t, got.StatusReason)
	assert.Equal(t, worker.ReasonUserStop, *got.StatusReason)

	account, err := store.GetAccount(ctx, sim.ID)
	require.NoError(t, err)
	assert.True(t, account.Capital.LessThan(decimal.NewFromInt(10000)))
}

// slowBullish holds every call for delay unless ctx ends first.
type slowBullish struct {
	delay     time.Duration
	inFlight  chan struct{}
	once      sync.Once
	cancelled atomic.Bool
}

func (s *slowBullish) Name() string { return "slow" }

func (s *slowBullish) Signal(ctx context.Context, _ ai.PromptContext) (ai.Signal, error) {
	s.once.Do(func() { close(s.inFlight) })
	select {
	case <-time.After(s.delay):
		return ai.Signal{Interpretation: accounting.SignalBullish, Reasoning: "slow but sure"}, nil
	case <-ctx.Done():
		s.cancelled.Store(true)
		return ai.Signal{}, simulation.Collaborator("ai", ctx.Err())
	}
}

func TestStop_WaitsForInFlightCallThenPersistsStopped(t *testing.T) {
	store := repotest.New(t)
	slow := &slowBullish{delay: 600 * time.Millisecond, inFlight: make(chan struct{})}
	providers := ai.NewRegistry()
	providers.Register(simulation.AIAnthropic, slow)
	run := func(ctx context.Context, id string, in io.Reader, out io.Writer) error {
		w := &worker.Worker{
			SimulationID: id,
			Repo:         store,
			Market:       stepMarket{},
			Providers:    providers,
			Logger:       zap.NewNop(),
			Options: worker.Options{
				Interval:          10 * time.Millisecond,
				RequestTimeout:    time.Second,
				HeartbeatInterval: 10 * time.Millisecond,
			},
		}
		return w.Serve(ctx, in, out)
	}
	m := New(store, PipeSpawner{Run: run}, config.ManagerConfig{StopGrace: 2 * time.Second}, zap.NewNop())
	ctx := context.Background()
	sim := createSim(t, m, "slow")

	_, err := m.Start(ctx, sim.ID)
	require.NoError(t, err)
	select {
	case <-slow.inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("AI call never started")
	}

	got, err := m.Stop(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusStopped), got.Status)
	require.NotNil(t, got.StatusReason)
	assert.Equal(t, worker.ReasonUserStop, *got.StatusReason)
	assert.Nil(t, got.ErrorMessage)
	assert.False(t, slow.cancelled.Load(), "in-flight call was cut short")

	open, err := store.ListOpenTrades(ctx, sim.ID)
	require.NoError(t, err)
	assert.Empty(t, open, "cycle must not trade after stop")
	assert.Equal(t, 0, m.Active())
}

func TestDelete_RejectsRowStillPersistedActive(t *testing.T) {
	m, store := newManager(t, script{}, time.Second)
	ctx := context.Background()
	sim := createSim(t, m, "unsettled")
	// Worker gone but its status not settled yet.
	_, err := store.UpdateStatus(ctx, sim.ID, repository.StatusUpdate{To: simulation.StatusRunning})
	require.NoError(t, err)

	err = m.Delete(ctx, sim.ID)
	assert.True(t, errors.Is(err, simulation.ErrActive))
	assert.Equal(t, string(simulation.StatusRunning), statusOf(t, store, sim.ID).Status)
}
