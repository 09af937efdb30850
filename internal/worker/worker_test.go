package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aitrader/internal/accounting"
	"aitrader/internal/ai"
	"aitrader/internal/exchange"
	"aitrader/internal/ipc"
	"aitrader/internal/marketdata"
	"aitrader/internal/repository"
	gormrepository "aitrader/internal/repository/gorm"
	"aitrader/internal/repository/repotest"
	"aitrader/internal/simulation"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeMarket struct {
	mu     sync.Mutex
	prices []string
	i      int
}

func (m *fakeMarket) Context(_ context.Context, symbol string) (marketdata.Quote, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prices[len(m.prices)-1]
	if m.i < len(m.prices) {
		p = m.prices[m.i]
	}
	m.i++
	return marketdata.Quote{Symbol: symbol, Price: d(p), Source: "fake"}, "Current BTC Market Data:", nil
}

// fakeAI replays outlooks; an empty entry is a provider failure.
type fakeAI struct {
	mu      sync.Mutex
	signals []accounting.Signal
	i       int
}

func (f *fakeAI) Name() string { return "fake" }

func (f *fakeAI) Signal(context.Context, ai.PromptContext) (ai.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.signals[len(f.signals)-1]
	if f.i < len(f.signals) {
		s = f.signals[f.i]
	}
	f.i++
	if s == "" {
		return ai.Signal{}, simulation.Collaborator("ai", errors.New("provider timeout"))
	}
	return ai.Signal{Interpretation: s, Reasoning: "because", Provider: "fake"}, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) events(t *testing.T) []ipc.Event {
	t.Helper()
	b.mu.Lock()
	raw := b.buf.String()
	b.mu.Unlock()
	dec := ipc.NewDecoder(strings.NewReader(raw))
	var out []ipc.Event
	for {
		var ev ipc.Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

type harness struct {
	store  *gormrepository.Store
	sim    string
	worker *Worker
	events *syncBuffer
}

func newHarness(t *testing.T, cfg simulation.Config, prices []string, signals []accounting.Signal) *harness {
	t.Helper()
	store := repotest.New(t)
	sim := repotest.CreateSimulation(t, store, "alpha", cfg)
	_, err := store.UpdateStatus(context.Background(), sim.ID, repository.StatusUpdate{To: simulation.StatusRunning})
	require.NoError(t, err)

	providers := ai.NewRegistry()
	providers.Register(simulation.AIAnthropic, &fakeAI{signals: signals})
	events := &syncBuffer{}
	w := &Worker{
		SimulationID: sim.ID,
		Repo:         store,
		Market:       &fakeMarket{prices: prices},
		Providers:    providers,
		Events:       ipc.NewEncoder(events),
		Logger:       zap.NewNop(),
		Options: Options{
			Interval:          time.Hour,
			RequestTimeout:    time.Second,
			MaxFailures:       3,
			HeartbeatInterval: 10 * time.Millisecond,
		},
	}
	require.NoError(t, w.Init(context.Background()))
	return &harness{store: store, sim: sim.ID, worker: w, events: events}
}

func (h *harness) status(t *testing.T) string {
	t.Helper()
	sim, err := h.store.GetSimulation(context.Background(), h.sim)
	require.NoError(t, err)
	return sim.Status
}

func TestCycle_BullishNeutralThenProviderError(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100", "110", "95"},
		[]accounting.Signal{accounting.SignalBullish, accounting.SignalNeutral, ""})
	ctx := context.Background()

	done, err := h.worker.tick(ctx)
	require.NoError(t, err)
	require.False(t, done)
	open, err := h.store.ListOpenTrades(ctx, h.sim)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "5", open[0].Quantity.String())
	assert.Equal(t, string(accounting.ActionOpenLong), open[0].Action)
	assert.Equal(t, "9999.7", h.worker.engine.State.Capital.String())

	done, err = h.worker.tick(ctx)
	require.NoError(t, err)
	require.False(t, done)
	open, err = h.store.ListOpenTrades(ctx, h.sim)
	require.NoError(t, err)
	assert.Empty(t, open)
	trades, err := h.store.ListTrades(ctx, repository.ListTradesParams{SimulationID: h.sim})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].RealizedPnL)
	assert.Equal(t, "49.37", trades[0].RealizedPnL.String())

	done, err = h.worker.tick(ctx)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, h.worker.failures)
	assert.Equal(t, string(simulation.StatusRunning), h.status(t))

	account, err := h.store.GetAccount(ctx, h.sim)
	require.NoError(t, err)
	assert.Equal(t, "10049.37", account.Capital.String())
	assert.Equal(t, 2, account.Iterations)

	var cycles, tradeEvents, errorsSeen int
	for _, ev := range h.events.events(t) {
		switch ev.Type {
		case ipc.EventCycle:
			cycles++
		case ipc.EventTrade:
			tradeEvents++
		case ipc.EventError:
			errorsSeen++
		}
	}
	assert.Equal(t, 2, cycles)
	assert.Equal(t, 2, tradeEvents)
	assert.Equal(t, 1, errorsSeen)
}

func TestCycle_SpotBearishWithoutPositionIsSkipped(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100"}, []accounting.Signal{accounting.SignalBearish})
	res, err := h.worker.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accounting.ActionSkippedUnsupported, res.Action.Kind)
	assert.Empty(t, res.Opened)
	trades, err := h.store.ListTrades(context.Background(), repository.ListTradesParams{SimulationID: h.sim})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestCycle_DrawdownGuardStopsAndCloses(t *testing.T) {
	cfg := repotest.Config()
	cfg.Venue = simulation.VenueFutures
	cfg.PositionSize = simulation.FixedSize(d("5000"))
	cfg.StopLossPercent = decimal.Zero
	cfg.MaxDrawdownPercent = d("5")
	// Futures hold an existing long on a repeated bullish signal.
	h := newHarness(t, cfg, []string{"100", "80"}, []accounting.Signal{accounting.SignalBullish})
	ctx := context.Background()

	done, err := h.worker.tick(ctx)
	require.NoError(t, err)
	require.False(t, done)

	done, err = h.worker.tick(ctx)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, ipc.StateStopped, h.worker.currentState())

	sim, err := h.store.GetSimulation(ctx, h.sim)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusStopped), sim.Status)
	require.NotNil(t, sim.StatusReason)
	assert.Equal(t, "max drawdown exceeded", *sim.StatusReason)

	trades, err := h.store.ListTrades(ctx, repository.ListTradesParams{SimulationID: h.sim})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].CloseReason)
	assert.Equal(t, CloseDrawdown, *trades[0].CloseReason)
}

func TestCycle_StopLossClosesPosition(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100", "89"},
		[]accounting.Signal{accounting.SignalBullish})
	ctx := context.Background()

	_, err := h.worker.tick(ctx)
	require.NoError(t, err)
	res, err := h.worker.cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, accounting.ActionCloseLong, res.Action.Kind)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, "stop_loss", res.Closed[0].Reason)
	assert.Empty(t, res.Opened)
}

func TestCycle_MaxIterationsCompletes(t *testing.T) {
	cfg := repotest.Config()
	cfg.MaxIterations = 2
	h := newHarness(t, cfg, []string{"100"}, []accounting.Signal{accounting.SignalNeutral})
	ctx := context.Background()

	done, err := h.worker.tick(ctx)
	require.NoError(t, err)
	require.False(t, done)
	done, err = h.worker.tick(ctx)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, ipc.StateCompleted, h.worker.currentState())

	sim, err := h.store.GetSimulation(ctx, h.sim)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusStopped), sim.Status)
	require.NotNil(t, sim.StatusReason)
	assert.Equal(t, ReasonCompleted, *sim.StatusReason)
}

func TestTick_ConsecutiveFailuresEscalate(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100"}, []accounting.Signal{""})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		done, err := h.worker.tick(ctx)
		require.NoError(t, err)
		require.False(t, done)
	}
	done, err := h.worker.tick(ctx)
	require.True(t, done)
	require.True(t, errors.Is(err, ErrFatal))

	sim, err := h.store.GetSimulation(ctx, h.sim)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusError), sim.Status)
	require.NotNil(t, sim.ErrorMessage)
	assert.Contains(t, *sim.ErrorMessage, "3 consecutive failures")
}

func TestInit_RestoresOpenLots(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100"}, []accounting.Signal{accounting.SignalBullish})
	_, err := h.worker.tick(context.Background())
	require.NoError(t, err)

	again := &Worker{
		SimulationID: h.sim,
		Repo:         h.store,
		Market:       h.worker.Market,
		Providers:    h.worker.Providers,
		Logger:       zap.NewNop(),
	}
	require.NoError(t, again.Init(context.Background()))
	require.Len(t, again.engine.State.Lots, 1)
	assert.Equal(t, h.worker.engine.State.Lots[0].ID, again.engine.State.Lots[0].ID)
	assert.True(t, h.worker.engine.State.Capital.Equal(again.engine.State.Capital))
	assert.Equal(t, 1, again.engine.State.Iterations)
	assert.Equal(t, 60*time.Second, again.Options.Interval)
}

func TestInit_RejectsSimulationThatIsNotRunning(t *testing.T) {
	store := repotest.New(t)
	sim := repotest.CreateSimulation(t, store, "idle", repotest.Config())
	w := &Worker{SimulationID: sim.ID, Repo: store, Providers: ai.NewRegistry()}
	err := w.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal))
}

func TestRun_PauseResumeStop(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100"}, []accounting.Signal{accounting.SignalNeutral})
	cmds := make(chan ipc.Command, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- h.worker.Run(context.Background(), cmds) }()

	require.Eventually(t, func() bool { return h.worker.currentState() == ipc.StateRunning }, time.Second, 5*time.Millisecond)
	cmds <- ipc.Command{Type: ipc.CommandPause}
	require.Eventually(t, func() bool { return h.worker.currentState() == ipc.StatePaused }, time.Second, 5*time.Millisecond)
	cmds <- ipc.Command{Type: ipc.CommandResume}
	require.Eventually(t, func() bool { return h.worker.currentState() == ipc.StateRunning }, time.Second, 5*time.Millisecond)

	start := time.Now()
	cmds <- ipc.Command{Type: ipc.CommandStop}
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Less(t, time.Since(start), time.Second)

	sim, err := h.store.GetSimulation(context.Background(), h.sim)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusStopped), sim.Status)
	require.NotNil(t, sim.StatusReason)
	assert.Equal(t, ReasonUserStop, *sim.StatusReason)

	var states []string
	for _, ev := range h.events.events(t) {
		if ev.Type != ipc.EventHeartbeat {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []string{ipc.StateRunning, ipc.StatePaused, ipc.StateRunning, ipc.StateStopping, ipc.StateStopped}, states)
}

func TestRun_ControlLossLeavesStatus(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100"}, []accounting.Signal{accounting.SignalNeutral})
	cmds := make(chan ipc.Command)
	close(cmds)
	err := h.worker.Run(context.Background(), cmds)
	assert.True(t, errors.Is(err, ErrControlLost))
	assert.Equal(t, string(simulation.StatusRunning), h.status(t))
}

func TestServe_StdinEOF(t *testing.T) {
	h := newHarness(t, repotest.Config(), []string{"100"}, []accounting.Signal{accounting.SignalNeutral})
	out := &syncBuffer{}
	w := &Worker{
		SimulationID: h.sim,
		Repo:         h.store,
		Market:       h.worker.Market,
		Providers:    h.worker.Providers,
		Logger:       zap.NewNop(),
		Options:      Options{Interval: time.Hour, HeartbeatInterval: time.Hour},
	}
	err := w.Serve(context.Background(), strings.NewReader("not json\n\n"), out)
	assert.True(t, errors.Is(err, ErrControlLost))

	evs := out.events(t)
	require.GreaterOrEqual(t, len(evs), 2)
	assert.Equal(t, ipc.StateStarting, evs[0].State)
	assert.Equal(t, ipc.EventReady, evs[1].Type)
	assert.Equal(t, h.sim, evs[1].SimulationID)
	assert.Equal(t, string(simulation.StatusRunning), h.status(t))
}

type fakeExchange struct {
	placed []accounting.Side
	open   *exchange.Position
}

func (f *fakeExchange) Balance(context.Context) (decimal.Decimal, error) { return d("10000"), nil }

func (f *fakeExchange) PlaceOrder(_ context.Context, symbol string, side accounting.Side, qty decimal.Decimal) (exchange.Order, error) {
	f.placed = append(f.placed, side)
	f.open = &exchange.Position{ID: "pos-1", Symbol: symbol, Side: side, Quantity: qty, EntryPrice: d("101")}
	return exchange.Order{ID: "ord-1", Symbol: symbol, Side: side, Quantity: qty, Price: d("101")}, nil
}

func (f *fakeExchange) Position(context.Context, string) (*exchange.Position, error) {
	return f.open, nil
}

func (f *fakeExchange) ClosePosition(_ context.Context, id string) (exchange.Order, error) {
	f.open = nil
	return exchange.Order{ID: "ord-2", Price: d("120")}, nil
}

func TestCycle_LiveModeUsesExchangeFills(t *testing.T) {
	cfg := repotest.Config()
	cfg.Mode = simulation.ModeLive
	cfg.Exchange = simulation.ExchangeCoinbase
	venue := &fakeExchange{}
	exchanges := exchange.NewRegistry()
	exchanges.Register(simulation.ExchangeCoinbase, func(simulation.Config) (exchange.Client, error) { return venue, nil })

	store := repotest.New(t)
	sim := repotest.CreateSimulation(t, store, "live", cfg)
	_, err := store.UpdateStatus(context.Background(), sim.ID, repository.StatusUpdate{To: simulation.StatusRunning})
	require.NoError(t, err)
	providers := ai.NewRegistry()
	providers.Register(simulation.AIAnthropic, &fakeAI{signals: []accounting.Signal{accounting.SignalBullish, accounting.SignalBearish}})
	w := &Worker{
		SimulationID: sim.ID,
		Repo:         store,
		Market:       &fakeMarket{prices: []string{"100"}},
		Providers:    providers,
		Exchanges:    exchanges,
		Logger:       zap.NewNop(),
	}
	require.NoError(t, w.Init(context.Background()))

	res, err := w.cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, "101", res.Opened[0].EntryPrice.String())

	open, err := store.ListOpenTrades(context.Background(), sim.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NotNil(t, open[0].ExternalID)
	assert.Equal(t, "ord-1", *open[0].ExternalID)

	res, err = w.cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, "120", res.Closed[0].ExitPrice.String())
	assert.Equal(t, []accounting.Side{accounting.SideLong}, venue.placed)
}

// gatedAI blocks each call until release is closed or ctx ends.
type gatedAI struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedAI) Name() string { return "gated" }

func (g *gatedAI) Signal(ctx context.Context, _ ai.PromptContext) (ai.Signal, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return ai.Signal{Interpretation: accounting.SignalBullish, Reasoning: "late"}, nil
	case <-ctx.Done():
		return ai.Signal{}, simulation.Collaborator("ai", ctx.Err())
	}
}

func startGated(t *testing.T) (*harness, *gatedAI, chan ipc.Command, chan error) {
	t.Helper()
	h := newHarness(t, repotest.Config(), []string{"100"}, []accounting.Signal{accounting.SignalBullish})
	gate := &gatedAI{entered: make(chan struct{}), release: make(chan struct{})}
	h.worker.ai = gate
	h.worker.Options.Interval = 5 * time.Millisecond
	h.worker.Options.RequestTimeout = 5 * time.Second

	cmds := make(chan ipc.Command, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- h.worker.Run(context.Background(), cmds) }()
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never reached the AI call")
	}
	return h, gate, cmds, errCh
}

func TestRun_StopDuringInFlightCallSkipsRestOfCycle(t *testing.T) {
	h, gate, cmds, errCh := startGated(t)

	cmds <- ipc.Command{Type: ipc.CommandStop}
	select {
	case <-errCh:
		t.Fatal("worker exited before its in-flight call returned")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	sim, err := h.store.GetSimulation(context.Background(), h.sim)
	require.NoError(t, err)
	assert.Equal(t, string(simulation.StatusStopped), sim.Status)
	require.NotNil(t, sim.StatusReason)
	assert.Equal(t, ReasonUserStop, *sim.StatusReason)

	open, err := h.store.ListOpenTrades(context.Background(), h.sim)
	require.NoError(t, err)
	assert.Empty(t, open)
	for _, ev := range h.events.events(t) {
		assert.NotEqual(t, ipc.EventCycle, ev.Type)
	}
}

func TestRun_HeartbeatsGoSilentWhileCycleIsBlocked(t *testing.T) {
	h, gate, cmds, errCh := startGated(t)

	countBeats := func() int {
		n := 0
		for _, ev := range h.events.events(t) {
			if ev.Type == ipc.EventHeartbeat {
				n++
			}
		}
		return n
	}
	before := countBeats()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, countBeats(), "heartbeats kept flowing from a blocked loop")

	close(gate.release)
	require.Eventually(t, func() bool { return countBeats() > before }, time.Second, 5*time.Millisecond)

	cmds <- ipc.Command{Type: ipc.CommandStop}
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
