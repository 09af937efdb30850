package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aitrader/internal/accounting"
	"aitrader/internal/ai"
	"aitrader/internal/config"
	"aitrader/internal/exchange"
	"aitrader/internal/ipc"
	"aitrader/internal/marketdata"
	"aitrader/internal/models"
	"aitrader/internal/repository"
	"aitrader/internal/risk"
	"aitrader/internal/simulation"
)

var (
	// ErrFatal ends the worker after its error status is persisted.
	ErrFatal = errors.New("fatal worker error")
	// ErrControlLost means the manager side of the control channel is gone.
	ErrControlLost = errors.New("control channel closed")

	errStopRequested = errors.New("stop requested")
)

const (
	ReasonUserStop  = "stopped by user"
	ReasonCompleted = "completed"

	CloseSignal   = "signal"
	CloseDrawdown = "max_drawdown"
)

type MarketData interface {
	Context(ctx context.Context, symbol string) (marketdata.Quote, string, error)
}

type Providers interface {
	Get(key simulation.AIProvider) (ai.Provider, error)
}

type Exchanges interface {
	Client(cfg simulation.Config) (exchange.Client, error)
}

// Notifier is satisfied by notify.SimulationNotifier. Delivery is best effort.
type Notifier interface {
	Signal(ctx context.Context, interpretation, reasoning string) (*models.Notification, error)
	TradeOpened(ctx context.Context, side string, qty, price decimal.Decimal) (*models.Notification, error)
	TradeClosed(ctx context.Context, side string, entry, exit, pnl decimal.Decimal) (*models.Notification, error)
	Error(ctx context.Context, message string) (*models.Notification, error)
	Status(ctx context.Context, status, message string) (*models.Notification, error)
}

type Options struct {
	// Interval overrides check_interval_seconds when positive.
	Interval          time.Duration
	RequestTimeout    time.Duration
	MaxFailures       int
	HeartbeatInterval time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Interval:          cfg.Worker.IntervalOverride,
		RequestTimeout:    cfg.Worker.RequestTimeout,
		MaxFailures:       cfg.Worker.MaxConsecutiveFailures,
		HeartbeatInterval: cfg.Manager.HeartbeatInterval,
	}
}

// Worker runs the decision loop of one simulation. It owns the simulation's
// accounting while it runs and is driven by commands from the manager.
type Worker struct {
	SimulationID string
	Repo         repository.SimulationRepository
	Market       MarketData
	Providers    Providers
	Exchanges    Exchanges
	// NotifierFor builds the notifier once the simulation is loaded.
	NotifierFor func(sim *models.Simulation, cfg simulation.Config) Notifier
	Events      *ipc.Encoder
	Logger      *zap.Logger
	Options     Options

	sim      *models.Simulation
	cfg      simulation.Config
	ai       ai.Provider
	exchange exchange.Client
	notifier Notifier
	engine   *accounting.Engine
	risk     *risk.Manager
	failures int
	state    atomic.Value
	now      func() time.Time

	// stopRequested is set as soon as a stop command arrives, before the
	// loop gets to it, so a running cycle can end after its current call.
	stopRequested atomic.Bool
}

func (w *Worker) clock() time.Time {
	if w.now != nil {
		return w.now().UTC()
	}
	return time.Now().UTC()
}

func (w *Worker) currentState() string {
	if v, ok := w.state.Load().(string); ok {
		return v
	}
	return ipc.StateStarting
}

func (w *Worker) setState(s string) { w.state.Store(s) }

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrFatal)
}

// Init loads the simulation and rebuilds its accounting from the ledger.
// The manager persists running before spawning, so any other status is fatal.
func (w *Worker) Init(ctx context.Context) error {
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	w.setState(ipc.StateStarting)
	sim, err := w.Repo.GetSimulation(ctx, w.SimulationID)
	if err != nil {
		return fatalf("load simulation %s: %v", w.SimulationID, err)
	}
	w.sim = sim
	if simulation.Status(sim.Status) != simulation.StatusRunning {
		return fatalf("simulation %s is %s", sim.ID, sim.Status)
	}
	cfg, err := simulation.DecodeConfig(sim.Config)
	if err != nil {
		return fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return fatalf("%v", err)
	}
	w.cfg = cfg

	if w.Providers == nil {
		return fatalf("%s: %v", cfg.AIProvider, ai.ErrNotConfigured)
	}
	if w.ai, err = w.Providers.Get(cfg.AIProvider); err != nil {
		return fatalf("%v", err)
	}
	if cfg.Mode == simulation.ModeLive {
		if w.Exchanges == nil {
			return fatalf("%s: %v", cfg.Exchange, exchange.ErrNotConfigured)
		}
		if w.exchange, err = w.Exchanges.Client(cfg); err != nil {
			return fatalf("%v", err)
		}
	}

	account, err := w.Repo.GetAccount(ctx, sim.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load account: %w", err)
	}
	open, err := w.Repo.ListOpenTrades(ctx, sim.ID)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	state, err := accounting.Restore(cfg.InitialCapital, account, open)
	if err != nil {
		return fatalf("restore accounting: %v", err)
	}
	w.engine = accounting.NewEngine(accounting.ParamsFromConfig(cfg), state)
	w.risk = &risk.Manager{Config: cfg, SimulationID: sim.ID, Opens: w.Repo, Logger: w.Logger}

	w.notifier = nopNotifier{}
	if w.NotifierFor != nil {
		if n := w.NotifierFor(sim, cfg); n != nil {
			w.notifier = n
		}
	}
	if w.Options.Interval <= 0 {
		w.Options.Interval = time.Duration(cfg.CheckIntervalSeconds) * time.Second
	}
	if w.Options.RequestTimeout <= 0 {
		w.Options.RequestTimeout = 30 * time.Second
	}
	if w.Options.MaxFailures <= 0 {
		w.Options.MaxFailures = 3
	}
	if w.Options.HeartbeatInterval <= 0 {
		w.Options.HeartbeatInterval = 5 * time.Second
	}
	w.Logger.Info("worker initialized",
		zap.String("symbol", cfg.Symbol),
		zap.String("venue", string(cfg.Venue)),
		zap.String("mode", string(cfg.Mode)),
		zap.String("capital", state.Capital.StringFixed(2)),
		zap.Int("open_lots", len(state.Lots)),
		zap.Duration("interval", w.Options.Interval),
	)
	return nil
}

// Run drives the loop until stop, a terminal guard, a fatal error or loss of
// the command channel. Commands interrupt the wait between cycles at once; a
// stop that arrives mid-cycle ends the cycle after its in-flight call.
func (w *Worker) Run(ctx context.Context, cmds <-chan ipc.Command) error {
	w.setState(ipc.StateRunning)
	w.emit(ipc.Event{Type: ipc.EventReady, State: ipc.StateRunning})
	w.notifyStatus(ctx, "started", "")

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	inbox := w.relayCommands(relayCtx, cmds)

	every := w.Options.HeartbeatInterval
	if every <= 0 {
		every = 5 * time.Second
	}
	heartbeat := time.NewTicker(every)
	defer heartbeat.Stop()

	timer := time.NewTimer(w.Options.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-inbox:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.Logger.Warn("control channel closed; exiting without status change")
				return ErrControlLost
			}
			if done, err := w.handle(ctx, cmd); done {
				return err
			}
		case <-heartbeat.C:
			w.beat()
		case <-timer.C:
			if w.currentState() == ipc.StateRunning {
				if done, err := w.tick(ctx); done {
					return err
				}
			}
			timer.Reset(w.Options.Interval)
		}
	}
}

// relayCommands forwards cmds to the loop and flags a stop on arrival.
// The returned channel is closed when cmds is closed or ctx ends.
func (w *Worker) relayCommands(ctx context.Context, cmds <-chan ipc.Command) <-chan ipc.Command {
	out := make(chan ipc.Command, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-cmds:
				if !ok {
					return
				}
				if cmd.Type == ipc.CommandStop {
					w.stopRequested.Store(true)
				}
				select {
				case out <- cmd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (w *Worker) stopPending() bool { return w.stopRequested.Load() }

func (w *Worker) handle(ctx context.Context, cmd ipc.Command) (bool, error) {
	w.Logger.Info("command received", zap.String("command", string(cmd.Type)), zap.String("state", w.currentState()))
	switch cmd.Type {
	case ipc.CommandPause:
		if w.currentState() == ipc.StateRunning {
			w.setState(ipc.StatePaused)
			w.emit(ipc.Event{Type: ipc.EventStatus, State: ipc.StatePaused})
			w.notifyStatus(ctx, "paused", "")
		}
	case ipc.CommandResume:
		if w.currentState() == ipc.StatePaused {
			w.setState(ipc.StateRunning)
			w.emit(ipc.Event{Type: ipc.EventStatus, State: ipc.StateRunning})
			w.notifyStatus(ctx, "resumed", "")
		}
	case ipc.CommandStop:
		w.setState(ipc.StateStopping)
		w.emit(ipc.Event{Type: ipc.EventStatus, State: ipc.StateStopping})
		return true, w.finish(ctx, simulation.StatusStopped, ReasonUserStop, "", ipc.StateStopped)
	default:
		w.Logger.Warn("unknown command ignored", zap.String("command", string(cmd.Type)))
	}
	return false, nil
}

// tick runs one cycle and applies the failure policy.
func (w *Worker) tick(ctx context.Context) (bool, error) {
	if w.stopPending() {
		return w.handle(ctx, ipc.Command{Type: ipc.CommandStop})
	}
	res, err := w.cycle(ctx)
	if errors.Is(err, errStopRequested) {
		w.Logger.Info("stop requested mid-cycle; remaining calls skipped")
		return w.handle(ctx, ipc.Command{Type: ipc.CommandStop})
	}
	if err == nil {
		w.failures = 0
		w.emitCycle(res)
		if res.Status != nil {
			w.setState(res.State)
			w.emit(ipc.Event{Type: ipc.EventStatus, State: res.State, Reason: res.Status.Reason})
			w.notifyStatus(ctx, "stopped", res.Status.Reason)
			return true, nil
		}
		return false, nil
	}

	if errors.Is(err, simulation.ErrInvalidTransition) {
		w.Logger.Warn("simulation no longer active; exiting", zap.Error(err))
		w.setState(ipc.StateStopped)
		return true, nil
	}
	if errors.Is(err, ErrFatal) {
		w.fail(ctx, err.Error())
		return true, err
	}
	w.failures++
	w.Logger.Warn("cycle failed",
		zap.Int("consecutive_failures", w.failures),
		zap.Int("max_failures", w.Options.MaxFailures),
		zap.Error(err),
	)
	w.emit(ipc.Event{Type: ipc.EventError, Message: err.Error()})
	if w.failures >= w.Options.MaxFailures {
		msg := fmt.Sprintf("%d consecutive failures: %v", w.failures, err)
		w.fail(ctx, msg)
		return true, fmt.Errorf("%s: %w", msg, ErrFatal)
	}
	return false, nil
}

// finish persists the final snapshot together with a terminal status.
func (w *Worker) finish(ctx context.Context, to simulation.Status, reason, message, state string) error {
	update := &repository.StatusUpdate{To: to, Reason: reason, ErrorMessage: message}
	exec := repository.Execution{SimulationID: w.SimulationID, Status: update}
	if w.engine != nil {
		account, err := w.engine.Snapshot(w.SimulationID)
		if err != nil {
			return fatalf("snapshot: %v", err)
		}
		exec.Account = account
	}
	err := w.Repo.RecordExecution(ctx, exec)
	if err != nil {
		w.Logger.Error("persist final status failed", zap.String("to", string(to)), zap.Error(err))
	}
	w.setState(state)
	w.emit(ipc.Event{Type: ipc.EventStatus, State: state, Reason: reason, Message: message})
	if to == simulation.StatusError {
		w.notifyError(ctx, message)
	} else {
		w.notifyStatus(ctx, string(to), reason)
	}
	if err != nil && !errors.Is(err, simulation.ErrInvalidTransition) {
		return err
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, message string) {
	w.Logger.Error("worker failed", zap.String("error", message))
	_ = w.finish(ctx, simulation.StatusError, "", message, ipc.StateError)
}

// ReportInitFailure persists error for a simulation that could not start.
func (w *Worker) ReportInitFailure(ctx context.Context, err error) {
	if w.sim == nil || simulation.Status(w.sim.Status) != simulation.StatusRunning {
		w.emit(ipc.Event{Type: ipc.EventError, State: ipc.StateError, Message: err.Error()})
		return
	}
	w.fail(ctx, err.Error())
}

// beat reports loop progress. It is emitted from the loop itself, between
// waits and after every collaborator call, so a wedged cycle goes silent.
func (w *Worker) beat() {
	w.emit(ipc.Event{Type: ipc.EventHeartbeat, State: w.currentState()})
}

func (w *Worker) emit(ev ipc.Event) {
	if w.Events == nil {
		return
	}
	ev.SimulationID = w.SimulationID
	ev.PID = os.Getpid()
	ev.Time = w.clock()
	if err := w.Events.Encode(ev); err != nil && w.Logger != nil {
		w.Logger.Debug("emit event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (w *Worker) notifyStatus(ctx context.Context, status, message string) {
	if w.notifier == nil {
		return
	}
	if _, err := w.notifier.Status(ctx, status, message); err != nil {
		w.Logger.Warn("status notification failed", zap.Error(err))
	}
}

func (w *Worker) notifyError(ctx context.Context, message string) {
	if w.notifier == nil {
		return
	}
	if _, err := w.notifier.Error(ctx, message); err != nil {
		w.Logger.Warn("error notification failed", zap.Error(err))
	}
}

type nopNotifier struct{}

func (nopNotifier) Signal(context.Context, string, string) (*models.Notification, error) {
	return nil, nil
}

func (nopNotifier) TradeOpened(context.Context, string, decimal.Decimal, decimal.Decimal) (*models.Notification, error) {
	return nil, nil
}

func (nopNotifier) TradeClosed(context.Context, string, decimal.Decimal, decimal.Decimal, decimal.Decimal) (*models.Notification, error) {
	return nil, nil
}

func (nopNotifier) Error(context.Context, string) (*models.Notification, error) { return nil, nil }

func (nopNotifier) Status(context.Context, string, string) (*models.Notification, error) {
	return nil, nil
}
