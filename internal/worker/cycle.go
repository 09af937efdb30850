package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aitrader/internal/accounting"
	"aitrader/internal/ai"
	"aitrader/internal/exchange"
	"aitrader/internal/ipc"
	"aitrader/internal/models"
	"aitrader/internal/repository"
	"aitrader/internal/risk"
	"aitrader/internal/simulation"
)

type openedLot struct {
	accounting.Lot
	ExternalID *string
}

// cycleResult is everything one iteration changed. It is persisted in one
// transaction before any event or notification leaves the worker.
type cycleResult struct {
	Iteration int
	Price     decimal.Decimal
	Signal    ai.Signal
	Action    accounting.Action
	Skipped   string
	Opened    []openedLot
	Closed    []accounting.ClosedLot
	Status    *repository.StatusUpdate
	State     string

	ordersPlaced bool
}

func (w *Worker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.Options.RequestTimeout)
}

// afterCall marks progress once a collaborator call returned and reports
// whether a stop arrived while it was in flight.
func (w *Worker) afterCall() bool {
	w.beat()
	return w.stopPending()
}

// cycle is one iteration: market context, AI signal, stop-loss, decision,
// execution, guards and persistence. On error the in-memory accounting is
// rolled back so it keeps matching the ledger. A stop that arrives before
// the decision returns errStopRequested with nothing changed.
func (w *Worker) cycle(ctx context.Context) (*cycleResult, error) {
	callCtx, cancel := w.withTimeout(ctx)
	quote, marketContext, err := w.Market.Context(callCtx, w.cfg.Symbol)
	cancel()
	if w.afterCall() {
		return nil, errStopRequested
	}
	if err != nil {
		return nil, err
	}
	if !quote.Price.IsPositive() {
		return nil, simulation.Collaborator("market_data", accounting.ErrInvalidPrice)
	}

	callCtx, cancel = w.withTimeout(ctx)
	signal, err := w.ai.Signal(callCtx, ai.PromptContext{
		Symbol:        w.cfg.Symbol,
		CryptoName:    w.cfg.CryptoName,
		MarketContext: marketContext,
	})
	cancel()
	if w.afterCall() {
		return nil, errStopRequested
	}
	if err != nil {
		return nil, err
	}

	before := w.engine.State.Clone()
	res, err := w.apply(ctx, quote.Price, signal)
	if err == nil {
		err = w.persist(ctx, res)
	}
	if err != nil {
		w.engine.State = before
		if res != nil && res.ordersPlaced && !errors.Is(err, ErrFatal) {
			// The venue has filled orders the ledger does not know about.
			err = fatalf("ledger diverged from exchange: %v", err)
		}
		return nil, err
	}
	w.publish(ctx, res)
	return res, nil
}

func (w *Worker) apply(ctx context.Context, price decimal.Decimal, signal ai.Signal) (*cycleResult, error) {
	e := w.engine
	now := w.clock()
	e.State.Iterations++
	e.Mark(price)
	res := &cycleResult{Iteration: e.State.Iterations, Price: price, Signal: signal}

	pos := e.State.Position()
	if w.risk.StopLossHit(pos, price) {
		kind := accounting.ActionCloseLong
		if pos.Side == accounting.SideShort {
			kind = accounting.ActionCloseShort
		}
		res.Action = accounting.Action{Kind: kind, Signal: signal.Interpretation}
		w.Logger.Info("stop loss triggered",
			zap.String("side", string(pos.Side)),
			zap.String("avg_entry", pos.AvgEntry.String()),
			zap.String("price", price.String()),
		)
		if err := w.closeAll(ctx, res, price, risk.ReasonStopLoss); err != nil {
			return res, err
		}
	} else {
		res.Action = accounting.Decide(w.cfg.Venue, signal.Interpretation, pos)
		if err := w.execute(ctx, res, price, now); err != nil {
			return res, err
		}
	}

	switch {
	case w.risk.DrawdownBreached(e.DrawdownPercent()):
		w.Logger.Warn("max drawdown exceeded; stopping",
			zap.String("drawdown_pct", e.DrawdownPercent().StringFixed(2)),
			zap.String("limit_pct", w.cfg.MaxDrawdownPercent.String()),
		)
		if e.State.Position().Open() {
			if err := w.closeAll(ctx, res, price, CloseDrawdown); err != nil {
				return res, err
			}
		}
		res.Status = &repository.StatusUpdate{To: simulation.StatusStopped, Reason: risk.ReasonMaxDrawdown}
		res.State = ipc.StateStopped
	case w.cfg.MaxIterations > 0 && e.State.Iterations >= w.cfg.MaxIterations:
		res.Status = &repository.StatusUpdate{To: simulation.StatusStopped, Reason: ReasonCompleted}
		res.State = ipc.StateCompleted
	}
	return res, nil
}

func (w *Worker) execute(ctx context.Context, res *cycleResult, price decimal.Decimal, now time.Time) error {
	action := res.Action
	if action.Kind == accounting.ActionSkippedUnsupported {
		res.Skipped = "spot venue cannot short"
		return nil
	}
	if action.Closes() {
		if err := w.closeAll(ctx, res, price, CloseSignal); err != nil {
			return err
		}
	}
	side, opens := action.Opens()
	if !opens {
		return nil
	}
	if w.stopPending() {
		res.Skipped = "stop requested"
		return nil
	}
	allowed, err := w.risk.AllowOpen(ctx, now)
	if err != nil {
		return err
	}
	if !allowed {
		res.Skipped = risk.ReasonDailyLimit
		return nil
	}
	qty, warnings := w.risk.SizeOrder(w.engine, price)
	if !qty.IsPositive() {
		res.Skipped = "order size below quantity step"
		w.Logger.Info("open skipped", zap.String("reason", res.Skipped), zap.Strings("warnings", warnings))
		return nil
	}
	return w.open(ctx, res, side, price, qty)
}

func (w *Worker) open(ctx context.Context, res *cycleResult, side accounting.Side, price, qty decimal.Decimal) error {
	fill := price
	var externalID *string
	if w.exchange != nil {
		callCtx, cancel := w.withTimeout(ctx)
		order, err := w.exchange.PlaceOrder(callCtx, w.cfg.Symbol, side, qty)
		cancel()
		w.beat()
		if errors.Is(err, exchange.ErrUnsupported) {
			res.Action.Kind = accounting.ActionSkippedUnsupported
			res.Skipped = err.Error()
			return nil
		}
		if err != nil {
			return simulation.Collaborator("exchange", err)
		}
		res.ordersPlaced = true
		if order.Price.IsPositive() {
			fill = order.Price
		}
		if order.Quantity.IsPositive() {
			qty = order.Quantity
		}
		if order.ID != "" {
			id := order.ID
			externalID = &id
		}
	}

	lot, err := w.engine.Open(side, fill, qty)
	switch {
	case errors.Is(err, accounting.ErrInsufficientCapital), errors.Is(err, accounting.ErrQuantityTooSmall):
		if res.ordersPlaced {
			return fatalf("filled order rejected by accounting: %v", err)
		}
		res.Skipped = err.Error()
		w.Logger.Info("open skipped", zap.Error(err))
		return nil
	case err != nil:
		return fatalf("open %s: %v", side, err)
	}
	res.Opened = append(res.Opened, openedLot{Lot: lot, ExternalID: externalID})
	return nil
}

func (w *Worker) closeAll(ctx context.Context, res *cycleResult, price decimal.Decimal, reason string) error {
	if !w.engine.State.Position().Open() {
		return nil
	}
	fill := price
	if w.exchange != nil {
		callCtx, cancel := w.withTimeout(ctx)
		defer cancel()
		pos, err := w.exchange.Position(callCtx, w.cfg.Symbol)
		w.beat()
		if err != nil {
			return simulation.Collaborator("exchange", err)
		}
		if pos != nil {
			order, err := w.exchange.ClosePosition(callCtx, pos.ID)
			w.beat()
			if err != nil {
				return simulation.Collaborator("exchange", err)
			}
			res.ordersPlaced = true
			if order.Price.IsPositive() {
				fill = order.Price
			}
		}
	}
	closed, err := w.engine.Close(fill, reason)
	if err != nil {
		return fatalf("close: %v", err)
	}
	res.Closed = append(res.Closed, closed...)
	return nil
}

func (w *Worker) persist(ctx context.Context, res *cycleResult) error {
	account, err := w.engine.Snapshot(w.SimulationID)
	if err != nil {
		return fatalf("snapshot: %v", err)
	}
	exec := repository.Execution{
		SimulationID: w.SimulationID,
		Account:      account,
		Status:       res.Status,
	}
	for _, l := range res.Opened {
		exec.Opened = append(exec.Opened, models.SimulationTrade{
			ID:             l.ID,
			Symbol:         w.cfg.Symbol,
			Action:         string(res.Action.Kind),
			Side:           string(l.Side),
			Quantity:       l.Quantity,
			EntryPrice:     l.EntryPrice,
			EntryFee:       l.EntryFee,
			Interpretation: string(res.Signal.Interpretation),
			ExternalID:     l.ExternalID,
			CreatedAt:      l.OpenedAt,
		})
	}
	for _, c := range res.Closed {
		exec.Closed = append(exec.Closed, repository.TradeClose{
			TradeID:     c.ID,
			ExitPrice:   c.ExitPrice,
			ExitFee:     c.ExitFee,
			RealizedPnL: c.RealizedPnL,
			Reason:      c.Reason,
			ClosedAt:    c.ClosedAt,
		})
	}
	if err := w.Repo.RecordExecution(ctx, exec); err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// publish emits trade events and sends notifications for a persisted cycle.
func (w *Worker) publish(ctx context.Context, res *cycleResult) {
	if _, err := w.notifier.Signal(ctx, displaySignal(res.Signal.Interpretation), res.Signal.Reasoning); err != nil {
		w.Logger.Warn("signal notification failed", zap.Error(err))
	}
	for _, c := range res.Closed {
		pnl := c.RealizedPnL
		w.emit(ipc.Event{Type: ipc.EventTrade, Trade: &ipc.Trade{
			TradeID:     c.ID,
			Action:      "close",
			Side:        string(c.Side),
			Symbol:      w.cfg.Symbol,
			Quantity:    c.Quantity,
			Price:       c.ExitPrice,
			Fee:         c.ExitFee,
			RealizedPnL: &pnl,
			CloseReason: c.Reason,
		}})
		if _, err := w.notifier.TradeClosed(ctx, string(c.Side), c.EntryPrice, c.ExitPrice, c.RealizedPnL); err != nil {
			w.Logger.Warn("trade notification failed", zap.Error(err))
		}
	}
	for _, l := range res.Opened {
		w.risk.NoteOpen(l.OpenedAt)
		w.emit(ipc.Event{Type: ipc.EventTrade, Trade: &ipc.Trade{
			TradeID:  l.ID,
			Action:   "open",
			Side:     string(l.Side),
			Symbol:   w.cfg.Symbol,
			Quantity: l.Quantity,
			Price:    l.EntryPrice,
			Fee:      l.EntryFee,
		}})
		if _, err := w.notifier.TradeOpened(ctx, string(l.Side), l.Quantity, l.EntryPrice); err != nil {
			w.Logger.Warn("trade notification failed", zap.Error(err))
		}
	}
	w.Logger.Info("cycle complete",
		zap.Int("iteration", res.Iteration),
		zap.String("price", res.Price.String()),
		zap.String("signal", string(res.Signal.Interpretation)),
		zap.String("action", string(res.Action.Kind)),
		zap.String("skipped", res.Skipped),
		zap.String("capital", w.engine.State.Capital.StringFixed(2)),
		zap.String("equity", w.engine.State.Equity.StringFixed(2)),
	)
}

func (w *Worker) emitCycle(res *cycleResult) {
	s := w.engine.State
	w.emit(ipc.Event{Type: ipc.EventCycle, Cycle: &ipc.Cycle{
		Iteration:      res.Iteration,
		Price:          res.Price,
		Interpretation: string(res.Signal.Interpretation),
		Action:         string(res.Action.Kind),
		Capital:        s.Capital,
		Equity:         s.Equity,
		Drawdown:       s.Drawdown,
		Failures:       w.failures,
	}})
}

func displaySignal(s accounting.Signal) string {
	v := string(s)
	if v == "" {
		return v
	}
	return strings.ToUpper(v[:1]) + v[1:]
}
