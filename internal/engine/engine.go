package engine

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"autotrader/internal/broker"
	"autotrader/internal/lifecycle"
	"autotrader/internal/marketdata"
	"autotrader/internal/models"
	"autotrader/internal/modules/config"
	health "autotrader/internal/modules/health/service"
	"autotrader/internal/notify"
	"autotrader/internal/persist"
	"autotrader/internal/risk"
	"autotrader/internal/signal"
	"autotrader/internal/tracker"
	"autotrader/pkg/logger"
)

// Engine runs the decision loop: refresh broker truth, score the
// watchlist, advance the position lifecycle, execute exits and entries,
// persist a snapshot. One cycle per poll interval, strictly sequential;
// every other goroutine only reads.
type Engine struct {
	cfg     *config.Config
	symbols []string

	broker     broker.Broker
	tracker    *tracker.Tracker
	aggregator *signal.Aggregator
	gate       *risk.Gate
	riskState  *risk.State
	freq       *risk.FrequencyGuard
	machine    *lifecycle.Machine
	market     marketdata.Provider
	prices     *marketdata.PriceCache
	sentiment  sentimentSource
	tradeLog   persist.TradeLog
	snapshots  *persist.SnapshotStore
	notifier   notify.Notifier
	health     *health.State

	now func() time.Time

	cycle uint64

	// view is the cross-goroutine read surface for /positions and status.
	viewMu sync.Mutex
	view   []models.Position
}

type sentimentSource interface {
	Fetch(ctx context.Context, symbol string) (*models.SentimentSample, error)
}

type Deps struct {
	Config     *config.Config
	Symbols    []string
	Broker     broker.Broker
	Tracker    *tracker.Tracker
	Aggregator *signal.Aggregator
	Gate       *risk.Gate
	Machine    *lifecycle.Machine
	Market     marketdata.Provider
	Prices     *marketdata.PriceCache
	Sentiment  sentimentSource
	TradeLog   persist.TradeLog
	Snapshots  *persist.SnapshotStore
	Notifier   notify.Notifier
	Health     *health.State
}

// New builds the engine, restoring risk state and positions from the last
// snapshot. A corrupted snapshot is a startup error: the process must not
// trade on a guessed state.
func New(d Deps) (*Engine, error) {
	e := &Engine{
		cfg:        d.Config,
		symbols:    d.Symbols,
		broker:     d.Broker,
		tracker:    d.Tracker,
		aggregator: d.Aggregator,
		gate:       d.Gate,
		machine:    d.Machine,
		market:     d.Market,
		prices:     d.Prices,
		sentiment:  d.Sentiment,
		tradeLog:   d.TradeLog,
		snapshots:  d.Snapshots,
		notifier:   d.Notifier,
		health:     d.Health,
		now:        func() time.Time { return time.Now().UTC() },
	}

	snap, err := d.Snapshots.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}

	e.freq = risk.NewFrequencyGuard(d.Config)
	if snap == nil {
		e.riskState = risk.NewState(e.now())
	} else {
		e.riskState = risk.Restore(snap.Risk)
		e.freq.Restore(snap.Risk.TradeTimes)
		e.machine.Restore(snap.Positions)
		logger.Info("restored snapshot: %d positions, halted=%v, losses=%d",
			len(snap.Positions), snap.Risk.Halted, snap.Risk.ConsecutiveLosses)
	}
	return e, nil
}

// Run executes cycles until ctx is canceled. A cycle in flight always
// finishes; cancellation is only observed between cycles.
func (e *Engine) Run(ctx context.Context) {
	e.health.SetReady(true)
	defer e.health.SetReady(false)

	e.runCycle(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("engine stopping after %d cycles", e.cycle)
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	span := opentracing.StartSpan("decision_cycle")
	defer span.Finish()
	spanCtx := opentracing.ContextWithSpan(ctx, span)

	e.cycle++
	now := e.now()
	span.SetTag("cycle", e.cycle)

	if e.riskState.Rollover(now) {
		logger.Info("session rollover: %s", now.Format("2006-01-02"))
		if e.riskState.ClearHalt(models.HaltDailyLoss) {
			logger.Info("daily loss halt cleared with the new session")
		}
		e.notifier.Sendf("new session %s: daily counters reset", now.Format("2006-01-02"))
	}

	brokerTruth, trackErr := e.tracker.Refresh(spanCtx)
	if trackErr != nil {
		if halted, _ := e.riskState.Halted(); !halted {
			e.riskState.Halt(models.HaltTrackingUnavailable)
			e.notifier.Sendf("⚠️ position tracking unavailable, entries halted: %v", trackErr)
		}
		logger.Error("cycle %d: %v", e.cycle, trackErr)
	} else {
		if e.riskState.ClearHalt(models.HaltTrackingUnavailable) {
			e.notifier.Send("position tracking recovered, entries resumed")
		}
		e.reconcile(spanCtx, brokerTruth)
	}

	e.confirmOrders(spanCtx, now)

	snapshots := e.fetchSnapshots(spanCtx)
	priceMap := e.priceMap(snapshots, now)

	e.runExits(spanCtx, snapshots, priceMap, now)

	if halted, reason := e.riskState.Halted(); halted {
		logger.Info("cycle %d: entries skipped, halted (%s)", e.cycle, reason)
	} else if trackErr == nil {
		e.runEntries(spanCtx, snapshots, priceMap, now)
	}

	e.saveSnapshot()
	e.publishView(now)
}

// reconcile aligns the machine with broker truth. A position the broker no
// longer reports was closed externally; drop it and tell the operator.
func (e *Engine) reconcile(ctx context.Context, truth map[string]models.BrokerPosition) {
	for _, p := range e.machine.Open() {
		if _, held := truth[p.Symbol]; !held {
			logger.Info("reconcile: %s closed externally, dropping", p.Symbol)
			e.notifier.Sendf("%s no longer held at broker, removed from tracking", p.Symbol)
			e.machine.Drop(p.Symbol)
		}
	}
}

// confirmOrders resolves in-flight orders: pending entries and submitted
// exits. Pendings older than the timeout are canceled and dropped.
func (e *Engine) confirmOrders(ctx context.Context, now time.Time) {
	for _, p := range e.machine.All() {
		switch p.Status {
		case models.StatusPending:
			order, err := e.broker.Order(ctx, p.OrderID)
			if err != nil {
				logger.Error("entry order lookup %s: %v", p.Symbol, err)
				continue
			}
			switch order.Status {
			case models.OrderFilled:
				if _, err := e.machine.ConfirmEntry(p.Symbol, order.FilledPx, order.FilledQty, now); err != nil {
					logger.Error("confirm entry %s: %v", p.Symbol, err)
					continue
				}
				logger.Info("entry filled: %s %s qty=%g px=%g", p.Symbol, p.Side, order.FilledQty, order.FilledPx)
				e.notifier.Sendf("opened %s %s qty=%g @ %g", p.Side, p.Symbol, order.FilledQty, order.FilledPx)
			case models.OrderRejected, models.OrderCanceled:
				logger.Info("entry %s %s: %s", p.Symbol, p.OrderID, order.Status)
				if err := e.machine.RejectEntry(p.Symbol); err != nil {
					logger.Error("reject entry %s: %v", p.Symbol, err)
					continue
				}
				e.freq.Remove(p.SubmittedAt)
			}

		case models.StatusExiting:
			if p.ExitOrderID == "" {
				continue
			}
			order, err := e.broker.Order(ctx, p.ExitOrderID)
			if err != nil {
				logger.Error("exit order lookup %s: %v", p.Symbol, err)
				continue
			}
			switch order.Status {
			case models.OrderFilled:
				e.finishExit(ctx, p.Symbol, order.FilledPx, now)
			case models.OrderRejected, models.OrderCanceled:
				e.exitFailed(p.Symbol)
			}
		}
	}

	for _, p := range e.machine.ExpirePending(now, e.cfg.PendingTimeout) {
		logger.Info("pending entry expired: %s (order %s)", p.Symbol, p.OrderID)
		if err := e.broker.Cancel(ctx, p.OrderID); err != nil {
			logger.Error("cancel expired order %s: %v", p.OrderID, err)
		}
		e.freq.Remove(p.SubmittedAt)
		e.notifier.Sendf("entry order for %s expired unfilled, canceled", p.Symbol)
	}
}

// fetchSnapshots pulls candle history for the whole watchlist concurrently.
// A symbol whose data is unavailable is skipped this cycle, nothing more.
func (e *Engine) fetchSnapshots(ctx context.Context) map[string]*models.MarketSnapshot {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]*models.MarketSnapshot, len(e.symbols))
	)
	for _, sym := range e.symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			snap, err := e.market.Fetch(ctx, sym)
			if err != nil {
				logger.Error("market data %s: %v", sym, err)
				return
			}
			mu.Lock()
			out[sym] = snap
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return out
}

// priceMap picks the freshest price per symbol: the stream cache when it
// has one, the snapshot close otherwise.
func (e *Engine) priceMap(snapshots map[string]*models.MarketSnapshot, now time.Time) map[string]float64 {
	out := make(map[string]float64, len(snapshots))
	for sym, snap := range snapshots {
		out[sym] = snap.Price
		if px, ok := e.prices.LastPrice(sym); ok {
			out[sym] = px
		}
	}
	// open positions must keep a price even when this cycle's fetch failed
	for _, p := range e.machine.Open() {
		if _, ok := out[p.Symbol]; ok {
			continue
		}
		if px, ok := e.prices.LastPrice(p.Symbol); ok {
			out[p.Symbol] = px
		}
	}
	return out
}
