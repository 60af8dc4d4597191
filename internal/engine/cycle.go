package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/models"
	"autotrader/internal/signal"
	"autotrader/pkg/logger"
)

// runExits evaluates exit triggers on every open position and submits the
// resulting orders. Exits run on every cycle, halted or not: risk halts
// stop new exposure, never the unwinding of existing exposure.
func (e *Engine) runExits(ctx context.Context, snapshots map[string]*models.MarketSnapshot, priceMap map[string]float64, now time.Time) {
	reversals := make(map[string]bool)
	for _, p := range e.machine.Open() {
		if snap, ok := snapshots[p.Symbol]; ok {
			reversals[p.Symbol] = e.aggregator.Reversal(snap, p.Side)
		}
	}

	for _, action := range e.machine.Advance(priceMap, reversals) {
		p := action.Position
		logger.Info("exit triggered: %s %s @ %g (%s)", p.Symbol, p.Side, action.Price, action.Trigger)

		req := models.OrderRequest{
			ClientID: uuid.New().String(),
			Symbol:   p.Symbol,
			Side:     p.ExitSide(),
			Qty:      p.Qty,
			Kind:     "market",
		}
		order, err := e.broker.Submit(ctx, req)
		if err != nil {
			logger.Error("exit submit %s: %v", p.Symbol, err)
			e.exitFailed(p.Symbol)
			continue
		}

		p.ExitOrderID = order.ClientID
		if order.Status == models.OrderFilled {
			e.finishExit(ctx, p.Symbol, order.FilledPx, now)
		}
	}
}

// finishExit closes the position, persists the trade and feeds the outcome
// into the risk state.
func (e *Engine) finishExit(ctx context.Context, symbol string, fillPx float64, now time.Time) {
	rec, err := e.machine.ConfirmExit(symbol, fillPx, now)
	if err != nil {
		logger.Error("confirm exit %s: %v", symbol, err)
		return
	}

	if err := e.tradeLog.Append(ctx, rec); err != nil {
		logger.Error("trade log %s: %v", symbol, err)
	}

	tripped := e.riskState.ApplyOutcome(rec.PnL, e.cfg.Risk.LossHaltThreshold)
	logger.Info("closed %s %s pnl=%.2f reason=%s streak=%d",
		rec.Symbol, rec.Side, rec.PnL, rec.Reason, e.riskState.LossStreak())
	e.notifier.Sendf("closed %s %s @ %g, pnl %.2f (%s)",
		rec.Side, rec.Symbol, rec.ExitPrice, rec.PnL, rec.Reason)

	if tripped {
		e.notifier.Sendf("🛑 %d consecutive losses, trading halted. /resume to continue.",
			e.riskState.LossStreak())
	}
}

// exitFailed reverts the position to OPEN for a retry next cycle and
// escalates once the retry budget is spent. The position stays tracked no
// matter what.
func (e *Engine) exitFailed(symbol string) {
	attempts, err := e.machine.ExitFailed(symbol)
	if err != nil {
		logger.Error("exit failed bookkeeping %s: %v", symbol, err)
		return
	}
	if attempts >= e.cfg.Risk.ExitRetryMax {
		logger.Error("exit for %s failed %d times, manual intervention required", symbol, attempts)
		e.notifier.Sendf("🚨 cannot close %s after %d attempts, close it manually", symbol, attempts)
	}
}

// runEntries scores the watchlist and opens new positions that pass the
// frequency guard and the risk gate.
func (e *Engine) runEntries(ctx context.Context, snapshots map[string]*models.MarketSnapshot, priceMap map[string]float64, now time.Time) {
	account, err := e.broker.Account(ctx)
	if err != nil {
		logger.Error("account fetch: %v", err)
		return
	}
	if account.Blocked {
		logger.Info("account blocked for trading, entries skipped")
		return
	}
	if account.Equity <= 0 {
		return
	}

	if lim := e.cfg.Risk.DailyLossLimitPct; lim > 0 {
		if pnl := e.riskState.RealizedPnL(); pnl <= -account.Equity*lim/100 {
			e.riskState.Halt(models.HaltDailyLoss)
			logger.Info("daily loss limit breached: realized %.2f, limit %.1f%% of %.2f", pnl, lim, account.Equity)
			e.notifier.Sendf("⛔ daily loss limit hit (%.2f), entries halted until the next session", pnl)
			return
		}
	}

	book := e.buildBook(snapshots, account.Equity)

	for _, sym := range e.symbols {
		snap, ok := snapshots[sym]
		if !ok {
			continue
		}
		if _, exists := e.machine.Get(sym); exists {
			continue
		}

		sent, serr := e.sentiment.Fetch(ctx, sym)
		if serr != nil {
			logger.Error("sentiment %s: %v", sym, serr)
			sent = nil
		}

		sig := e.aggregator.Score(snap, sent, book)
		if sig.Side == "" || sig.Confidence < e.cfg.Signal.MinConfidence {
			continue
		}

		if !e.freq.Allow(now) {
			logger.Info("entry %s skipped: trade frequency limit", sym)
			continue
		}

		frac, gerr := e.gate.Size(account.Equity, sig.Confidence, e.riskState, e.machine.OpenCount())
		if gerr != nil {
			logger.Info("entry %s rejected: %v", sym, gerr)
			continue
		}

		px := priceMap[sym]
		if px <= 0 {
			continue
		}
		qty := account.Equity * frac / px
		if qty <= 0 {
			continue
		}

		req := models.OrderRequest{
			ClientID: uuid.New().String(),
			Symbol:   sym,
			Side:     sig.Side,
			Qty:      qty,
			Kind:     "market",
		}
		order, oerr := e.broker.Submit(ctx, req)
		if oerr != nil {
			logger.Error("entry submit %s: %v", sym, oerr)
			continue
		}

		pos := &models.Position{
			Symbol:      sym,
			Side:        sig.Side,
			Qty:         qty,
			Confidence:  sig.Confidence,
			OrderID:     order.ClientID,
			SubmittedAt: now,
		}
		if err := e.machine.OpenPending(pos); err != nil {
			logger.Error("track pending %s: %v", sym, err)
			continue
		}
		e.freq.Record(now)

		logger.Info("entry submitted: %s %s qty=%g conf=%.3f size=%.2f%%",
			sig.Side, sym, qty, sig.Confidence, frac*100)

		if order.Status == models.OrderFilled {
			if _, err := e.machine.ConfirmEntry(sym, order.FilledPx, order.FilledQty, now); err != nil {
				logger.Error("confirm entry %s: %v", sym, err)
				continue
			}
			e.notifier.Sendf("opened %s %s qty=%g @ %g (conf %.2f)",
				sig.Side, sym, order.FilledQty, order.FilledPx, sig.Confidence)
		}
	}
}

// buildBook assembles the open-position view the risk component scores
// against: per-symbol return series plus portfolio heat.
func (e *Engine) buildBook(snapshots map[string]*models.MarketSnapshot, equity float64) signal.Book {
	open := e.machine.Open()
	book := signal.Book{OpenReturns: make(map[string][]float64, len(open))}

	notional := 0.0
	for _, p := range open {
		notional += p.Entry * p.Qty
		if snap, ok := snapshots[p.Symbol]; ok {
			book.OpenReturns[p.Symbol] = snap.Returns()
		}
	}
	if equity > 0 {
		book.Heat = notional / equity
	}
	return book
}

func (e *Engine) saveSnapshot() {
	riskSnap := e.riskState.Snapshot()
	riskSnap.TradeTimes = e.freq.Times()
	snap := models.EngineSnapshot{
		Risk:      riskSnap,
		Positions: e.machine.All(),
	}
	if err := e.snapshots.Save(snap); err != nil {
		logger.Error("snapshot save: %v", err)
	}
}

// publishView refreshes the cross-goroutine status surface at cycle end.
func (e *Engine) publishView(now time.Time) {
	positions := e.machine.All()

	e.viewMu.Lock()
	e.view = positions
	e.viewMu.Unlock()

	halted, reason := e.riskState.Halted()
	open := 0
	for _, p := range positions {
		if p.Status == models.StatusOpen || p.Status == models.StatusExiting {
			open++
		}
	}
	e.health.RecordCycle(e.cycle, now, open, e.riskState.RealizedPnL(), e.riskState.LossStreak(), halted, reason)
}

// StatusLine implements notify.StatusSource.
func (e *Engine) StatusLine() string {
	s := e.health.Snapshot()
	state := "running"
	if s.Halted {
		state = fmt.Sprintf("halted (%s)", s.HaltReason)
	}
	return fmt.Sprintf("%s | cycle %d | open %d | pnl %.2f | streak %d | up %s",
		state, s.Cycle, s.OpenPositions, s.RealizedPnL, s.LossStreak,
		(time.Duration(s.UptimeSec) * time.Second).String())
}

// PositionLines implements notify.StatusSource.
func (e *Engine) PositionLines() []string {
	e.viewMu.Lock()
	defer e.viewMu.Unlock()

	lines := make([]string, 0, len(e.view))
	for _, p := range e.view {
		lines = append(lines, fmt.Sprintf("%s %s qty=%g entry=%g sl=%g tp=%g [%s]",
			p.Side, p.Symbol, p.Qty, p.Entry, p.SL, p.TP, p.Status))
	}
	return lines
}

// Halt implements notify.StatusSource: an operator-requested trading pause.
// Entries stop, exits keep running. Returns false when already halted.
func (e *Engine) Halt() bool {
	if halted, _ := e.riskState.Halted(); halted {
		return false
	}
	e.riskState.Halt(models.HaltManual)
	logger.Info("trading halted by operator")
	return true
}

// Resume implements notify.StatusSource: clears any halt on operator
// request and returns the reason that was active.
func (e *Engine) Resume() (models.HaltReason, bool) {
	halted, reason := e.riskState.Halted()
	if !halted {
		return models.HaltNone, false
	}
	e.riskState.Resume()
	logger.Info("trading resumed by operator (was %s)", reason)
	return reason, true
}
