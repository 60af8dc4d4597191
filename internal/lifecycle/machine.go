package lifecycle

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// ExitTrigger identifies which rule forced an exit. Triggers are evaluated
// in a fixed priority order: stop loss, trailing stop, take profit, signal
// reversal. The first match wins even when several fire on the same tick.
type ExitTrigger string

const (
	TriggerStopLoss     ExitTrigger = "stop_loss"
	TriggerTrailingStop ExitTrigger = "trailing_stop"
	TriggerTakeProfit   ExitTrigger = "take_profit"
	TriggerReversal     ExitTrigger = "signal_reversal"
)

// Action is an exit the machine wants executed. The position has already
// moved to EXITING; the engine owns actually submitting the order.
type Action struct {
	Position *models.Position
	Trigger  ExitTrigger
	Price    float64
}

var (
	ErrUnknownPosition = errors.New("unknown position")
	ErrBadTransition   = errors.New("invalid lifecycle transition")
)

// Machine owns every position the bot knows about and enforces the
// PENDING -> OPEN -> EXITING -> CLOSED lifecycle. Single-goroutine use only;
// the decision loop is the sole caller.
type Machine struct {
	cfg       config.RiskConfig
	positions map[string]*models.Position
}

func NewMachine(cfg *config.Config) *Machine {
	return &Machine{
		cfg:       cfg.Risk,
		positions: make(map[string]*models.Position),
	}
}

// OpenPending registers a submitted-but-unconfirmed entry.
func (m *Machine) OpenPending(p *models.Position) error {
	if _, ok := m.positions[p.Symbol]; ok {
		return errors.Wrap(ErrBadTransition, "position already exists for "+p.Symbol)
	}
	p.Status = models.StatusPending
	m.positions[p.Symbol] = p
	return nil
}

// ConfirmEntry moves a pending position to OPEN at its fill price and arms
// the protective levels from the configured percentages.
func (m *Machine) ConfirmEntry(symbol string, fillPx, qty float64, at time.Time) (*models.Position, error) {
	p, ok := m.positions[symbol]
	if !ok {
		return nil, errors.Wrap(ErrUnknownPosition, symbol)
	}
	if p.Status != models.StatusPending {
		return nil, errors.Wrapf(ErrBadTransition, "%s is %s, want PENDING", symbol, p.Status)
	}

	p.Status = models.StatusOpen
	p.Entry = fillPx
	p.Qty = qty
	p.EntryTime = at
	p.TrailHWM = fillPx
	if p.Side == models.SideSell {
		p.SL = fillPx * (1 + m.cfg.StopLossPct/100)
		p.TP = fillPx * (1 - m.cfg.TakeProfitPct/100)
	} else {
		p.SL = fillPx * (1 - m.cfg.StopLossPct/100)
		p.TP = fillPx * (1 + m.cfg.TakeProfitPct/100)
	}
	return p, nil
}

// RejectEntry drops a pending position whose order was rejected or
// canceled. Not a trade: it never touches the loss counter.
func (m *Machine) RejectEntry(symbol string) error {
	p, ok := m.positions[symbol]
	if !ok {
		return errors.Wrap(ErrUnknownPosition, symbol)
	}
	if p.Status != models.StatusPending {
		return errors.Wrapf(ErrBadTransition, "%s is %s, want PENDING", symbol, p.Status)
	}
	delete(m.positions, symbol)
	return nil
}

// ExpirePending removes pending positions older than timeout and returns
// them so the engine can cancel the orders upstream.
func (m *Machine) ExpirePending(now time.Time, timeout time.Duration) []*models.Position {
	var expired []*models.Position
	for sym, p := range m.positions {
		if p.Status == models.StatusPending && now.Sub(p.SubmittedAt) >= timeout {
			expired = append(expired, p)
			delete(m.positions, sym)
		}
	}
	return expired
}

// Advance runs one tick of exit evaluation over every OPEN position.
// Trailing high-water marks ratchet first (monotonic in the favorable
// direction), then triggers fire in priority order. Matched positions move
// to EXITING and are returned as actions. Symbols missing from prices are
// skipped untouched.
func (m *Machine) Advance(prices map[string]float64, reversals map[string]bool) []Action {
	var actions []Action

	symbols := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		p := m.positions[sym]
		if p.Status != models.StatusOpen {
			continue
		}
		px, ok := prices[sym]
		if !ok || px <= 0 {
			continue
		}

		if p.Favorable(px) {
			p.TrailHWM = px
		}

		trigger, fired := m.evaluate(p, px, reversals[sym])
		if !fired {
			continue
		}
		p.Status = models.StatusExiting
		p.ExitReason = string(trigger)
		actions = append(actions, Action{Position: p, Trigger: trigger, Price: px})
	}
	return actions
}

func (m *Machine) evaluate(p *models.Position, px float64, reversal bool) (ExitTrigger, bool) {
	long := p.Side != models.SideSell

	if long && px <= p.SL || !long && px >= p.SL {
		return TriggerStopLoss, true
	}

	if m.cfg.TrailingStopPct > 0 {
		if long {
			if px <= p.TrailHWM*(1-m.cfg.TrailingStopPct/100) {
				return TriggerTrailingStop, true
			}
		} else if px >= p.TrailHWM*(1+m.cfg.TrailingStopPct/100) {
			return TriggerTrailingStop, true
		}
	}

	if long && px >= p.TP || !long && px <= p.TP {
		return TriggerTakeProfit, true
	}

	if reversal {
		return TriggerReversal, true
	}
	return "", false
}

// ConfirmExit closes an EXITING position at its fill price and returns the
// realized trade record.
func (m *Machine) ConfirmExit(symbol string, fillPx float64, at time.Time) (models.TradeRecord, error) {
	p, ok := m.positions[symbol]
	if !ok {
		return models.TradeRecord{}, errors.Wrap(ErrUnknownPosition, symbol)
	}
	if p.Status != models.StatusExiting {
		return models.TradeRecord{}, errors.Wrapf(ErrBadTransition, "%s is %s, want EXITING", symbol, p.Status)
	}

	p.Status = models.StatusClosed
	rec := models.TradeRecord{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Qty:        p.Qty,
		EntryPrice: p.Entry,
		ExitPrice:  fillPx,
		PnL:        p.PnL(fillPx),
		Reason:     p.ExitReason,
		EntryTime:  p.EntryTime,
		ExitTime:   at,
		Confidence: p.Confidence,
	}
	delete(m.positions, symbol)
	return rec, nil
}

// ExitFailed records a failed exit attempt and reverts the position to OPEN
// so the next cycle retries. Returns the attempt count so the engine can
// escalate after the retry budget is spent. The position is never dropped.
func (m *Machine) ExitFailed(symbol string) (int, error) {
	p, ok := m.positions[symbol]
	if !ok {
		return 0, errors.Wrap(ErrUnknownPosition, symbol)
	}
	if p.Status != models.StatusExiting {
		return 0, errors.Wrapf(ErrBadTransition, "%s is %s, want EXITING", symbol, p.Status)
	}
	p.Status = models.StatusOpen
	p.ExitOrderID = ""
	p.ExitAttempts++
	return p.ExitAttempts, nil
}

// Drop removes a position the broker no longer reports, whatever its state.
// Used during reconciliation when broker truth says it is gone.
func (m *Machine) Drop(symbol string) {
	delete(m.positions, symbol)
}

func (m *Machine) Get(symbol string) (*models.Position, bool) {
	p, ok := m.positions[symbol]
	return p, ok
}

// Open returns the OPEN positions in symbol order.
func (m *Machine) Open() []*models.Position {
	var out []*models.Position
	for _, p := range m.positions {
		if p.Status == models.StatusOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// All returns every tracked position in symbol order, for snapshots.
func (m *Machine) All() []models.Position {
	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount counts every position carrying or awaiting exposure: PENDING,
// OPEN and EXITING. The concurrency cap consumes this, so an in-flight entry
// holds its slot before the fill lands; otherwise one cycle could submit an
// order per eligible symbol and blow past the cap once they all fill.
func (m *Machine) OpenCount() int {
	n := 0
	for _, p := range m.positions {
		if p.Status != models.StatusClosed {
			n++
		}
	}
	return n
}

// Restore reloads positions from a persisted snapshot. EXITING positions
// come back as OPEN so the exit re-evaluates against live prices.
func (m *Machine) Restore(positions []models.Position) {
	for i := range positions {
		p := positions[i]
		if p.Status == models.StatusClosed {
			continue
		}
		if p.Status == models.StatusExiting {
			p.Status = models.StatusOpen
			p.ExitOrderID = ""
		}
		m.positions[p.Symbol] = &p
	}
}
