package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/broker"
	"autotrader/internal/lifecycle"
	"autotrader/internal/marketdata"
	"autotrader/internal/models"
	"autotrader/internal/modules/config"
	health "autotrader/internal/modules/health/service"
	"autotrader/internal/persist"
	"autotrader/internal/risk"
	"autotrader/internal/sentiment"
	"autotrader/internal/signal"
	"autotrader/internal/tracker"
	"autotrader/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("", false)
	os.Exit(m.Run())
}

func engineConfig() *config.Config {
	cfg := &config.Config{
		Mode:           config.ModeSimulation,
		PollInterval:   time.Second,
		PendingTimeout: 2 * time.Minute,
	}
	cfg.Risk = config.RiskConfig{
		BasePct:           5,
		BonusPct:          10,
		MaxPositionPct:    10,
		MaxConcurrent:     3,
		MaxTradesPerHour:  10,
		LossHaltThreshold: 3,
		DailyLossLimitPct: 50,
		StopLossPct:       8,
		TakeProfitPct:     16,
		TrailingStopPct:   5,
		ExitRetryMax:      3,
	}
	cfg.Signal = config.SignalConfig{
		MinConfidence: 0, // let every directional signal through
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		EMAFast:       12,
		EMASlow:       26,
		ATRPeriod:     14,
		ChopThreshold: 61.8,
		MinArticles:   3,
		Weights:       models.DefaultWeights(),
	}
	return cfg
}

// fakeVenue is a scriptable broker for engine tests.
type fakeVenue struct {
	equity    float64
	positions []models.BrokerPosition
	posErr    error

	fillPx       float64
	rejectSubmit bool
	noFill       bool
	submitted    []models.OrderRequest
	orders       map[string]models.Order
}

func newFakeVenue(equity, fillPx float64) *fakeVenue {
	return &fakeVenue{equity: equity, fillPx: fillPx, orders: make(map[string]models.Order)}
}

func (f *fakeVenue) Account(ctx context.Context) (models.Account, error) {
	return models.Account{Equity: f.equity, Cash: f.equity}, nil
}

func (f *fakeVenue) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	if f.posErr != nil {
		return nil, f.posErr
	}
	return f.positions, nil
}

func (f *fakeVenue) Order(ctx context.Context, clientID string) (models.Order, error) {
	o, ok := f.orders[clientID]
	if !ok {
		return models.Order{}, errors.New("unknown order")
	}
	return o, nil
}

func (f *fakeVenue) Submit(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if prev, ok := f.orders[req.ClientID]; ok {
		return prev, nil
	}
	f.submitted = append(f.submitted, req)
	if f.rejectSubmit {
		return models.Order{}, errors.Wrap(broker.ErrOrderRejected, req.Symbol)
	}
	o := models.Order{
		ID: "f-" + req.ClientID, ClientID: req.ClientID, Symbol: req.Symbol,
		Side: req.Side, Qty: req.Qty, Status: models.OrderFilled,
		FilledQty: req.Qty, FilledPx: f.fillPx,
	}
	if f.noFill {
		o.Status = models.OrderNew
		o.FilledQty, o.FilledPx = 0, 0
	}
	f.orders[req.ClientID] = o
	return o, nil
}

func (f *fakeVenue) Cancel(ctx context.Context, clientID string) error { return nil }

type fakeMarket struct {
	snapshots map[string]*models.MarketSnapshot
}

func (f *fakeMarket) Fetch(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	snap, ok := f.snapshots[symbol]
	if !ok {
		return nil, errors.Wrap(marketdata.ErrDataUnavailable, symbol)
	}
	return snap, nil
}

type recorder struct{ msgs []string }

func (r *recorder) Send(msg string) { r.msgs = append(r.msgs, msg) }
func (r *recorder) Sendf(format string, args ...any) {
	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

func snapFromCloses(symbol string, closes []float64) *models.MarketSnapshot {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	history := make([]models.Candle, len(closes))
	for i, c := range closes {
		history[i] = models.Candle{
			Start: base.Add(time.Duration(i) * time.Minute),
			Open:  c, High: c * 1.005, Low: c * 0.995, Close: c, Volume: 1000,
		}
	}
	return &models.MarketSnapshot{
		Symbol: symbol, Price: closes[len(closes)-1],
		At: base, History: history,
	}
}

func selloff(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start - float64(i)*step
	}
	return out
}

func newTestEngine(t *testing.T, cfg *config.Config, venue broker.Broker, market *fakeMarket, symbols []string) (*Engine, *recorder) {
	t.Helper()

	rec := &recorder{}
	e, err := New(Deps{
		Config:     cfg,
		Symbols:    symbols,
		Broker:     venue,
		Tracker:    tracker.New(venue),
		Aggregator: signal.NewAggregator(cfg),
		Gate:       risk.NewGate(cfg),
		Machine:    lifecycle.NewMachine(cfg),
		Market:     market,
		Prices:     marketdata.NewPriceCache(),
		Sentiment:  sentiment.Disabled{},
		TradeLog:   persist.NoopTradeLog{},
		Snapshots:  persist.NewSnapshotStore(filepath.Join(t.TempDir(), "snap.json")),
		Notifier:   rec,
		Health:     health.NewState(),
	})
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }
	e.riskState = risk.NewState(e.now()) // session date pinned to the test clock
	return e, rec
}

func TestCycleOpensPositionOnStrongSignal(t *testing.T) {
	cfg := engineConfig()
	venue := newFakeVenue(100000, 100)
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{
		"AAPL": snapFromCloses("AAPL", selloff(40, 120, 0.5)),
	}}
	e, _ := newTestEngine(t, cfg, venue, market, []string{"AAPL"})

	e.runCycle(context.Background())

	require.Len(t, venue.submitted, 1)
	assert.Equal(t, models.SideBuy, venue.submitted[0].Side)
	assert.NotEmpty(t, venue.submitted[0].ClientID)

	p, ok := e.machine.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, models.StatusOpen, p.Status)
	assert.InDelta(t, 92.0, p.SL, 1e-9)
	assert.InDelta(t, 116.0, p.TP, 1e-9)

	// sizing respects the cap
	notional := p.Qty * 100
	assert.LessOrEqual(t, notional, 100000*0.10+1e-6)
}

func TestCycleNoEntryWithoutData(t *testing.T) {
	cfg := engineConfig()
	venue := newFakeVenue(100000, 100)
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{}}
	e, _ := newTestEngine(t, cfg, venue, market, []string{"AAPL"})

	e.runCycle(context.Background())

	assert.Empty(t, venue.submitted)
	halted, _ := e.riskState.Halted()
	assert.False(t, halted, "missing market data must not halt trading")
}

func TestCycleHaltsWhenTrackingFails(t *testing.T) {
	cfg := engineConfig()
	venue := newFakeVenue(100000, 100)
	venue.posErr = errors.New("api down")
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{
		"AAPL": snapFromCloses("AAPL", selloff(40, 120, 0.5)),
	}}
	e, _ := newTestEngine(t, cfg, venue, market, []string{"AAPL"})

	e.runCycle(context.Background())

	halted, reason := e.riskState.Halted()
	require.True(t, halted)
	assert.Equal(t, models.HaltTrackingUnavailable, reason)
	assert.Empty(t, venue.submitted, "no entries without broker truth")

	t.Run("successful refresh clears the halt", func(t *testing.T) {
		venue.posErr = nil
		e.runCycle(context.Background())
		halted, _ := e.riskState.Halted()
		assert.False(t, halted)
	})
}

func TestCycleExitsRunWhileHalted(t *testing.T) {
	cfg := engineConfig()
	venue := newFakeVenue(100000, 90)
	venue.positions = []models.BrokerPosition{
		{Symbol: "AAPL", Side: models.SideBuy, Qty: 10, AvgEntry: 100, MarketPx: 90},
	}
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{
		"AAPL": snapFromCloses("AAPL", selloff(40, 110, 0.5)), // ends at 90.5... close enough to breach
		"TSLA": snapFromCloses("TSLA", selloff(40, 300, 1.5)),
	}}
	e, _ := newTestEngine(t, cfg, venue, market, []string{"AAPL", "TSLA"})

	e.riskState.Halt(models.HaltManual)
	e.machine.Restore([]models.Position{{
		Symbol: "AAPL", Side: models.SideBuy, Qty: 10, Entry: 100,
		SL: 92, TP: 116, TrailHWM: 100, Status: models.StatusOpen,
	}})

	e.runCycle(context.Background())

	// the stop loss fired and the position is gone, despite the halt
	require.Len(t, venue.submitted, 1)
	assert.Equal(t, models.SideSell, venue.submitted[0].Side)
	assert.Equal(t, "AAPL", venue.submitted[0].Symbol)

	_, ok := e.machine.Get("AAPL")
	assert.False(t, ok)

	// but the halt blocked the fresh TSLA signal
	for _, req := range venue.submitted {
		assert.NotEqual(t, "TSLA", req.Symbol)
	}
	halted, reason := e.riskState.Halted()
	assert.True(t, halted)
	assert.Equal(t, models.HaltManual, reason)
}

func TestConcurrencyCapHoldsWithUnfilledEntries(t *testing.T) {
	cfg := engineConfig()
	cfg.Risk.MaxConcurrent = 2
	venue := newFakeVenue(100000, 100)
	venue.noFill = true // orders rest as NEW, the normal async fill case

	symbols := []string{"AAPL", "AMD", "MSFT", "NVDA", "TSLA"}
	snapshots := make(map[string]*models.MarketSnapshot, len(symbols))
	for _, sym := range symbols {
		snapshots[sym] = snapFromCloses(sym, selloff(40, 120, 0.5))
	}
	market := &fakeMarket{snapshots: snapshots}
	e, _ := newTestEngine(t, cfg, venue, market, symbols)

	e.runCycle(context.Background())

	assert.Len(t, venue.submitted, 2, "pending entries must hold concurrency slots")
	assert.Equal(t, 2, e.machine.OpenCount())
}

func TestDailyLossLimitHaltsEntries(t *testing.T) {
	cfg := engineConfig()
	cfg.Risk.DailyLossLimitPct = 2 // 2000 on 100k equity
	venue := newFakeVenue(100000, 100)
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{
		"AAPL": snapFromCloses("AAPL", selloff(40, 120, 0.5)),
	}}
	e, rec := newTestEngine(t, cfg, venue, market, []string{"AAPL"})

	e.riskState.ApplyOutcome(-2500, 100)

	e.runCycle(context.Background())

	assert.Empty(t, venue.submitted)
	halted, reason := e.riskState.Halted()
	require.True(t, halted)
	assert.Equal(t, models.HaltDailyLoss, reason)
	assert.Contains(t, strings.Join(rec.msgs, "\n"), "daily loss limit")

	t.Run("next session clears the halt", func(t *testing.T) {
		e.now = func() time.Time { return time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC) }
		e.runCycle(context.Background())

		halted, _ := e.riskState.Halted()
		assert.False(t, halted)
		assert.Len(t, venue.submitted, 1, "entries resume with the fresh session budget")
	})
}

func TestOperatorHaltAndResume(t *testing.T) {
	cfg := engineConfig()
	venue := newFakeVenue(100000, 100)
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{}}
	e, _ := newTestEngine(t, cfg, venue, market, nil)

	require.True(t, e.Halt())
	assert.False(t, e.Halt(), "second halt is a no-op")

	halted, reason := e.riskState.Halted()
	require.True(t, halted)
	assert.Equal(t, models.HaltManual, reason)

	got, was := e.Resume()
	require.True(t, was)
	assert.Equal(t, models.HaltManual, got)

	_, was = e.Resume()
	assert.False(t, was)
}

func TestConsecutiveLossesTripTheBreaker(t *testing.T) {
	cfg := engineConfig()
	venue := newFakeVenue(100000, 90)
	venue.positions = []models.BrokerPosition{
		{Symbol: "AAPL", Side: models.SideBuy, Qty: 10, AvgEntry: 100, MarketPx: 90},
	}
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{
		"AAPL": snapFromCloses("AAPL", selloff(40, 110, 0.5)),
	}}
	e, _ := newTestEngine(t, cfg, venue, market, []string{"AAPL"})

	e.riskState.ApplyOutcome(-10, cfg.Risk.LossHaltThreshold)
	e.riskState.ApplyOutcome(-10, cfg.Risk.LossHaltThreshold)
	e.machine.Restore([]models.Position{{
		Symbol: "AAPL", Side: models.SideBuy, Qty: 10, Entry: 100,
		SL: 92, TP: 116, TrailHWM: 100, Status: models.StatusOpen,
	}})

	e.runCycle(context.Background())

	halted, reason := e.riskState.Halted()
	require.True(t, halted)
	assert.Equal(t, models.HaltConsecutiveLosses, reason)
}

func TestExitRetryEscalation(t *testing.T) {
	cfg := engineConfig()
	venue := newFakeVenue(100000, 90)
	venue.rejectSubmit = true
	venue.positions = []models.BrokerPosition{
		{Symbol: "AAPL", Side: models.SideBuy, Qty: 10, AvgEntry: 100, MarketPx: 90},
	}
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{
		"AAPL": snapFromCloses("AAPL", selloff(40, 110, 0.5)),
	}}
	e, rec := newTestEngine(t, cfg, venue, market, []string{"AAPL"})

	e.machine.Restore([]models.Position{{
		Symbol: "AAPL", Side: models.SideBuy, Qty: 10, Entry: 100,
		SL: 92, TP: 116, TrailHWM: 100, Status: models.StatusOpen,
	}})

	for i := 0; i < cfg.Risk.ExitRetryMax; i++ {
		e.runCycle(context.Background())
	}

	// still tracked, never silently dropped
	p, ok := e.machine.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, models.StatusOpen, p.Status)
	assert.Equal(t, cfg.Risk.ExitRetryMax, p.ExitAttempts)

	assert.Contains(t, strings.Join(rec.msgs, "\n"), "cannot close AAPL")
}

func TestSnapshotPersistsAcrossRestart(t *testing.T) {
	cfg := engineConfig()
	dir := t.TempDir()
	store := persist.NewSnapshotStore(filepath.Join(dir, "snap.json"))

	venue := newFakeVenue(100000, 100)
	market := &fakeMarket{snapshots: map[string]*models.MarketSnapshot{
		"AAPL": snapFromCloses("AAPL", selloff(40, 120, 0.5)),
	}}

	build := func() *Engine {
		e, err := New(Deps{
			Config: cfg, Symbols: []string{"AAPL"}, Broker: venue,
			Tracker: tracker.New(venue), Aggregator: signal.NewAggregator(cfg),
			Gate: risk.NewGate(cfg), Machine: lifecycle.NewMachine(cfg),
			Market: market, Prices: marketdata.NewPriceCache(), Sentiment: sentiment.Disabled{},
			TradeLog: persist.NoopTradeLog{}, Snapshots: store,
			Notifier: &recorder{}, Health: health.NewState(),
		})
		require.NoError(t, err)
		return e
	}

	e1 := build()
	e1.riskState.Halt(models.HaltConsecutiveLosses)
	e1.saveSnapshot()

	e2 := build()
	halted, reason := e2.riskState.Halted()
	require.True(t, halted)
	assert.Equal(t, models.HaltConsecutiveLosses, reason)
}
