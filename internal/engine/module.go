package engine

import (
	"context"

	"go.uber.org/fx"

	"autotrader/internal/broker"
	"autotrader/internal/guard"
	"autotrader/internal/lifecycle"
	"autotrader/internal/marketdata"
	"autotrader/internal/modules/config"
	health "autotrader/internal/modules/health/service"
	"autotrader/internal/notify"
	"autotrader/internal/persist"
	"autotrader/internal/risk"
	"autotrader/internal/sentiment"
	"autotrader/internal/signal"
	"autotrader/internal/tracker"
	"autotrader/internal/watchlist"
	"autotrader/pkg/db"
	"autotrader/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			newSymbols,
			marketdata.NewPriceCache,
			newBroker,
			newTracker,
			signal.NewAggregator,
			risk.NewGate,
			lifecycle.NewMachine,
			newMarketProvider,
			newSentimentProvider,
			newTradeLog,
			newSnapshotStore,
			newGuards,
			newEngine,
			newNotifier,
		),
		fx.Invoke(run),
	)
}

func newSymbols(cfg *config.Config) ([]string, error) {
	wl, err := watchlist.Load(cfg.WatchlistFile)
	if err != nil {
		return nil, err
	}
	return wl.Symbols, nil
}

func newBroker(cfg *config.Config, cache *marketdata.PriceCache) broker.Broker {
	if cfg.Mode == config.ModeSimulation {
		return broker.NewSimBroker(cfg, cache)
	}
	return broker.NewRestBroker(cfg)
}

func newTracker(b broker.Broker) *tracker.Tracker {
	return tracker.New(b)
}

func newMarketProvider(cfg *config.Config) marketdata.Provider {
	return marketdata.NewRestProvider(cfg)
}

func newSentimentProvider(cfg *config.Config) sentiment.Provider {
	if cfg.Sentiment.BaseURL == "" {
		return sentiment.Disabled{}
	}
	return sentiment.NewRestProvider(cfg)
}

func newTradeLog(cfg *config.Config, txm *db.PgTxManager) (persist.TradeLog, error) {
	if txm == nil {
		logger.Info("no database configured, trade log disabled")
		return persist.NoopTradeLog{}, nil
	}
	return persist.NewPgTradeLog(context.Background(), txm)
}

func newSnapshotStore(cfg *config.Config) *persist.SnapshotStore {
	return persist.NewSnapshotStore(cfg.SnapshotFile)
}

// newGuards stacks the instance locks: the pidfile always, the postgres
// advisory lock when a database is configured.
func newGuards(cfg *config.Config, txm *db.PgTxManager) []guard.InstanceGuard {
	guards := []guard.InstanceGuard{guard.NewFileGuard(cfg.LockFile)}
	if txm != nil {
		guards = append(guards, guard.NewPgGuard(txm.Pool(), cfg.Broker.APIKey))
	}
	return guards
}

func newEngine(
	cfg *config.Config,
	symbols []string,
	b broker.Broker,
	tr *tracker.Tracker,
	agg *signal.Aggregator,
	gate *risk.Gate,
	machine *lifecycle.Machine,
	market marketdata.Provider,
	cache *marketdata.PriceCache,
	sent sentiment.Provider,
	tradeLog persist.TradeLog,
	snapshots *persist.SnapshotStore,
	hs *health.State,
) (*Engine, error) {
	return New(Deps{
		Config:     cfg,
		Symbols:    symbols,
		Broker:     b,
		Tracker:    tr,
		Aggregator: agg,
		Gate:       gate,
		Machine:    machine,
		Market:     market,
		Prices:     cache,
		Sentiment:  sent,
		TradeLog:   tradeLog,
		Snapshots:  snapshots,
		Notifier:   notify.Log{},
		Health:     hs,
	})
}

// newNotifier upgrades the engine's notifier to telegram when a token is
// configured. The engine itself is the status source for bot commands.
func newNotifier(cfg *config.Config, e *Engine) (notify.Notifier, error) {
	if cfg.Telegram.Token == "" {
		return notify.Log{}, nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, e)
	if err != nil {
		return nil, err
	}
	e.notifier = tg
	return tg, nil
}

func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	e *Engine,
	n notify.Notifier,
	symbols []string,
	cache *marketdata.PriceCache,
	guards []guard.InstanceGuard,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, g := range guards {
				if err := g.Acquire(ctx); err != nil {
					cancel()
					close(done)
					return err
				}
			}

			stream := marketdata.NewStream(cfg, symbols, cache)
			go stream.Run(runCtx)

			if tg, ok := n.(*notify.Telegram); ok {
				go tg.Listen(runCtx)
			}

			go func() {
				defer close(done)
				e.Run(runCtx)
				_ = shutdowner.Shutdown()
			}()

			logger.Info("engine started: mode=%s, %d symbols, poll=%s",
				cfg.Mode, len(symbols), cfg.PollInterval)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			for _, g := range guards {
				if err := g.Release(context.Background()); err != nil {
					logger.Error("guard release: %v", err)
				}
			}
			return nil
		},
	})
}
