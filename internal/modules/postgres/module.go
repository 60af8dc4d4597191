package postgres

import (
	"context"
	"fmt"

	"autotrader/internal/modules/config"
	"autotrader/pkg/db"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			// A nil manager means "no database configured": the persist layer
			// degrades to file-only storage (simulation runs).
			func(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				if cfg.DB == "" {
					return nil, nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				return db.NewPgTxManager(poolMaster), nil
			},
		),
	)
}
