package persist

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"autotrader/internal/models"
	"autotrader/pkg/db"
)

// TradeLog is the append-only record of closed trades.
type TradeLog interface {
	Append(ctx context.Context, rec models.TradeRecord) error
}

const tradesSchema = `
CREATE TABLE IF NOT EXISTS trades (
    id          BIGSERIAL PRIMARY KEY,
    symbol      TEXT             NOT NULL,
    side        TEXT             NOT NULL,
    qty         DOUBLE PRECISION NOT NULL,
    entry_price DOUBLE PRECISION NOT NULL,
    exit_price  DOUBLE PRECISION NOT NULL,
    pnl         DOUBLE PRECISION NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL,
    reason      TEXT             NOT NULL,
    entry_time  TIMESTAMPTZ      NOT NULL,
    exit_time   TIMESTAMPTZ      NOT NULL
)`

// PgTradeLog stores trade records in postgres.
type PgTradeLog struct {
	txm db.TxManager
}

func NewPgTradeLog(ctx context.Context, txm db.TxManager) (*PgTradeLog, error) {
	if _, err := txm.Conn().Exec(ctx, tradesSchema); err != nil {
		return nil, errors.Wrap(err, "ensure trades schema")
	}
	return &PgTradeLog{txm: txm}, nil
}

func (l *PgTradeLog) Append(ctx context.Context, rec models.TradeRecord) error {
	err := l.txm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx,
			`INSERT INTO trades
			   (symbol, side, qty, entry_price, exit_price, pnl, confidence, reason, entry_time, exit_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.Symbol, rec.Side, rec.Qty, rec.EntryPrice, rec.ExitPrice,
			rec.PnL, rec.Confidence, rec.Reason, rec.EntryTime, rec.ExitTime,
		)
		return err
	})
	return errors.Wrap(err, "append trade")
}

// NoopTradeLog is used when no database is configured; trades survive only
// in the engine snapshot and the logs.
type NoopTradeLog struct{}

func (NoopTradeLog) Append(ctx context.Context, rec models.TradeRecord) error { return nil }
