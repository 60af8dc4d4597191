package guard

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PgGuard serializes instances across hosts with a postgres advisory lock.
// The lock is session scoped: it lives on a dedicated connection and falls
// away automatically if the process dies.
type PgGuard struct {
	pool *pgxpool.Pool
	key  int64

	conn *pgxpool.Conn
}

func NewPgGuard(pool *pgxpool.Pool, accountID string) *PgGuard {
	h := fnv.New64a()
	h.Write([]byte("autotrader:" + accountID))
	return &PgGuard{pool: pool, key: int64(h.Sum64())}
}

func (g *PgGuard) Acquire(ctx context.Context) error {
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire lock connection")
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", g.key).Scan(&locked); err != nil {
		conn.Release()
		return errors.Wrap(err, "advisory lock query")
	}
	if !locked {
		conn.Release()
		return errors.Wrapf(ErrAlreadyRunning, "advisory lock %d held elsewhere", g.key)
	}

	g.conn = conn
	return nil
}

func (g *PgGuard) Release(ctx context.Context) error {
	if g.conn == nil {
		return nil
	}
	_, err := g.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", g.key)
	g.conn.Release()
	g.conn = nil
	return errors.Wrap(err, "advisory unlock")
}
