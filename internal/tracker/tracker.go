package tracker

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"autotrader/internal/models"
	"autotrader/pkg/logger"
)

// ErrTrackingUnavailable means the broker's view of open positions could not
// be fetched after all retries. The engine treats this as fail-closed: no
// position data, no trading.
var ErrTrackingUnavailable = errors.New("position tracking unavailable")

// Broker is the slice of the broker surface the tracker needs.
type Broker interface {
	Positions(ctx context.Context) ([]models.BrokerPosition, error)
}

// Tracker fetches the broker-truth position set with bounded retries. It
// never caches across cycles: stale position data is worse than no data.
type Tracker struct {
	broker   Broker
	attempts int
	backoff  time.Duration

	// wait is swapped out in tests to avoid real sleeps.
	wait func(ctx context.Context, d time.Duration) error
}

func New(broker Broker) *Tracker {
	return &Tracker{
		broker:   broker,
		attempts: 3,
		backoff:  500 * time.Millisecond,
		wait:     sleepCtx,
	}
}

// Refresh returns the current open positions keyed by symbol. Retries with
// exponential backoff; after the final failure it returns
// ErrTrackingUnavailable wrapping the last cause.
func (t *Tracker) Refresh(ctx context.Context) (map[string]models.BrokerPosition, error) {
	var lastErr error
	delay := t.backoff

	for attempt := 1; attempt <= t.attempts; attempt++ {
		positions, err := t.broker.Positions(ctx)
		if err == nil {
			bySymbol := make(map[string]models.BrokerPosition, len(positions))
			for _, p := range positions {
				bySymbol[p.Symbol] = p
			}
			return bySymbol, nil
		}

		lastErr = err
		logger.Error("position refresh failed: attempt %d: %v", attempt, err)

		if attempt == t.attempts {
			break
		}
		if werr := t.wait(ctx, delay); werr != nil {
			return nil, errors.Wrap(ErrTrackingUnavailable, werr.Error())
		}
		delay *= 2
	}

	return nil, errors.Wrap(ErrTrackingUnavailable, lastErr.Error())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
