package broker

import (
	"context"

	"github.com/pkg/errors"

	"autotrader/internal/models"
)

// ErrOrderRejected wraps a broker-side rejection of an order.
var ErrOrderRejected = errors.New("order rejected")

// Broker is the execution venue contract. Implementations must honor
// ClientID idempotency on Submit: the same ClientID never creates two
// orders.
type Broker interface {
	Account(ctx context.Context) (models.Account, error)
	Positions(ctx context.Context) ([]models.BrokerPosition, error)
	Order(ctx context.Context, clientID string) (models.Order, error)
	Submit(ctx context.Context, req models.OrderRequest) (models.Order, error)
	Cancel(ctx context.Context, clientID string) error
}
