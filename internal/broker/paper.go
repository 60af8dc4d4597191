package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// PriceSource supplies a current price for fills. The market data price
// cache satisfies it.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// SimBroker is the in-process simulation venue: market orders fill
// instantly at the last known price, cash and positions are bookkept in
// memory. Used by simulation mode and by the engine tests.
type SimBroker struct {
	mu sync.Mutex

	prices    PriceSource
	cash      float64
	positions map[string]*models.BrokerPosition
	orders    map[string]models.Order // keyed by ClientID
	seq       int
}

func NewSimBroker(cfg *config.Config, prices PriceSource) *SimBroker {
	return &SimBroker{
		prices:    prices,
		cash:      cfg.Broker.SimEquity,
		positions: make(map[string]*models.BrokerPosition),
		orders:    make(map[string]models.Order),
	}
}

func (b *SimBroker) Account(ctx context.Context) (models.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		px := p.MarketPx
		if last, ok := b.prices.LastPrice(p.Symbol); ok {
			px = last
		}
		if p.Side == models.SideSell {
			equity += (2*p.AvgEntry - px) * p.Qty
		} else {
			equity += px * p.Qty
		}
	}
	return models.Account{Equity: equity, Cash: b.cash}, nil
}

func (b *SimBroker) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.BrokerPosition, 0, len(b.positions))
	for _, p := range b.positions {
		cp := *p
		if last, ok := b.prices.LastPrice(p.Symbol); ok {
			cp.MarketPx = last
		}
		out = append(out, cp)
	}
	return out, nil
}

func (b *SimBroker) Order(ctx context.Context, clientID string) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[clientID]
	if !ok {
		return models.Order{}, errors.Errorf("order %s not found", clientID)
	}
	return o, nil
}

// Submit fills the order immediately at the last price. Resubmitting an
// already-seen ClientID returns the original order untouched.
func (b *SimBroker) Submit(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.orders[req.ClientID]; ok {
		return prev, nil
	}

	px, ok := b.prices.LastPrice(req.Symbol)
	if !ok || px <= 0 {
		return models.Order{}, errors.Errorf("no price for %s", req.Symbol)
	}

	b.seq++
	order := models.Order{
		ID:        "sim-" + strconv.Itoa(b.seq),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Qty:       req.Qty,
		Kind:      req.Kind,
		Status:    models.OrderFilled,
		FilledQty: req.Qty,
		FilledPx:  px,
		At:        time.Now().UTC(),
	}

	if err := b.apply(req, px); err != nil {
		order.Status = models.OrderRejected
		order.FilledQty = 0
		order.FilledPx = 0
		b.orders[req.ClientID] = order
		return models.Order{}, errors.Wrapf(ErrOrderRejected, "%s: %v", req.Symbol, err)
	}

	b.orders[req.ClientID] = order
	return order, nil
}

func (b *SimBroker) apply(req models.OrderRequest, px float64) error {
	pos, held := b.positions[req.Symbol]

	// Closing or reducing an existing position.
	if held && pos.Side != req.Side {
		if req.Qty > pos.Qty {
			return errors.Errorf("qty %g exceeds held %g", req.Qty, pos.Qty)
		}
		if pos.Side == models.SideSell {
			b.cash += (2*pos.AvgEntry - px) * req.Qty
		} else {
			b.cash += px * req.Qty
		}
		pos.Qty -= req.Qty
		if pos.Qty == 0 {
			delete(b.positions, req.Symbol)
		}
		return nil
	}

	cost := px * req.Qty
	if cost > b.cash {
		return errors.Errorf("insufficient cash: need %.2f, have %.2f", cost, b.cash)
	}
	b.cash -= cost

	if held {
		total := pos.Qty + req.Qty
		pos.AvgEntry = (pos.AvgEntry*pos.Qty + px*req.Qty) / total
		pos.Qty = total
		pos.MarketPx = px
		return nil
	}
	b.positions[req.Symbol] = &models.BrokerPosition{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Qty:      req.Qty,
		AvgEntry: px,
		MarketPx: px,
	}
	return nil
}

func (b *SimBroker) Cancel(ctx context.Context, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[clientID]
	if !ok {
		return nil
	}
	if o.Status == models.OrderNew {
		o.Status = models.OrderCanceled
		b.orders[clientID] = o
	}
	return nil
}
