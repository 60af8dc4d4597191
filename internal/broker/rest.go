package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// RestBroker talks to the brokerage REST API. Paper and live trading share
// the same wire format and differ only in base URL and credentials.
type RestBroker struct {
	client *resty.Client
}

func NewRestBroker(cfg *config.Config) *RestBroker {
	base := cfg.Broker.BaseURL
	if cfg.Mode == config.ModePaper {
		base = cfg.Broker.PaperURL
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Broker.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("APCA-API-KEY-ID", cfg.Broker.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.Broker.APISecret)

	return &RestBroker{client: client}
}

type accountPayload struct {
	Equity       string `json:"equity"`
	Cash         string `json:"cash"`
	TradeBlocked bool   `json:"trading_blocked"`
}

type positionPayload struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Qty          string `json:"qty"`
	AvgEntry     string `json:"avg_entry_price"`
	CurrentPrice string `json:"current_price"`
}

type orderPayload struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	FilledQty     string `json:"filled_qty"`
	FilledAvgPx   string `json:"filled_avg_price"`
	SubmittedAt   string `json:"submitted_at"`
}

func (b *RestBroker) Account(ctx context.Context) (models.Account, error) {
	resp, err := b.client.R().SetContext(ctx).Get("/v2/account")
	if err != nil {
		return models.Account{}, errors.Wrap(err, "account request")
	}
	if resp.IsError() {
		return models.Account{}, errors.Errorf("account request: status %d", resp.StatusCode())
	}

	var payload accountPayload
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return models.Account{}, errors.Wrap(err, "decode account")
	}
	equity, err := parseFloat("equity", payload.Equity)
	if err != nil {
		return models.Account{}, errors.Wrap(err, "decode account")
	}
	cash, err := parseFloat("cash", payload.Cash)
	if err != nil {
		return models.Account{}, errors.Wrap(err, "decode account")
	}
	return models.Account{
		Equity:  equity,
		Cash:    cash,
		Blocked: payload.TradeBlocked,
	}, nil
}

func (b *RestBroker) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	resp, err := b.client.R().SetContext(ctx).Get("/v2/positions")
	if err != nil {
		return nil, errors.Wrap(err, "positions request")
	}
	if resp.IsError() {
		return nil, errors.Errorf("positions request: status %d", resp.StatusCode())
	}

	var payloads []positionPayload
	if err := sonic.Unmarshal(resp.Body(), &payloads); err != nil {
		return nil, errors.Wrap(err, "decode positions")
	}

	out := make([]models.BrokerPosition, 0, len(payloads))
	for _, p := range payloads {
		side := models.SideBuy
		if p.Side == "short" {
			side = models.SideSell
		}
		qty, err := parseFloat("qty", p.Qty)
		if err != nil {
			return nil, errors.Wrapf(err, "decode position %s", p.Symbol)
		}
		avg, err := parseFloat("avg_entry_price", p.AvgEntry)
		if err != nil {
			return nil, errors.Wrapf(err, "decode position %s", p.Symbol)
		}
		px, err := parseFloat("current_price", p.CurrentPrice)
		if err != nil {
			return nil, errors.Wrapf(err, "decode position %s", p.Symbol)
		}
		out = append(out, models.BrokerPosition{
			Symbol:   p.Symbol,
			Side:     side,
			Qty:      qty,
			AvgEntry: avg,
			MarketPx: px,
		})
	}
	return out, nil
}

func (b *RestBroker) Order(ctx context.Context, clientID string) (models.Order, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("client_order_id", clientID).
		Get("/v2/orders:by_client_order_id")
	if err != nil {
		return models.Order{}, errors.Wrap(err, "order lookup")
	}
	if resp.IsError() {
		return models.Order{}, errors.Errorf("order lookup %s: status %d", clientID, resp.StatusCode())
	}

	var payload orderPayload
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return models.Order{}, errors.Wrap(err, "decode order")
	}
	return payload.toModel()
}

// Submit places an order. The broker deduplicates on client_order_id, so a
// resubmit after an ambiguous network failure is safe.
func (b *RestBroker) Submit(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	side := "buy"
	if req.Side == models.SideSell {
		side = "sell"
	}
	body := map[string]interface{}{
		"client_order_id": req.ClientID,
		"symbol":          req.Symbol,
		"side":            side,
		"qty":             fmt.Sprintf("%g", req.Qty),
		"type":            req.Kind,
		"time_in_force":   "gtc",
	}
	if req.Kind == "stop" {
		body["stop_price"] = fmt.Sprintf("%g", req.StopPx)
	}

	raw, err := sonic.Marshal(body)
	if err != nil {
		return models.Order{}, errors.Wrap(err, "encode order")
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(raw).
		Post("/v2/orders")
	if err != nil {
		return models.Order{}, errors.Wrap(err, "submit order")
	}
	if resp.StatusCode() == http.StatusUnprocessableEntity || resp.StatusCode() == http.StatusForbidden {
		return models.Order{}, errors.Wrapf(ErrOrderRejected, "%s: %s", req.Symbol, resp.String())
	}
	if resp.IsError() {
		return models.Order{}, errors.Errorf("submit %s: status %d", req.Symbol, resp.StatusCode())
	}

	var payload orderPayload
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return models.Order{}, errors.Wrap(err, "decode order")
	}
	return payload.toModel()
}

func (b *RestBroker) Cancel(ctx context.Context, clientID string) error {
	resp, err := b.client.R().SetContext(ctx).Delete("/v2/orders/" + clientID)
	if err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return errors.Errorf("cancel %s: status %d", clientID, resp.StatusCode())
	}
	return nil
}

func (p orderPayload) toModel() (models.Order, error) {
	side := models.SideBuy
	if p.Side == "sell" {
		side = models.SideSell
	}

	var status models.OrderStatus
	switch p.Status {
	case "filled":
		status = models.OrderFilled
	case "rejected", "expired":
		status = models.OrderRejected
	case "canceled":
		status = models.OrderCanceled
	default:
		status = models.OrderNew
	}

	qty, err := parseFloat("qty", p.Qty)
	if err != nil {
		return models.Order{}, err
	}
	filledQty, err := parseFloat("filled_qty", p.FilledQty)
	if err != nil {
		return models.Order{}, err
	}
	filledPx, err := parseFloat("filled_avg_price", p.FilledAvgPx)
	if err != nil {
		return models.Order{}, err
	}

	at, _ := time.Parse(time.RFC3339, p.SubmittedAt)
	return models.Order{
		ID:        p.ID,
		ClientID:  p.ClientOrderID,
		Symbol:    p.Symbol,
		Side:      side,
		Qty:       qty,
		Kind:      p.Type,
		Status:    status,
		FilledQty: filledQty,
		FilledPx:  filledPx,
		At:        at,
	}, nil
}

// parseFloat decodes the wire format's string-encoded numerics. An empty
// field is a legitimate zero (filled_avg_price before any fill); anything
// else malformed is an error, never a silent 0.
func parseFloat(field, s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s %q", field, s)
	}
	return v, nil
}
