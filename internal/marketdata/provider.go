package marketdata

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// ErrDataUnavailable means candles for a symbol could not be fetched this
// cycle. The engine skips the symbol and carries on; it is not a halt
// condition.
var ErrDataUnavailable = errors.New("market data unavailable")

// Provider fetches recent candles for one symbol.
type Provider interface {
	Fetch(ctx context.Context, symbol string) (*models.MarketSnapshot, error)
}

// RestProvider pulls candle history over the data REST API.
type RestProvider struct {
	client   *resty.Client
	interval string
	lookback int
}

func NewRestProvider(cfg *config.Config) *RestProvider {
	client := resty.New().
		SetBaseURL(cfg.MarketData.BaseURL).
		SetTimeout(cfg.MarketData.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond)

	return &RestProvider{
		client:   client,
		interval: cfg.MarketData.Interval,
		lookback: cfg.MarketData.Lookback,
	}
}

type barPayload struct {
	Time   string  `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type barsPayload struct {
	Bars []barPayload `json:"bars"`
}

func (p *RestProvider) Fetch(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"timeframe": p.interval,
			"limit":     strconv.Itoa(p.lookback),
		}).
		Get("/v2/stocks/" + symbol + "/bars")
	if err != nil {
		return nil, errors.Wrapf(ErrDataUnavailable, "%s: %v", symbol, err)
	}
	if resp.IsError() {
		return nil, errors.Wrapf(ErrDataUnavailable, "%s: status %d", symbol, resp.StatusCode())
	}

	var payload barsPayload
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, errors.Wrapf(ErrDataUnavailable, "%s: decode: %v", symbol, err)
	}
	if len(payload.Bars) == 0 {
		return nil, errors.Wrapf(ErrDataUnavailable, "%s: empty history", symbol)
	}

	history := make([]models.Candle, 0, len(payload.Bars))
	for _, b := range payload.Bars {
		start, _ := time.Parse(time.RFC3339, b.Time)
		history = append(history, models.Candle{
			Start:  start,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	last := history[len(history)-1]
	return &models.MarketSnapshot{
		Symbol:  symbol,
		Price:   last.Close,
		Volume:  last.Volume,
		At:      last.Start,
		History: history,
	}, nil
}
