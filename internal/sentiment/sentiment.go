package sentiment

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

// Provider fetches an aggregated news-sentiment sample for a symbol. A nil
// sample with nil error means no recent coverage; the aggregator treats
// that as neutral.
type Provider interface {
	Fetch(ctx context.Context, symbol string) (*models.SentimentSample, error)
}

// RestProvider calls the news-sentiment API.
type RestProvider struct {
	client   *resty.Client
	lookback time.Duration
}

func NewRestProvider(cfg *config.Config) *RestProvider {
	client := resty.New().
		SetBaseURL(cfg.Sentiment.BaseURL).
		SetTimeout(cfg.Sentiment.Timeout).
		SetRetryCount(2)
	if cfg.Sentiment.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Sentiment.APIKey)
	}
	return &RestProvider{
		client:   client,
		lookback: time.Duration(cfg.Signal.LookbackHours) * time.Hour,
	}
}

type sentimentPayload struct {
	Polarity float64 `json:"polarity"`
	Articles int     `json:"article_count"`
}

func (p *RestProvider) Fetch(ctx context.Context, symbol string) (*models.SentimentSample, error) {
	since := time.Now().UTC().Add(-p.lookback)
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"since":  strconv.FormatInt(since.Unix(), 10),
		}).
		Get("/v1/sentiment")
	if err != nil {
		return nil, errors.Wrapf(err, "sentiment %s", symbol)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, errors.Errorf("sentiment %s: status %d", symbol, resp.StatusCode())
	}

	var payload sentimentPayload
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, errors.Wrapf(err, "decode sentiment %s", symbol)
	}
	if payload.Articles == 0 {
		return nil, nil
	}
	return &models.SentimentSample{
		Symbol:       symbol,
		Polarity:     payload.Polarity,
		ArticleCount: payload.Articles,
		At:           time.Now().UTC(),
	}, nil
}

// Disabled is used when no sentiment endpoint is configured.
type Disabled struct{}

func (Disabled) Fetch(ctx context.Context, symbol string) (*models.SentimentSample, error) {
	return nil, nil
}
