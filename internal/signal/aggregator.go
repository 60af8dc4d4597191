package signal

import (
	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// Aggregator converts a market snapshot plus sentiment into a single
// confidence score per symbol. Score is a pure function of its inputs:
// no hidden state survives between cycles, which is what makes the
// decision loop replayable in tests.
type Aggregator struct {
	cfg config.SignalConfig
}

func NewAggregator(cfg *config.Config) *Aggregator {
	return &Aggregator{cfg: cfg.Signal}
}

// Score computes the per-component scores and the weighted aggregate,
// clamped to [0,1]. A nil sentiment sample degrades that component to
// neutral rather than failing the cycle.
func (a *Aggregator) Score(snap *models.MarketSnapshot, sent *models.SentimentSample, book Book) models.Signal {
	technical, side := technicalScore(a.cfg, snap)

	components := models.ComponentScores{
		Technical:       technical,
		Sentiment:       a.sentimentScore(sent),
		Advanced:        advancedScore(a.cfg, snap),
		MarketCondition: marketConditionScore(a.cfg, snap),
		Risk:            riskComponentScore(snap, book),
	}

	w := a.cfg.Weights
	confidence := clamp01(
		w.Technical*components.Technical +
			w.Sentiment*components.Sentiment +
			w.Advanced*components.Advanced +
			w.MarketCondition*components.MarketCondition +
			w.Risk*components.Risk,
	)

	return models.Signal{
		Symbol:     snap.Symbol,
		Side:       side,
		Components: components,
		Weights:    w,
		Confidence: confidence,
		At:         snap.At,
	}
}

// sentimentScore maps polarity [-1,1] to [0,1] and pulls the result toward
// neutral when too few articles back it.
func (a *Aggregator) sentimentScore(sent *models.SentimentSample) float64 {
	if sent == nil {
		return 0.5
	}
	base := clamp01((sent.Polarity + 1) / 2)
	if a.cfg.MinArticles > 0 && sent.ArticleCount < a.cfg.MinArticles {
		frac := float64(sent.ArticleCount) / float64(a.cfg.MinArticles)
		return 0.5 + (base-0.5)*frac
	}
	return base
}

// Reversal reports whether momentum has crossed back against an open
// position: RSI returning through overbought for longs, oversold for
// shorts. Used as the lowest-priority exit trigger.
func (a *Aggregator) Reversal(snap *models.MarketSnapshot, side string) bool {
	closes := snap.Closes()
	if len(closes) < a.cfg.RSIPeriod+1 {
		return false
	}
	r := rsi(closes, a.cfg.RSIPeriod)
	if side == models.SideSell {
		return r <= a.cfg.RSIOversold
	}
	return r >= a.cfg.RSIOverbought
}
