package models

import "time"

// ComponentScores are the per-concern scores feeding the aggregate
// confidence. Each value is in [0, 1].
type ComponentScores struct {
	Technical       float64
	Sentiment       float64
	Advanced        float64
	MarketCondition float64
	Risk            float64
}

// Weights for the component scores. They should sum to 1.
type Weights struct {
	Technical       float64
	Sentiment       float64
	Advanced        float64
	MarketCondition float64
	Risk            float64
}

func DefaultWeights() Weights {
	return Weights{
		Technical:       0.35,
		Sentiment:       0.25,
		Advanced:        0.20,
		MarketCondition: 0.10,
		Risk:            0.10,
	}
}

// Signal is the scored view of one symbol for one cycle. It is recomputed
// every cycle and not persisted.
type Signal struct {
	Symbol     string
	Side       string // BUY / SELL, empty when the technicals give no direction
	Components ComponentScores
	Weights    Weights
	Confidence float64 // weighted sum of components, clamped to [0,1]
	At         time.Time
}
