package models

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MarketSnapshot is the view of one symbol at one point in time.
// History is a bounded lookback window, oldest bar first.
// A snapshot is never mutated after capture.
type MarketSnapshot struct {
	Symbol  string
	Price   float64
	Volume  float64
	At      time.Time
	History []Candle
}

// Closes returns the close series of the history window, oldest first.
func (s *MarketSnapshot) Closes() []float64 {
	out := make([]float64, len(s.History))
	for i, c := range s.History {
		out[i] = c.Close
	}
	return out
}

// Returns computes bar-to-bar relative returns over the history window.
func (s *MarketSnapshot) Returns() []float64 {
	closes := s.Closes()
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// SentimentSample is what the sentiment provider returns for a symbol.
// Polarity is in [-1, 1], ArticleCount the number of articles behind it.
type SentimentSample struct {
	Symbol       string
	Polarity     float64
	ArticleCount int
	At           time.Time
}
