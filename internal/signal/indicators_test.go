package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"autotrader/internal/models"
)

func candles(closes []float64) []models.Candle {
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Start: base.Add(time.Duration(i) * time.Minute),
			Open:  c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
		}
	}
	return out
}

func TestRSI(t *testing.T) {
	t.Run("insufficient history is neutral", func(t *testing.T) {
		assert.Equal(t, 50.0, rsi([]float64{1, 2, 3}, 14))
	})

	t.Run("flat series is neutral", func(t *testing.T) {
		flat := make([]float64, 30)
		for i := range flat {
			flat[i] = 100
		}
		assert.Equal(t, 50.0, rsi(flat, 14))
	})

	t.Run("pure gains saturate high", func(t *testing.T) {
		assert.Equal(t, 100.0, rsi(ascending(30, 100, 1), 14))
	})

	t.Run("pure losses saturate low", func(t *testing.T) {
		assert.InDelta(t, 0.0, rsi(descending(30, 130, 1), 14), 1e-9)
	})
}

func TestEMA(t *testing.T) {
	assert.Equal(t, 0.0, ema(nil, 12))
	assert.Equal(t, 5.0, ema([]float64{5}, 12))

	// a fast EMA of a rising series sits above a slow one
	series := ascending(40, 100, 1)
	assert.Greater(t, ema(series, 5), ema(series, 20))
}

func TestATR(t *testing.T) {
	assert.Equal(t, 0.0, atr(candles(ascending(5, 100, 1)), 14))

	// each candle spans 2 with a 1-point drift: TR = max(2, |gap|)
	got := atr(candles(ascending(30, 100, 1)), 14)
	assert.InDelta(t, 2.0, got, 1e-9)
}

func TestVWAP(t *testing.T) {
	cs := candles([]float64{100, 102})
	assert.InDelta(t, 101.0, vwap(cs), 1e-9)

	t.Run("zero volume falls back to typical average", func(t *testing.T) {
		for i := range cs {
			cs[i].Volume = 0
		}
		assert.InDelta(t, 101.0, vwap(cs), 1e-9)
	})
}

func TestChoppinessIndex(t *testing.T) {
	t.Run("trending market reads low", func(t *testing.T) {
		trending := choppinessIndex(candles(ascending(30, 100, 2)), 14)
		ranging := choppinessIndex(candles([]float64{
			100, 101, 100, 101, 100, 101, 100, 101, 100, 101,
			100, 101, 100, 101, 100, 101, 100, 101, 100, 101,
		}), 14)
		assert.Less(t, trending, ranging)
	})

	t.Run("degenerate window is neutral", func(t *testing.T) {
		assert.Equal(t, 50.0, choppinessIndex(candles([]float64{100}), 14))
	})
}

func TestCorrelation(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5}
	down := []float64{5, 4, 3, 2, 1}

	assert.InDelta(t, 1.0, correlation(up, up), 1e-9)
	assert.InDelta(t, -1.0, correlation(up, down), 1e-9)
	assert.Equal(t, 0.0, correlation(up, []float64{7}))

	t.Run("tails align when lengths differ", func(t *testing.T) {
		long := []float64{9, 9, 9, 1, 2, 3, 4, 5}
		assert.InDelta(t, 1.0, correlation(up, long[3:]), 1e-9)
	})
}
