package signal

import (
	"math"

	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// advancedScore blends volatility-normalized trend strength, mean-reversion
// distance from VWAP and volume-profile concentration.
func advancedScore(cfg config.SignalConfig, snap *models.MarketSnapshot) float64 {
	if len(snap.History) < cfg.ATRPeriod+1 {
		return 0.5
	}

	a := atr(snap.History, cfg.ATRPeriod)
	if a <= 0 {
		return 0.5
	}

	closes := snap.Closes()
	fast := ema(closes, cfg.EMAFast)
	slow := ema(closes, cfg.EMASlow)
	trendScore := clamp01(math.Abs(fast-slow) / a / 2)

	// Distance from VWAP in ATR units: the further price is stretched, the
	// larger the mean-reversion opportunity.
	vw := vwap(snap.History)
	meanRev := 0.5
	if vw > 0 {
		meanRev = clamp01(math.Abs(snap.Price-vw) / a / 3)
	}

	return (trendScore + meanRev + volumeConcentration(snap.History)) / 3
}

// volumeConcentration buckets the window into price bins and measures how
// much of the traded volume sits in the busiest bin.
func volumeConcentration(candles []models.Candle) float64 {
	const bins = 10
	if len(candles) == 0 {
		return 0.5
	}

	lo := candles[0].Close
	hi := candles[0].Close
	total := 0.0
	for _, c := range candles {
		if c.Close < lo {
			lo = c.Close
		}
		if c.Close > hi {
			hi = c.Close
		}
		total += c.Volume
	}
	if total == 0 || hi <= lo {
		return 0.5
	}

	var buckets [bins]float64
	width := (hi - lo) / bins
	for _, c := range candles {
		i := int((c.Close - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		buckets[i] += c.Volume
	}

	maxBucket := 0.0
	for _, b := range buckets {
		if b > maxBucket {
			maxBucket = b
		}
	}
	return clamp01(maxBucket / total)
}
