package signal

import (
	"math"

	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// technicalScore scores the momentum/trend picture and picks the entry side.
// Side is empty when the technicals give no actionable direction.
func technicalScore(cfg config.SignalConfig, snap *models.MarketSnapshot) (float64, string) {
	closes := snap.Closes()
	if len(closes) < cfg.EMASlow+1 {
		return 0.5, ""
	}

	r := rsi(closes, cfg.RSIPeriod)
	fast := ema(closes, cfg.EMAFast)
	slow := ema(closes, cfg.EMASlow)

	// Strength grows toward the RSI extremes, weak in the neutral zone.
	var rsiScore float64
	switch {
	case r < 25 || r > 75:
		rsiScore = 0.9
	case r < 35 || r > 65:
		rsiScore = 0.7
	default:
		rsiScore = 0.3
	}

	var crossScore float64
	if slow > 0 {
		crossScore = clamp01(math.Abs(fast-slow) / slow * 50)
	}

	bandScore := bandExpansion(closes, cfg.BollingerPeriod)

	side := ""
	switch {
	case r <= cfg.RSIOversold:
		side = models.SideBuy
	case r >= cfg.RSIOverbought:
		side = models.SideSell
	case crossScore >= 0.3 && fast > slow:
		side = models.SideBuy
	case crossScore >= 0.3 && fast < slow:
		side = models.SideSell
	}

	return (rsiScore + crossScore + bandScore) / 3, side
}

// bandExpansion compares the current Bollinger band width against the
// preceding window. > 0.5 means the bands are widening (volatility entering
// the move), < 0.5 contracting.
func bandExpansion(closes []float64, period int) float64 {
	if period <= 1 || len(closes) < 2*period {
		return 0.5
	}
	cur := closes[len(closes)-period:]
	prev := closes[len(closes)-2*period : len(closes)-period]

	curWidth := bandWidth(cur)
	prevWidth := bandWidth(prev)
	if curWidth == 0 && prevWidth == 0 {
		return 0.5
	}
	return clamp01(curWidth / (curWidth + prevWidth))
}

func bandWidth(window []float64) float64 {
	m := mean(window)
	if m == 0 {
		return 0
	}
	return 4 * stdDev(window) / m
}
