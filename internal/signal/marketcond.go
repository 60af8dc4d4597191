package signal

import (
	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

// marketConditionScore classifies the regime: volatility band, trend vs
// choppiness, and agreement between the full window and its recent half.
func marketConditionScore(cfg config.SignalConfig, snap *models.MarketSnapshot) float64 {
	returns := snap.Returns()
	if len(returns) < cfg.ATRPeriod {
		return 0.5
	}

	vol := stdDev(returns)
	var volRegime float64
	switch {
	case vol < 0.0005:
		volRegime = 0.3 // dead market, nothing to trade
	case vol > 0.04:
		volRegime = 0.2 // chaotic
	default:
		volRegime = 0.8
	}

	chop := choppinessIndex(snap.History, cfg.ATRPeriod)
	chopScore := 0.8
	if chop >= cfg.ChopThreshold {
		// Sideways market: scale down toward zero as chop approaches 100.
		chopScore = clamp01((100 - chop) / (100 - cfg.ChopThreshold) * 0.4)
	}

	return (volRegime + chopScore + timeframeAgreement(cfg, snap)) / 3
}

// timeframeAgreement checks whether the trend direction over the full
// lookback matches the direction over the most recent half.
func timeframeAgreement(cfg config.SignalConfig, snap *models.MarketSnapshot) float64 {
	closes := snap.Closes()
	if len(closes) < 2*cfg.EMASlow {
		return 0.5
	}
	full := trendSign(closes, cfg)
	recent := trendSign(closes[len(closes)/2:], cfg)
	if full == 0 || recent == 0 {
		return 0.5
	}
	if full == recent {
		return 1
	}
	return 0
}

func trendSign(closes []float64, cfg config.SignalConfig) int {
	fast := ema(closes, cfg.EMAFast)
	slow := ema(closes, cfg.EMASlow)
	switch {
	case fast > slow:
		return 1
	case fast < slow:
		return -1
	}
	return 0
}
