package signal

import (
	"math"

	"autotrader/internal/models"
)

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// ema returns the last value of an exponential moving average seeded with
// the first element.
func ema(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	k := 2.0 / float64(period+1)
	out := values[0]
	for _, v := range values[1:] {
		out = out + k*(v-out)
	}
	return out
}

// rsi is Wilder's relative strength index over the close series. Returns the
// neutral 50 when there is not enough history.
func rsi(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain := 0.0
		loss := 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (1-alpha)*avgGain + alpha*gain
		avgLoss = (1-alpha)*avgLoss + alpha*loss
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func trueRange(c, prev models.Candle) float64 {
	tr := c.High - c.Low
	if d := math.Abs(c.High - prev.Close); d > tr {
		tr = d
	}
	if d := math.Abs(c.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// atr is the average true range over the last `period` bars.
func atr(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	start := len(candles) - period
	sum := 0.0
	for i := start; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	return sum / float64(period)
}

// vwap is the volume-weighted average price over the window. Falls back to
// the plain average of typical prices when the window carries no volume.
func vwap(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	pv := 0.0
	vol := 0.0
	tpSum := 0.0
	for _, c := range candles {
		tp := (c.High + c.Low + c.Close) / 3
		pv += tp * c.Volume
		vol += c.Volume
		tpSum += tp
	}
	if vol == 0 {
		return tpSum / float64(len(candles))
	}
	return pv / vol
}

// choppinessIndex over the last `period` bars. High values (> ~61.8) mean a
// sideways, directionless market.
func choppinessIndex(candles []models.Candle, period int) float64 {
	if period <= 1 || len(candles) < period+1 {
		return 50
	}
	start := len(candles) - period
	trSum := 0.0
	hi := candles[start].High
	lo := candles[start].Low
	for i := start; i < len(candles); i++ {
		trSum += trueRange(candles[i], candles[i-1])
		if candles[i].High > hi {
			hi = candles[i].High
		}
		if candles[i].Low < lo {
			lo = candles[i].Low
		}
	}
	if hi <= lo || trSum <= 0 {
		return 50
	}
	return 100 * math.Log10(trSum/(hi-lo)) / math.Log10(float64(period))
}

// correlation is the Pearson coefficient of two equally meaningful series.
// The longer series is truncated from the front so the tails align.
func correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	ma := mean(a)
	mb := mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da := a[i] - ma
		db := b[i] - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}
