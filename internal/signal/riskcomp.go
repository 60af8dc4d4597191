package signal

import "autotrader/internal/models"

// Book is the read-only view of the open position set used by the risk
// component: per-symbol return series and aggregate portfolio heat
// (fraction of capital currently at risk, in [0,1]).
type Book struct {
	OpenReturns map[string][]float64
	Heat        float64
}

// riskComponentScore penalizes candidates correlated with what is already
// open and scales down as portfolio heat rises.
func riskComponentScore(snap *models.MarketSnapshot, book Book) float64 {
	heatScore := clamp01(1 - book.Heat)

	if len(book.OpenReturns) == 0 {
		return (1 + heatScore) / 2
	}

	candidate := snap.Returns()
	maxCorr := 0.0
	for _, open := range book.OpenReturns {
		c := correlation(candidate, open)
		if c > maxCorr {
			maxCorr = c
		}
	}

	corrScore := clamp01(1 - maxCorr)
	return (corrScore + heatScore) / 2
}
