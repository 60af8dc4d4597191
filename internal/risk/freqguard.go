package risk

import (
	"time"

	"autotrader/internal/modules/config"
)

// FrequencyGuard rate-limits entries independently of risk sizing: no more
// than maxPerHour trades in the trailing window, and at least minInterval
// between consecutive trades. Both this guard and the risk gate must pass
// for an entry.
//
// Owned by the decision loop goroutine; not safe for concurrent use.
type FrequencyGuard struct {
	maxPerHour  int
	minInterval time.Duration
	window      time.Duration

	times []time.Time
}

func NewFrequencyGuard(cfg *config.Config) *FrequencyGuard {
	return &FrequencyGuard{
		maxPerHour:  cfg.Risk.MaxTradesPerHour,
		minInterval: cfg.Risk.MinTradeInterval,
		window:      time.Hour,
	}
}

// Allow reports whether a new entry may happen at `now`. Stale timestamps
// are evicted lazily on each check.
func (g *FrequencyGuard) Allow(now time.Time) bool {
	g.evict(now)

	if g.maxPerHour > 0 && len(g.times) >= g.maxPerHour {
		return false
	}
	if g.minInterval > 0 && len(g.times) > 0 {
		if now.Sub(g.times[len(g.times)-1]) < g.minInterval {
			return false
		}
	}
	return true
}

// Record registers an accepted entry.
func (g *FrequencyGuard) Record(now time.Time) {
	g.evict(now)
	g.times = append(g.times, now)
}

// Remove forgets one recorded timestamp. Used when a submitted entry is
// rejected or expires unfilled: a trade that never happened must not count
// against the budget.
func (g *FrequencyGuard) Remove(ts time.Time) {
	for i, v := range g.times {
		if v.Equal(ts) {
			g.times = append(g.times[:i], g.times[i+1:]...)
			return
		}
	}
}

func (g *FrequencyGuard) evict(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.times) && !g.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.times = append(g.times[:0], g.times[i:]...)
	}
}

// Times returns a copy of the current window, for the persisted snapshot.
func (g *FrequencyGuard) Times() []time.Time {
	out := make([]time.Time, len(g.times))
	copy(out, g.times)
	return out
}

// Restore reloads the window from a persisted snapshot.
func (g *FrequencyGuard) Restore(times []time.Time) {
	g.times = append(g.times[:0], times...)
}
