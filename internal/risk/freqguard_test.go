package risk

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"

	"autotrader/internal/modules/config"
)

func freqConfig(maxPerHour int, minInterval time.Duration) *config.Config {
	cfg := &config.Config{}
	cfg.Risk.MaxTradesPerHour = maxPerHour
	cfg.Risk.MinTradeInterval = minInterval
	return cfg
}

func TestFrequencyGuard(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("min interval blocks back to back trades", func(t *testing.T) {
		g := NewFrequencyGuard(freqConfig(10, 5*time.Minute))

		assert.True(t, g.Allow(base))
		g.Record(base)

		assert.False(t, g.Allow(base.Add(200*time.Second)))
		assert.True(t, g.Allow(base.Add(5*time.Minute)))
	})

	t.Run("hourly cap", func(t *testing.T) {
		g := NewFrequencyGuard(freqConfig(2, 0))
		g.Record(base)
		g.Record(base.Add(10 * time.Minute))

		assert.False(t, g.Allow(base.Add(20*time.Minute)))
		// first trade leaves the window after an hour
		assert.True(t, g.Allow(base.Add(61*time.Minute)))
	})

	t.Run("zero limits disable the checks", func(t *testing.T) {
		g := NewFrequencyGuard(freqConfig(0, 0))
		for i := 0; i < 50; i++ {
			now := base.Add(time.Duration(i) * time.Second)
			assert.True(t, g.Allow(now))
			g.Record(now)
		}
	})

	t.Run("removed entry frees the budget", func(t *testing.T) {
		g := NewFrequencyGuard(freqConfig(1, 0))
		g.Record(base)
		assert.False(t, g.Allow(base.Add(time.Minute)))

		g.Remove(base)
		assert.True(t, g.Allow(base.Add(time.Minute)))
	})

	t.Run("restore reloads the window", func(t *testing.T) {
		g := NewFrequencyGuard(freqConfig(2, 0))
		g.Record(base)
		g.Record(base.Add(time.Minute))

		g2 := NewFrequencyGuard(freqConfig(2, 0))
		g2.Restore(g.Times())
		assert.False(t, g2.Allow(base.Add(2*time.Minute)))
	})
}

// The window invariant: however requests arrive, the guard never lets the
// count of recorded trades within any trailing hour exceed the cap.
func TestFrequencyGuardWindowProperty(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	property := func(offsets []uint16, cap8 uint8) bool {
		maxPerHour := int(cap8%5) + 1
		g := NewFrequencyGuard(freqConfig(maxPerHour, 0))

		now := base
		var recorded []time.Time
		for _, off := range offsets {
			now = now.Add(time.Duration(off) * time.Second)
			if g.Allow(now) {
				g.Record(now)
				recorded = append(recorded, now)
			}

			inWindow := 0
			for _, ts := range recorded {
				if now.Sub(ts) < time.Hour {
					inWindow++
				}
			}
			if inWindow > maxPerHour {
				return false
			}
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Fatal(err)
	}
}
