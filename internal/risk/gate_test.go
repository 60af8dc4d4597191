package risk

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/models"
	"autotrader/internal/modules/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Risk = config.RiskConfig{
		BasePct:           5,
		BonusPct:          10,
		MaxPositionPct:    15,
		MaxConcurrent:     3,
		LossHaltThreshold: 3,
		DailyLossLimitPct: 2,
		StopLossPct:       8,
		TakeProfitPct:     16,
		TrailingStopPct:   5,
		ExitRetryMax:      3,
	}
	cfg.Signal.MinConfidence = 0.65
	return cfg
}

func TestGateSize(t *testing.T) {
	gate := NewGate(testConfig())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("base plus confidence bonus", func(t *testing.T) {
		st := NewState(now)
		frac, err := gate.Size(10000, 0.8, st, 0)
		require.NoError(t, err)
		// 5% + 0.8 * 10% = 13%
		assert.InDelta(t, 0.13, frac, 1e-9)
	})

	t.Run("clamped at max position pct", func(t *testing.T) {
		cfg := testConfig()
		cfg.Risk.MaxPositionPct = 10
		tight := NewGate(cfg)
		st := NewState(now)
		frac, err := tight.Size(10000, 1.0, st, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.10, frac, 1e-9)
	})

	t.Run("loss streak scales down", func(t *testing.T) {
		st := NewState(now)
		st.ApplyOutcome(-10, 10)
		frac, err := gate.Size(10000, 0.8, st, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.13*0.8, frac, 1e-9)

		st.ApplyOutcome(-10, 10)
		frac, err = gate.Size(10000, 0.8, st, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.13*0.64, frac, 1e-9)
	})

	t.Run("loss scaling floored at half", func(t *testing.T) {
		st := NewState(now)
		for i := 0; i < 6; i++ {
			st.ApplyOutcome(-10, 100)
		}
		// 0.8^6 ≈ 0.26, floored at 0.5
		frac, err := gate.Size(10000, 0.8, st, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.13*0.5, frac, 1e-9)
	})

	t.Run("win resets the streak", func(t *testing.T) {
		st := NewState(now)
		st.ApplyOutcome(-10, 10)
		st.ApplyOutcome(-10, 10)
		st.ApplyOutcome(25, 10)
		frac, err := gate.Size(10000, 0.8, st, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.13, frac, 1e-9)
	})
}

func TestGateRejections(t *testing.T) {
	gate := NewGate(testConfig())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("halted wins over everything", func(t *testing.T) {
		st := NewState(now)
		st.Halt(models.HaltManual)
		_, err := gate.Size(10000, 0.2, st, 5)
		var rej *Rejection
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, RejectHalted, rej.Reason)
	})

	t.Run("daily loss limit", func(t *testing.T) {
		st := NewState(now)
		st.ApplyOutcome(-250, 100) // 2.5% of 10000, limit is 2%
		_, err := gate.Size(10000, 0.9, st, 0)
		var rej *Rejection
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, RejectDailyLoss, rej.Reason)
	})

	t.Run("max concurrent positions", func(t *testing.T) {
		st := NewState(now)
		_, err := gate.Size(10000, 0.9, st, 3)
		var rej *Rejection
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, RejectMaxPositions, rej.Reason)
	})

	t.Run("confidence below floor", func(t *testing.T) {
		st := NewState(now)
		_, err := gate.Size(10000, 0.64, st, 0)
		var rej *Rejection
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, RejectLowConfidence, rej.Reason)
	})

	t.Run("confidence at floor passes", func(t *testing.T) {
		st := NewState(now)
		_, err := gate.Size(10000, 0.65, st, 0)
		assert.NoError(t, err)
	})
}

func TestGateSizeNeverExceedsMax(t *testing.T) {
	gate := NewGate(testConfig())
	st := NewState(time.Now())

	for conf := 0.65; conf <= 1.0; conf += 0.01 {
		frac, err := gate.Size(10000, conf, st, 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, frac, 0.15+1e-12)
		assert.True(t, math.Signbit(frac) == false && frac > 0)
	}
}
