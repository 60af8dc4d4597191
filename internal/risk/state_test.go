package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/models"
)

func TestStateCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("halts on third consecutive loss", func(t *testing.T) {
		st := NewState(now)
		assert.False(t, st.ApplyOutcome(-10, 3))
		assert.False(t, st.ApplyOutcome(-10, 3))
		assert.True(t, st.ApplyOutcome(-10, 3))

		halted, reason := st.Halted()
		require.True(t, halted)
		assert.Equal(t, models.HaltConsecutiveLosses, reason)
	})

	t.Run("halt persists until explicit resume", func(t *testing.T) {
		st := NewState(now)
		for i := 0; i < 3; i++ {
			st.ApplyOutcome(-10, 3)
		}

		// a winning trade does not clear the halt
		st.ApplyOutcome(50, 3)
		halted, _ := st.Halted()
		assert.True(t, halted)

		st.Resume()
		halted, reason := st.Halted()
		assert.False(t, halted)
		assert.Equal(t, models.HaltNone, reason)
		assert.Equal(t, 0, st.LossStreak())
	})

	t.Run("clear halt is reason specific", func(t *testing.T) {
		st := NewState(now)
		st.Halt(models.HaltConsecutiveLosses)
		assert.False(t, st.ClearHalt(models.HaltTrackingUnavailable))
		halted, _ := st.Halted()
		assert.True(t, halted)

		st2 := NewState(now)
		st2.Halt(models.HaltTrackingUnavailable)
		assert.True(t, st2.ClearHalt(models.HaltTrackingUnavailable))
		halted, _ = st2.Halted()
		assert.False(t, halted)
	})

	t.Run("halt does not overwrite existing reason", func(t *testing.T) {
		st := NewState(now)
		st.Halt(models.HaltConsecutiveLosses)
		st.Halt(models.HaltTrackingUnavailable)
		_, reason := st.Halted()
		assert.Equal(t, models.HaltConsecutiveLosses, reason)
	})
}

func TestStateRollover(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)

	st := NewState(day1)
	st.ApplyOutcome(-10, 5)
	st.ApplyOutcome(-10, 5)

	assert.False(t, st.Rollover(day1.Add(time.Minute)))
	require.True(t, st.Rollover(day2))

	assert.Equal(t, 0.0, st.RealizedPnL())
	assert.Equal(t, 0, st.LossStreak())

	t.Run("halt survives rollover", func(t *testing.T) {
		st := NewState(day1)
		st.Halt(models.HaltConsecutiveLosses)
		st.Rollover(day2)
		halted, reason := st.Halted()
		assert.True(t, halted)
		assert.Equal(t, models.HaltConsecutiveLosses, reason)
	})
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := NewState(now)
	st.ApplyOutcome(-15, 3)
	st.ApplyOutcome(-20, 3)

	restored := Restore(st.Snapshot())
	assert.Equal(t, st.RealizedPnL(), restored.RealizedPnL())
	assert.Equal(t, st.LossStreak(), restored.LossStreak())

	h1, r1 := st.Halted()
	h2, r2 := restored.Halted()
	assert.Equal(t, h1, h2)
	assert.Equal(t, r1, r2)
}
