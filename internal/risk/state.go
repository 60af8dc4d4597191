package risk

import (
	"sync"
	"time"

	"autotrader/internal/models"
)

const sessionDateLayout = "2006-01-02"

// State is the process-wide risk state: session realized P&L, the
// consecutive-loss counter and the halted flag. All writes go through the
// decision loop goroutine; the mutex only covers concurrent readers
// (health endpoint, telegram status).
type State struct {
	mu sync.Mutex

	sessionDate       string
	realizedPnL       float64
	consecutiveLosses int
	halted            bool
	haltReason        models.HaltReason
}

func NewState(now time.Time) *State {
	return &State{sessionDate: now.UTC().Format(sessionDateLayout)}
}

// Restore rebuilds the state from a persisted snapshot so a restart resumes
// with the halted flag and loss counter it had, not a clean slate.
func Restore(snap models.RiskSnapshot) *State {
	return &State{
		sessionDate:       snap.SessionDate,
		realizedPnL:       snap.RealizedPnL,
		consecutiveLosses: snap.ConsecutiveLosses,
		halted:            snap.Halted,
		haltReason:        snap.HaltReason,
	}
}

// Rollover resets session counters when the UTC day changes. The halted
// flag survives the rollover: halts are never cleared silently.
func (s *State) Rollover(now time.Time) bool {
	day := now.UTC().Format(sessionDateLayout)
	s.mu.Lock()
	defer s.mu.Unlock()
	if day == s.sessionDate {
		return false
	}
	s.sessionDate = day
	s.realizedPnL = 0
	s.consecutiveLosses = 0
	return true
}

// ApplyOutcome records a realized trade result. A loss increments the
// consecutive-loss counter, a gain or breakeven resets it. When the counter
// reaches haltThreshold the circuit breaker trips. Returns true when this
// call tripped it.
func (s *State) ApplyOutcome(pnl float64, haltThreshold int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.realizedPnL += pnl
	if pnl >= 0 {
		s.consecutiveLosses = 0
		return false
	}

	s.consecutiveLosses++
	if haltThreshold > 0 && s.consecutiveLosses >= haltThreshold && !s.halted {
		s.halted = true
		s.haltReason = models.HaltConsecutiveLosses
		return true
	}
	return false
}

func (s *State) Halt(reason models.HaltReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	s.haltReason = reason
}

// Resume clears any halt. Only reachable through an explicit operator
// action (CLI / telegram command), never called by the engine itself.
func (s *State) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = false
	s.haltReason = models.HaltNone
	s.consecutiveLosses = 0
}

// ClearHalt removes the halt only when the current reason matches. Used for
// the reasons with their own recovery condition: tracking_unavailable (a
// successful refresh) and daily_loss_limit (the next session rollover).
func (s *State) ClearHalt(reason models.HaltReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halted || s.haltReason != reason {
		return false
	}
	s.halted = false
	s.haltReason = models.HaltNone
	return true
}

func (s *State) Halted() (bool, models.HaltReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted, s.haltReason
}

func (s *State) RealizedPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedPnL
}

func (s *State) LossStreak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveLosses
}

func (s *State) Snapshot() models.RiskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.RiskSnapshot{
		SessionDate:       s.sessionDate,
		RealizedPnL:       s.realizedPnL,
		ConsecutiveLosses: s.consecutiveLosses,
		Halted:            s.halted,
		HaltReason:        s.haltReason,
	}
}
