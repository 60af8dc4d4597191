package service

import (
	"sync"
	"time"

	"autotrader/internal/models"
)

// State is the shared status surface between the engine (writer) and the
// health endpoint / CLI status command (readers).
type State struct {
	mu        sync.RWMutex
	startedAt time.Time

	ready bool

	halted     bool
	haltReason models.HaltReason

	cycle         uint64
	lastCycleAt   time.Time
	openPositions int
	realizedPnL   float64
	lossStreak    int
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

func (s *State) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// RecordCycle is called by the engine at the end of every decision cycle.
func (s *State) RecordCycle(cycle uint64, at time.Time, open int, pnl float64, streak int, halted bool, reason models.HaltReason) {
	s.mu.Lock()
	s.cycle = cycle
	s.lastCycleAt = at
	s.openPositions = open
	s.realizedPnL = pnl
	s.lossStreak = streak
	s.halted = halted
	s.haltReason = reason
	s.mu.Unlock()
}

type Status struct {
	Ready         bool              `json:"ready"`
	Halted        bool              `json:"halted"`
	HaltReason    models.HaltReason `json:"halt_reason"`
	Cycle         uint64            `json:"cycle"`
	LastCycleUnix int64             `json:"last_cycle_unix"`
	OpenPositions int               `json:"open_positions"`
	RealizedPnL   float64           `json:"realized_pnl"`
	LossStreak    int               `json:"loss_streak"`
	UptimeSec     int64             `json:"uptime_sec"`
}

func (s *State) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last int64
	if !s.lastCycleAt.IsZero() {
		last = s.lastCycleAt.Unix()
	}
	return Status{
		Ready:         s.ready,
		Halted:        s.halted,
		HaltReason:    s.haltReason,
		Cycle:         s.cycle,
		LastCycleUnix: last,
		OpenPositions: s.openPositions,
		RealizedPnL:   s.realizedPnL,
		LossStreak:    s.lossStreak,
		UptimeSec:     int64(time.Since(s.startedAt).Seconds()),
	}
}
