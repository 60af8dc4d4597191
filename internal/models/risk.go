package models

import "time"

// HaltReason is the reason code carried by the halted flag.
type HaltReason string

const (
	HaltNone                HaltReason = ""
	HaltConsecutiveLosses   HaltReason = "consecutive_losses"
	HaltTrackingUnavailable HaltReason = "tracking_unavailable"
	HaltDailyLoss           HaltReason = "daily_loss_limit"
	HaltManual              HaltReason = "manual"
)

// RiskSnapshot is the persisted form of the risk state.
type RiskSnapshot struct {
	SessionDate       string      `json:"session_date"` // UTC, 2006-01-02
	RealizedPnL       float64     `json:"realized_pnl"`
	ConsecutiveLosses int         `json:"consecutive_losses"`
	Halted            bool        `json:"halted"`
	HaltReason        HaltReason  `json:"halt_reason"`
	TradeTimes        []time.Time `json:"trade_times"`
}

// EngineSnapshot is the single crash-recovery snapshot: risk state plus the
// positions the lifecycle machine was tracking. Written atomically
// (temp file + rename) each cycle.
type EngineSnapshot struct {
	Version   int          `json:"version"`
	SavedAt   time.Time    `json:"saved_at"`
	Risk      RiskSnapshot `json:"risk"`
	Positions []Position   `json:"positions"`
}

const EngineSnapshotVersion = 1
