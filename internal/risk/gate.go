package risk

import (
	"fmt"
	"math"

	"autotrader/internal/modules/config"
)

type RejectReason string

const (
	RejectHalted        RejectReason = "halted"
	RejectDailyLoss     RejectReason = "daily_loss_limit"
	RejectMaxPositions  RejectReason = "max_positions"
	RejectLowConfidence RejectReason = "low_confidence"
)

// Rejection is a sizing refusal. It is a decision, not an error condition:
// callers log it and move on, nothing is retried.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Gate decides whether, and how large, a new entry may be.
type Gate struct {
	cfg           config.RiskConfig
	minConfidence float64
}

func NewGate(cfg *config.Config) *Gate {
	return &Gate{cfg: cfg.Risk, minConfidence: cfg.Signal.MinConfidence}
}

// Size returns the position size as a fraction of balance, or a *Rejection.
// Checks run in a fixed order and short-circuit with no side effects:
// halted, daily loss limit, concurrent position cap, confidence floor.
//
// size = base + confidence*bonus, clamped at max. Each consecutive loss
// scales the result by 0.8, floored at half the unscaled value.
func (g *Gate) Size(balance, confidence float64, st *State, openPositions int) (float64, error) {
	if halted, reason := st.Halted(); halted {
		return 0, &Rejection{Reason: RejectHalted, Detail: string(reason)}
	}

	if g.cfg.DailyLossLimitPct > 0 && balance > 0 {
		limit := balance * g.cfg.DailyLossLimitPct / 100
		if pnl := st.RealizedPnL(); pnl <= -limit {
			return 0, &Rejection{
				Reason: RejectDailyLoss,
				Detail: fmt.Sprintf("realized %.2f, limit %.2f", pnl, -limit),
			}
		}
	}

	if openPositions >= g.cfg.MaxConcurrent {
		return 0, &Rejection{
			Reason: RejectMaxPositions,
			Detail: fmt.Sprintf("%d open, max %d", openPositions, g.cfg.MaxConcurrent),
		}
	}

	if confidence < g.minConfidence {
		return 0, &Rejection{
			Reason: RejectLowConfidence,
			Detail: fmt.Sprintf("%.3f < %.3f", confidence, g.minConfidence),
		}
	}

	frac := (g.cfg.BasePct + confidence*g.cfg.BonusPct) / 100
	if max := g.cfg.MaxPositionPct / 100; frac > max {
		frac = max
	}

	if streak := st.LossStreak(); streak > 0 {
		scale := math.Pow(0.8, float64(streak))
		if scale < 0.5 {
			scale = 0.5
		}
		frac *= scale
	}

	return frac, nil
}
