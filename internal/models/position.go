package models

import "time"

type PositionStatus string

const (
	StatusPending PositionStatus = "PENDING"
	StatusOpen    PositionStatus = "OPEN"
	StatusExiting PositionStatus = "EXITING"
	StatusClosed  PositionStatus = "CLOSED"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position is one tracked position. At most one open position per symbol.
// Owned by the lifecycle machine; nothing else mutates it.
type Position struct {
	Symbol     string
	Side       string // BUY / SELL
	Qty        float64
	Entry      float64
	EntryTime  time.Time
	SL         float64
	TP         float64
	TrailHWM   float64 // high-water mark for the trailing stop, monotone in the favorable direction
	Status     PositionStatus
	Confidence float64 // aggregated confidence at entry

	OrderID      string
	ExitOrderID  string
	ExitReason   string
	SubmittedAt  time.Time
	ExitAttempts int
}

// Favorable reports whether px is a favorable move relative to the position side.
func (p *Position) Favorable(px float64) bool {
	if p.Side == SideSell {
		return px < p.TrailHWM
	}
	return px > p.TrailHWM
}

// PnL is the realized profit for an exit at px.
func (p *Position) PnL(px float64) float64 {
	if p.Side == SideSell {
		return (p.Entry - px) * p.Qty
	}
	return (px - p.Entry) * p.Qty
}

// ExitSide is the order side that closes the position.
func (p *Position) ExitSide() string {
	if p.Side == SideSell {
		return SideBuy
	}
	return SideSell
}

// TradeRecord is the immutable append-only record emitted when a position
// closes. Never mutated after creation.
type TradeRecord struct {
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Confidence float64
	Reason     string
	EntryTime  time.Time
	ExitTime   time.Time
}

// BrokerPosition is the broker's authoritative view of a holding.
type BrokerPosition struct {
	Symbol   string
	Side     string
	Qty      float64
	AvgEntry float64
	MarketPx float64
}

// Account is the broker account summary used for sizing.
type Account struct {
	Equity  float64
	Cash    float64
	Blocked bool
}

type OrderStatus string

const (
	OrderNew      OrderStatus = "NEW"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderCanceled OrderStatus = "CANCELED"
)

// OrderRequest is what the engine submits. ClientID is the idempotency key:
// resubmitting the same ClientID after an ambiguous failure must not create
// a second order.
type OrderRequest struct {
	ClientID string
	Symbol   string
	Side     string
	Qty      float64
	Kind     string // market / stop
	StopPx   float64
}

type Order struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      string
	Qty       float64
	Kind      string
	Status    OrderStatus
	FilledQty float64
	FilledPx  float64
	At        time.Time
}
