package domain

import "time"

// DecisionSnapshot captures the market context at the moment a position was
// opened, for later audit of why the entry happened.
type DecisionSnapshot struct {
	RSI        float64
	FearGreed  int
	Confidence int
	Reasoning  string
}

// Position represents an open or closed leveraged exposure against the
// virtual portfolio. A position transitions open -> closed exactly once and
// is immutable afterwards.
type Position struct {
	ID         string // Assigned by the ledger on open
	Asset      string // Trading symbol (e.g. "BTCUSDT")
	Side       Side
	Margin     float64 // Cash committed to the position
	Leverage   int
	EntryPrice float64
	EntryTime  time.Time
	ExitPrice  float64   // 0 while open
	ExitTime   time.Time // Zero value while open
	Status     PositionStatus

	// UnrealizedPnL is the net (fee-adjusted) mark-to-market result while the
	// position is open; RealizedPnL is set once, on close.
	UnrealizedPnL float64
	RealizedPnL   float64
	Fees          float64 // Accrued entry + exit side fees at the latest mark

	CloseReason CloseReason // Empty while open
	Snapshot    DecisionSnapshot
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Notional is the economic exposure size of the position.
func (p *Position) Notional() float64 {
	return p.Margin * float64(p.Leverage)
}

// Quantity is the asset quantity controlled by the position.
func (p *Position) Quantity() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return p.Notional() / p.EntryPrice
}
