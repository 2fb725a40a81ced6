package domain

import "time"

// Trade represents a completed (closed) trade, recorded to history and fed
// back into the decision context as a lightweight outcome signal.
type Trade struct {
	ID          int64  // Assigned by the store
	PositionID  string // Ledger position this trade closed
	Asset       string
	Side        Side
	Margin      float64
	Leverage    int
	EntryPrice  float64
	ExitPrice   float64
	NetPnL      float64
	Fees        float64
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}
