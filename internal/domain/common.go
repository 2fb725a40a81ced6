package domain

// Side represents the direction of a leveraged exposure, or the absence of
// one when the decision provider recommends staying out of the market.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
	Wait  Side = "WAIT"
)

// IsDirectional reports whether the side opens an actual exposure.
func (s Side) IsDirectional() bool {
	return s == Long || s == Short
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "Stop Loss"
	CloseReasonTakeProfit CloseReason = "Take Profit"
	CloseReasonManual     CloseReason = "Manual"
)
