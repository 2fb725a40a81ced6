package domain

// Portfolio is the virtual account state. Balance and Equity move only when a
// position is closed (by its realized net PnL); AvailableMargin is debited on
// open and credited back, plus/minus PnL, on close.
type Portfolio struct {
	Balance         float64
	Equity          float64
	AvailableMargin float64
}
