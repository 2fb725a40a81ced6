package domain

// Decision is a single trade recommendation returned by the decision
// provider. It is consumed immediately by the scheduler and not retained
// beyond opening a position.
type Decision struct {
	Side       Side
	Leverage   int
	Confidence int // 0-100
	Reasoning  string

	// Suggested exit levels; 0 when the provider did not supply one.
	StopLoss   float64
	TakeProfit float64
}
