package domain

import "time"

// Candle represents a single fixed-width OHLC bar. While the bar is building
// its high/low/close move with incoming ticks; once its window elapses it is
// appended to history and never mutated again.
type Candle struct {
	WindowStart time.Time // Start of the aggregation window
	Open        float64
	High        float64
	Low         float64
	Close       float64
}
