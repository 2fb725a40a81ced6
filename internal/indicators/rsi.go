package indicators

import "perpagent/internal/domain"

const (
	// DefaultRSIPeriod is the conventional lookback for the oscillator.
	DefaultRSIPeriod = 14

	// neutralRSI is returned when there is not enough history to compute a
	// meaningful value. A sentinel, not an error: callers treat it as "no
	// signal either way".
	neutralRSI = 50.0
)

// RSI computes the Relative Strength Index over the closed candle series
// using Wilder's smoothing. The computation is pure and restartable; callers
// re-supply the full series on every call.
//
// Fewer than period+1 closes yields the neutral default 50. A zero smoothed
// average loss clamps to the bullish extreme 100. The result is always in
// [0, 100].
func RSI(candles []domain.Candle, period int) float64 {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	if len(candles) < period+1 {
		return neutralRSI
	}

	// Deltas between consecutive closes.
	changes := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		changes = append(changes, candles[i].Close-candles[i-1].Close)
	}

	// Simple averages over the first period deltas.
	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing over the remaining deltas.
	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		return 100
	}

	rsi := 100 - 100/(1+avgGain/avgLoss)
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi
}
