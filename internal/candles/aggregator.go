package candles

import (
	"context"
	"sync"
	"time"

	"perpagent/internal/domain"
	"perpagent/internal/ports"
)

const (
	// DefaultWindow is the fixed candle aggregation window.
	DefaultWindow = 900 * time.Second

	// DefaultMaxHistory bounds the closed-candle series to keep memory flat.
	DefaultMaxHistory = 500
)

// Aggregator folds a stream of price ticks into fixed-duration OHLC bars for
// one tracked asset at a time. Exactly one candle is mutable ("building") at
// any moment; bars pushed to history are immutable.
type Aggregator struct {
	logger     ports.Logger
	window     time.Duration
	maxHistory int

	mu       sync.Mutex
	asset    string
	building *domain.Candle
	history  []domain.Candle
}

// New creates an aggregator with the given window duration. Non-positive
// arguments fall back to the defaults.
func New(window time.Duration, maxHistory int, logger ports.Logger) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Aggregator{
		logger:     logger,
		window:     window,
		maxHistory: maxHistory,
		history:    make([]domain.Candle, 0, maxHistory),
	}
}

// Window returns the fixed window duration.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// Asset returns the currently tracked asset, empty if none.
func (a *Aggregator) Asset() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.asset
}

// SetAsset switches the tracked asset. The in-progress building candle is
// discarded and the whole series is re-seeded from the supplied historical
// bars (a cold reload, not an incremental rebuild). The new building candle
// opens at the last seed close; with no seed the aggregator waits for the
// first tick.
func (a *Aggregator) SetAsset(asset string, seed []domain.Candle, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.asset = asset
	a.building = nil
	if len(seed) > a.maxHistory {
		seed = seed[len(seed)-a.maxHistory:]
	}
	a.history = append(a.history[:0], seed...)

	if len(seed) > 0 {
		last := seed[len(seed)-1]
		a.building = &domain.Candle{
			WindowStart: now,
			Open:        last.Close,
			High:        last.Close,
			Low:         last.Close,
			Close:       last.Close,
		}
	}
	if a.logger != nil {
		a.logger.Info(context.Background(), "Candle series reloaded", map[string]interface{}{"asset": asset, "seedBars": len(seed)})
	}
}

// OnTick folds one price observation into the building candle. Ticks for
// other assets, and non-positive prices, are ignored.
func (a *Aggregator) OnTick(asset string, price float64) {
	if price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if asset != a.asset || a.asset == "" {
		return
	}

	if a.building == nil {
		// First tick after a cold start with no seed bars.
		a.building = &domain.Candle{
			WindowStart: time.Now().UTC(),
			Open:        price,
			High:        price,
			Low:         price,
			Close:       price,
		}
		return
	}

	a.building.Close = price
	if price > a.building.High {
		a.building.High = price
	}
	if price < a.building.Low {
		a.building.Low = price
	}
}

// AdvanceClock checks the building candle against the window boundary and,
// if the window has elapsed, finalizes it into history and opens the next
// one seeded from its close. At most one boundary is processed per call:
// after a long pause a single catch-up candle is produced rather than one
// per missed window.
func (a *Aggregator) AdvanceClock(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.building == nil {
		return
	}

	boundary := a.building.WindowStart.Add(a.window)
	if now.Before(boundary) {
		return
	}

	finalized := *a.building
	a.history = append(a.history, finalized)
	if len(a.history) > a.maxHistory {
		a.history = a.history[len(a.history)-a.maxHistory:]
	}

	a.building = &domain.Candle{
		WindowStart: boundary,
		Open:        finalized.Close,
		High:        finalized.Close,
		Low:         finalized.Close,
		Close:       finalized.Close,
	}
	if a.logger != nil {
		a.logger.Debug(context.Background(), "Candle finalized", map[string]interface{}{
			"asset":       a.asset,
			"windowStart": finalized.WindowStart,
			"close":       finalized.Close,
		})
	}
}

// Closed returns a copy of the immutable closed-candle history, oldest first.
func (a *Aggregator) Closed() []domain.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Candle, len(a.history))
	copy(out, a.history)
	return out
}

// Building returns a copy of the in-progress candle, if one exists.
func (a *Aggregator) Building() (domain.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.building == nil {
		return domain.Candle{}, false
	}
	return *a.building, true
}

// Series returns the closed history with the building candle appended, for
// indicator computations that want the freshest close.
func (a *Aggregator) Series() []domain.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Candle, 0, len(a.history)+1)
	out = append(out, a.history...)
	if a.building != nil {
		out = append(out, *a.building)
	}
	return out
}
