package candles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpagent/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func seedBars(start time.Time, window time.Duration, closes ...float64) []domain.Candle {
	bars := make([]domain.Candle, len(closes))
	for i, c := range closes {
		bars[i] = domain.Candle{
			WindowStart: start.Add(time.Duration(i) * window),
			Open:        c,
			High:        c,
			Low:         c,
			Close:       c,
		}
	}
	return bars
}

func TestAggregator_TickFolding(t *testing.T) {
	agg := New(15*time.Minute, 10, &mockLogger{})
	agg.SetAsset("BTCUSDT", nil, time.Now())

	agg.OnTick("BTCUSDT", 100)
	agg.OnTick("BTCUSDT", 105)
	agg.OnTick("BTCUSDT", 98)

	building, ok := agg.Building()
	require.True(t, ok)
	assert.Equal(t, 100.0, building.Open)
	assert.Equal(t, 105.0, building.High)
	assert.Equal(t, 98.0, building.Low)
	assert.Equal(t, 98.0, building.Close)
}

func TestAggregator_IgnoresOtherAssetsAndBadPrices(t *testing.T) {
	agg := New(15*time.Minute, 10, &mockLogger{})
	agg.SetAsset("BTCUSDT", nil, time.Now())

	agg.OnTick("ETHUSDT", 100)
	agg.OnTick("BTCUSDT", 0)
	agg.OnTick("BTCUSDT", -5)

	_, ok := agg.Building()
	assert.False(t, ok, "no valid tick should have opened a candle")
}

func TestAggregator_FinalizeAndRespawn(t *testing.T) {
	window := 15 * time.Minute
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg := New(window, 10, &mockLogger{})
	agg.SetAsset("BTCUSDT", seedBars(start.Add(-window), window, 99.0), start)

	agg.OnTick("BTCUSDT", 100)
	agg.OnTick("BTCUSDT", 105)

	// Before the boundary, nothing closes.
	agg.AdvanceClock(start.Add(window - time.Second))
	assert.Len(t, agg.Closed(), 1)

	agg.AdvanceClock(start.Add(window))
	closed := agg.Closed()
	require.Len(t, closed, 2)
	assert.Equal(t, 105.0, closed[1].Close)
	assert.Equal(t, 99.0, closed[1].Open, "building candle opens at the prior close")

	// The respawned candle is seeded flat from the finalized close.
	building, ok := agg.Building()
	require.True(t, ok)
	assert.Equal(t, start.Add(window), building.WindowStart)
	assert.Equal(t, 105.0, building.Open)
	assert.Equal(t, 105.0, building.High)
	assert.Equal(t, 105.0, building.Low)
	assert.Equal(t, 105.0, building.Close)
}

func TestAggregator_SingleCatchUpAfterPause(t *testing.T) {
	window := 15 * time.Minute
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg := New(window, 10, &mockLogger{})
	agg.SetAsset("BTCUSDT", seedBars(start.Add(-window), window, 100.0), start)

	// A clock jump spanning several windows still closes only one bar per
	// call, with the next bar anchored one window forward.
	agg.AdvanceClock(start.Add(5 * window))
	assert.Len(t, agg.Closed(), 2)

	building, ok := agg.Building()
	require.True(t, ok)
	assert.Equal(t, start.Add(window), building.WindowStart)

	agg.AdvanceClock(start.Add(5 * window))
	assert.Len(t, agg.Closed(), 3)
}

func TestAggregator_SetAssetReseeds(t *testing.T) {
	window := 15 * time.Minute
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg := New(window, 10, &mockLogger{})
	agg.SetAsset("BTCUSDT", seedBars(start.Add(-2*window), window, 100.0, 101.0), start)
	agg.OnTick("BTCUSDT", 102)

	agg.SetAsset("ETHUSDT", seedBars(start.Add(-window), window, 2000.0), start)

	closed := agg.Closed()
	require.Len(t, closed, 1, "old history must be discarded on reload")
	assert.Equal(t, 2000.0, closed[0].Close)
	assert.Equal(t, "ETHUSDT", agg.Asset())

	building, ok := agg.Building()
	require.True(t, ok)
	assert.Equal(t, 2000.0, building.Open)

	// Ticks for the previous asset no longer apply.
	agg.OnTick("BTCUSDT", 103)
	building, _ = agg.Building()
	assert.Equal(t, 2000.0, building.Close)
}

func TestAggregator_HistoryBounded(t *testing.T) {
	window := 15 * time.Minute
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg := New(window, 3, &mockLogger{})
	agg.SetAsset("BTCUSDT", seedBars(start.Add(-window), window, 100.0), start)

	for i := 1; i <= 6; i++ {
		agg.AdvanceClock(start.Add(time.Duration(i) * window))
	}
	assert.Len(t, agg.Closed(), 3)
}

func TestAggregator_SeriesIncludesBuilding(t *testing.T) {
	window := 15 * time.Minute
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg := New(window, 10, &mockLogger{})
	agg.SetAsset("BTCUSDT", seedBars(start.Add(-window), window, 100.0), start)
	agg.OnTick("BTCUSDT", 104)

	series := agg.Series()
	require.Len(t, series, 2)
	assert.Equal(t, 104.0, series[1].Close)
}
