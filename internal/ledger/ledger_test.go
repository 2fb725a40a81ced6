package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpagent/internal/domain"
	"perpagent/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestLedger(t *testing.T, balance, feeRate float64) *Ledger {
	t.Helper()
	l, err := New(Config{InitialBalance: balance, FeeRate: feeRate, Logger: &mockLogger{}})
	require.NoError(t, err)
	return l
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{InitialBalance: 1000, FeeRate: 0.001})
	assert.Error(t, err, "missing logger must be rejected")

	_, err = New(Config{InitialBalance: 0, FeeRate: 0.001, Logger: &mockLogger{}})
	assert.Error(t, err, "non-positive balance must be rejected")

	_, err = New(Config{InitialBalance: 1000, FeeRate: 1.0, Logger: &mockLogger{}})
	assert.Error(t, err, "fee rate of 1 must be rejected")
}

func TestOpen_DebitsMarginAndChargesEntryFee(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)

	pos, err := l.Open("ETHUSDT", domain.Long, 1000, 5, 49000, domain.DecisionSnapshot{Confidence: 80})
	require.NoError(t, err)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, 5000.0, pos.Notional())

	// Entry fee is charged on notional before any price movement.
	entryFee := 5000 * 0.001
	assert.InDelta(t, -entryFee, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, entryFee, pos.Fees, 1e-9)

	pf := l.Portfolio()
	assert.Equal(t, 9000.0, pf.AvailableMargin)
	assert.Equal(t, 10000.0, pf.Balance, "balance only moves on close")
	assert.Equal(t, 10000.0, pf.Equity)
}

func TestOpen_Rejections(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)

	_, err := l.Open("BTCUSDT", domain.Wait, 1000, 5, 50000, domain.DecisionSnapshot{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = l.Open("BTCUSDT", domain.Long, -1, 5, 50000, domain.DecisionSnapshot{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = l.Open("BTCUSDT", domain.Long, 20000, 5, 50000, domain.DecisionSnapshot{})
	assert.ErrorIs(t, err, ports.ErrInsufficientMargin)

	_, err = l.Open("BTCUSDT", domain.Long, 1000, 5, 50000, domain.DecisionSnapshot{})
	require.NoError(t, err)
	_, err = l.Open("BTCUSDT", domain.Short, 1000, 5, 50000, domain.DecisionSnapshot{})
	assert.ErrorIs(t, err, ports.ErrPositionExists)

	pf := l.Portfolio()
	assert.Equal(t, 9000.0, pf.AvailableMargin, "rejected opens must not move margin")
}

func TestMarkToMarket_LongPnL(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)

	// margin=1000 lev=5 entry=49000: notional=5000, qty=5000/49000
	_, err := l.Open("ETHUSDT", domain.Long, 1000, 5, 49000, domain.DecisionSnapshot{})
	require.NoError(t, err)

	l.MarkToMarket("ETHUSDT", 50000)
	pos, ok := l.OpenPosition("ETHUSDT")
	require.True(t, ok)

	qty := 5000.0 / 49000.0
	gross := (50000.0 - 49000.0) * qty
	fees := 5000*0.001 + qty*50000*0.001
	assert.InDelta(t, gross-fees, pos.UnrealizedPnL, 1e-6)
	assert.InDelta(t, fees, pos.Fees, 1e-6)

	// Roughly: gross 102.04, fees 10.10, net 91.94
	assert.InDelta(t, 91.94, pos.UnrealizedPnL, 0.01)

	assert.InDelta(t, 10000+pos.UnrealizedPnL, l.MarkedEquity(), 1e-6)
}

func TestMarkToMarket_ShortGainsOnDrop(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)

	_, err := l.Open("BTCUSDT", domain.Short, 1000, 2, 50000, domain.DecisionSnapshot{})
	require.NoError(t, err)

	l.MarkToMarket("BTCUSDT", 48000)
	pos, ok := l.OpenPosition("BTCUSDT")
	require.True(t, ok)
	assert.Greater(t, pos.UnrealizedPnL, 0.0)

	l.MarkToMarket("BTCUSDT", 52000)
	pos, _ = l.OpenPosition("BTCUSDT")
	assert.Less(t, pos.UnrealizedPnL, 0.0)
}

func TestClose_SettlesAtExitPrice(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)

	pos, err := l.Open("ETHUSDT", domain.Long, 1000, 5, 49000, domain.DecisionSnapshot{})
	require.NoError(t, err)

	// A stale mark at a different price must not leak into the settlement.
	l.MarkToMarket("ETHUSDT", 45000)

	closed, err := l.Close(pos.ID, 50000, domain.CloseReasonTakeProfit)
	require.NoError(t, err)

	qty := 5000.0 / 49000.0
	fees := 5000*0.001 + qty*50000*0.001
	net := (50000.0-49000.0)*qty - fees

	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonTakeProfit, closed.CloseReason)
	assert.InDelta(t, net, closed.RealizedPnL, 1e-6)
	assert.Zero(t, closed.UnrealizedPnL)

	pf := l.Portfolio()
	assert.InDelta(t, 10000+net, pf.Balance, 1e-6)
	assert.InDelta(t, 10000+net, pf.Equity, 1e-6)
	assert.InDelta(t, 10000+net, pf.AvailableMargin, 1e-6, "margin plus net comes back")

	_, ok := l.OpenPosition("ETHUSDT")
	assert.False(t, ok)
	require.Len(t, l.ClosedPositions(), 1)
}

func TestClose_Idempotent(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)

	pos, err := l.Open("BTCUSDT", domain.Long, 1000, 2, 50000, domain.DecisionSnapshot{})
	require.NoError(t, err)

	_, err = l.Close(pos.ID, 51000, domain.CloseReasonManual)
	require.NoError(t, err)

	before := l.Portfolio()
	_, err = l.Close(pos.ID, 52000, domain.CloseReasonManual)
	assert.ErrorIs(t, err, ports.ErrPositionNotOpen)
	assert.Equal(t, before, l.Portfolio(), "second close must not settle again")
}

func TestClose_UnknownPosition(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)
	_, err := l.Close("no-such-id", 50000, domain.CloseReasonManual)
	assert.True(t, errors.Is(err, ports.ErrPositionNotOpen))
}

func TestOpen_ConcurrentSameAsset(t *testing.T) {
	l := newTestLedger(t, 10000, 0.001)

	const attempts = 10
	var wg sync.WaitGroup
	errCh := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Open("BTCUSDT", domain.Long, 1000, 2, 50000, domain.DecisionSnapshot{})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	succeeded := 0
	for err := range errCh {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ports.ErrPositionExists)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one open may win")
	assert.Equal(t, 9000.0, l.Portfolio().AvailableMargin)
}

func TestRoundTrip_ZeroFeeConservation(t *testing.T) {
	l := newTestLedger(t, 10000, 0)

	pos, err := l.Open("BTCUSDT", domain.Long, 1000, 3, 50000, domain.DecisionSnapshot{})
	require.NoError(t, err)
	assert.Zero(t, pos.UnrealizedPnL, "no fee means flat PnL at entry")

	closed, err := l.Close(pos.ID, 50000, domain.CloseReasonManual)
	require.NoError(t, err)
	assert.Zero(t, closed.RealizedPnL)

	pf := l.Portfolio()
	assert.Equal(t, 10000.0, pf.Balance)
	assert.Equal(t, 10000.0, pf.AvailableMargin)
}
