package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

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

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "perpagent-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return repo
}

func sampleTrade(asset string, exitTime time.Time, netPnL float64) *domain.Trade {
	return &domain.Trade{
		PositionID:  "pos-" + asset,
		Asset:       asset,
		Side:        domain.Long,
		Margin:      1000,
		Leverage:    3,
		EntryPrice:  50000,
		ExitPrice:   51000,
		NetPnL:      netPnL,
		Fees:        6.06,
		EntryTime:   exitTime.Add(-2 * time.Hour),
		ExitTime:    exitTime,
		CloseReason: domain.CloseReasonTakeProfit,
	}
}

func TestRepository_RecordAndRecentTrades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	older := sampleTrade("BTCUSDT", now.Add(-3*time.Hour), 55)
	newer := sampleTrade("ETHUSDT", now, -20)
	newer.Side = domain.Short
	newer.CloseReason = domain.CloseReasonStopLoss

	id, err := repo.RecordTrade(ctx, older)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Equal(t, id, older.ID)

	_, err = repo.RecordTrade(ctx, newer)
	require.NoError(t, err)

	trades, err := repo.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Newest first.
	assert.Equal(t, "ETHUSDT", trades[0].Asset)
	assert.Equal(t, domain.Short, trades[0].Side)
	assert.Equal(t, domain.CloseReasonStopLoss, trades[0].CloseReason)
	assert.Equal(t, -20.0, trades[0].NetPnL)
	assert.Equal(t, "pos-ETHUSDT", trades[0].PositionID)
	assert.Equal(t, "BTCUSDT", trades[1].Asset)
}

func TestRepository_RecentTradesLimit(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := repo.RecordTrade(ctx, sampleTrade("BTCUSDT", now.Add(time.Duration(i)*time.Minute), float64(i)))
		require.NoError(t, err)
	}

	trades, err := repo.RecentTrades(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
	assert.Equal(t, 4.0, trades[0].NetPnL, "limit keeps the newest rows")
}

func TestRepository_RecentTradesEmpty(t *testing.T) {
	repo := setupTestDB(t)

	trades, err := repo.RecentTrades(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRepository_RecordStatus(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	snap := ports.StatusSnapshot{
		TakenAt:         time.Now().UTC(),
		Balance:         10120.5,
		Equity:          10120.5,
		AvailableMargin: 9120.5,
		OpenPositions:   1,
		ClosedTrades:    7,
		TotalNetPnL:     120.5,
	}
	require.NoError(t, repo.RecordStatus(ctx, snap))
	require.NoError(t, repo.RecordStatus(ctx, snap))

	var count int
	err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_snapshots`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: "/tmp/x.db"})
	assert.Error(t, err)
}
