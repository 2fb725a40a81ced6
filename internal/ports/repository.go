package ports

import (
	"context"
	"time"

	"perpagent/internal/domain"
)

// StatusSnapshot is a coarse point-in-time view of the whole agent, recorded
// periodically for operational history.
type StatusSnapshot struct {
	TakenAt         time.Time
	Balance         float64
	Equity          float64
	AvailableMargin float64
	OpenPositions   int
	ClosedTrades    int
	TotalNetPnL     float64
}

// TradeRepository stores completed trades. Writes are fire-and-forget from
// the core's perspective: a failed write is logged, never allowed to fail a
// position transition.
type TradeRepository interface {
	// RecordTrade saves a closed trade and returns its assigned ID.
	RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// RecentTrades retrieves the most recent trades, newest first.
	RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error)
}

// StatusRepository stores periodic status snapshots, same fire-and-forget
// semantics as TradeRepository.
type StatusRepository interface {
	RecordStatus(ctx context.Context, snap StatusSnapshot) error
}

// Notifier sends human-readable alerts for trade lifecycle events and
// periodic reports. Failures are logged by callers and never block state
// transitions.
type Notifier interface {
	PositionOpened(ctx context.Context, pos domain.Position) error
	PositionClosed(ctx context.Context, pos domain.Position) error
	Report(ctx context.Context, text string) error
}
