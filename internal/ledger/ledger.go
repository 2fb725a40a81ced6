package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpagent/internal/domain"
	"perpagent/internal/ports"
)

// Ledger owns the virtual portfolio and every open/closed position. It is
// the single writer of that state: all mutations go through Open,
// MarkToMarket and Close, serialized by one mutex, and readers only ever get
// value snapshots.
type Ledger struct {
	logger  ports.Logger
	feeRate float64

	mu        sync.Mutex
	portfolio domain.Portfolio
	open      map[string]*domain.Position // keyed by asset; at most one per asset
	closed    []*domain.Position
}

// Config holds configuration for the ledger.
type Config struct {
	InitialBalance float64
	FeeRate        float64 // Per-side fee rate applied on notional
	Logger         ports.Logger
}

// New creates a ledger with the full initial balance available as margin.
func New(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger: %w", ports.ErrConfigurationError)
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		return nil, fmt.Errorf("fee rate must be in [0,1): %w", ports.ErrConfigurationError)
	}
	return &Ledger{
		logger:  cfg.Logger,
		feeRate: cfg.FeeRate,
		portfolio: domain.Portfolio{
			Balance:         cfg.InitialBalance,
			Equity:          cfg.InitialBalance,
			AvailableMargin: cfg.InitialBalance,
		},
		open: make(map[string]*domain.Position),
	}, nil
}

// Open creates a new position, debiting its margin from the available
// margin. It rejects, without mutating anything, when the asset already has
// an open position or the margin exceeds what is available. The initial
// unrealized PnL equals the negative entry-side fee: fees are charged
// notionally before any price movement.
func (l *Ledger) Open(asset string, side domain.Side, margin float64, leverage int, entryPrice float64, snap domain.DecisionSnapshot) (domain.Position, error) {
	if !side.IsDirectional() {
		return domain.Position{}, fmt.Errorf("side %q cannot open a position: %w", side, ports.ErrInvalidRequest)
	}
	if margin <= 0 || entryPrice <= 0 || leverage < 1 {
		return domain.Position{}, fmt.Errorf("margin, entry price and leverage must be positive: %w", ports.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.open[asset]; exists {
		return domain.Position{}, fmt.Errorf("asset %s: %w", asset, ports.ErrPositionExists)
	}
	if margin > l.portfolio.AvailableMargin {
		return domain.Position{}, fmt.Errorf("requested %.2f, available %.2f: %w", margin, l.portfolio.AvailableMargin, ports.ErrInsufficientMargin)
	}

	entryFee := margin * float64(leverage) * l.feeRate
	pos := &domain.Position{
		ID:            uuid.NewString(),
		Asset:         asset,
		Side:          side,
		Margin:        margin,
		Leverage:      leverage,
		EntryPrice:    entryPrice,
		EntryTime:     time.Now().UTC(),
		Status:        domain.StatusOpen,
		UnrealizedPnL: -entryFee,
		Fees:          entryFee,
		Snapshot:      snap,
	}

	l.portfolio.AvailableMargin -= margin
	l.open[asset] = pos

	l.logger.Info(context.Background(), "Position opened", map[string]interface{}{
		"positionID": pos.ID,
		"asset":      asset,
		"side":       side,
		"margin":     margin,
		"leverage":   leverage,
		"entryPrice": entryPrice,
	})
	return *pos, nil
}

// pnlAt computes the fee-adjusted PnL of pos at the given price.
func (l *Ledger) pnlAt(pos *domain.Position, price float64) (net, fees float64) {
	notional := pos.Notional()
	quantity := notional / pos.EntryPrice
	gross := (price - pos.EntryPrice) * quantity
	if pos.Side == domain.Short {
		gross = -gross
	}
	// Entry-side fee on notional plus exit-side fee on current notional.
	fees = notional*l.feeRate + quantity*price*l.feeRate
	return gross - fees, fees
}

// MarkToMarket recomputes the unrealized net PnL and accrued fees of the
// open position on asset, if any, against the latest observed price.
func (l *Ledger) MarkToMarket(asset string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.open[asset]
	if !ok {
		return
	}
	pos.UnrealizedPnL, pos.Fees = l.pnlAt(pos, price)
}

// Close transitions the position to closed exactly once. The final PnL is
// recomputed at exitPrice rather than reusing the last cached mark, so a
// stale valuation can never leak into the realized result. On success the
// margin plus net PnL is credited back to available margin and the net PnL
// is added to balance and equity.
func (l *Ledger) Close(positionID string, exitPrice float64, reason domain.CloseReason) (domain.Position, error) {
	if exitPrice <= 0 {
		return domain.Position{}, fmt.Errorf("exit price must be positive: %w", ports.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var pos *domain.Position
	for _, p := range l.open {
		if p.ID == positionID {
			pos = p
			break
		}
	}
	if pos == nil {
		return domain.Position{}, fmt.Errorf("position %s: %w", positionID, ports.ErrPositionNotOpen)
	}

	net, fees := l.pnlAt(pos, exitPrice)
	pos.ExitPrice = exitPrice
	pos.ExitTime = time.Now().UTC()
	pos.Status = domain.StatusClosed
	pos.RealizedPnL = net
	pos.UnrealizedPnL = 0
	pos.Fees = fees
	pos.CloseReason = reason

	l.portfolio.AvailableMargin += pos.Margin + net
	l.portfolio.Balance += net
	l.portfolio.Equity += net

	delete(l.open, pos.Asset)
	l.closed = append(l.closed, pos)

	l.logger.Info(context.Background(), "Position closed", map[string]interface{}{
		"positionID": pos.ID,
		"asset":      pos.Asset,
		"exitPrice":  exitPrice,
		"netPnl":     net,
		"reason":     reason,
	})
	return *pos, nil
}

// OpenPosition returns a snapshot of the open position on asset, if any.
func (l *Ledger) OpenPosition(asset string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.open[asset]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// OpenPositions returns snapshots of all open positions.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, *pos)
	}
	return out
}

// ClosedPositions returns snapshots of all closed positions, oldest first.
func (l *Ledger) ClosedPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.closed))
	for _, pos := range l.closed {
		out = append(out, *pos)
	}
	return out
}

// Portfolio returns a snapshot of the account state. Balance and Equity
// reflect realized PnL only; see MarkedEquity for the mark-to-market view.
func (l *Ledger) Portfolio() domain.Portfolio {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portfolio
}

// MarkedEquity is the true mark-to-market account value: realized balance
// plus the unrealized net PnL of every open position.
func (l *Ledger) MarkedEquity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	equity := l.portfolio.Balance
	for _, pos := range l.open {
		equity += pos.UnrealizedPnL
	}
	return equity
}
