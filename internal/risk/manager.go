package risk

import (
	"fmt"

	"perpagent/internal/domain"
)

// Config holds the risk thresholds applied to open positions.
type Config struct {
	StopLossPct   float64 // Close when pnlRatio <= -StopLossPct
	TakeProfitPct float64 // Close when pnlRatio >= TakeProfitPct
}

// Manager assesses open positions against stop-loss/take-profit thresholds.
// The ratio it works with is net PnL over notional, so a 5x position loses
// its stop-loss headroom five times faster than its margin alone would
// suggest.
type Manager struct {
	cfg Config
}

// NewManager creates a risk manager instance.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1 {
		return nil, fmt.Errorf("stop loss percent must be between 0 and 1, got %f", cfg.StopLossPct)
	}
	if cfg.TakeProfitPct <= 0 {
		return nil, fmt.Errorf("take profit percent must be positive, got %f", cfg.TakeProfitPct)
	}
	return &Manager{cfg: cfg}, nil
}

// PnLRatio returns the position's net PnL as a fraction of its notional.
func (m *Manager) PnLRatio(pos domain.Position) float64 {
	notional := pos.Notional()
	if notional == 0 {
		return 0
	}
	return pos.UnrealizedPnL / notional
}

// Assess reports whether the open position breaches a risk threshold and,
// if so, the close reason to record.
func (m *Manager) Assess(pos domain.Position) (bool, domain.CloseReason) {
	ratio := m.PnLRatio(pos)
	switch {
	case ratio <= -m.cfg.StopLossPct:
		return true, domain.CloseReasonStopLoss
	case ratio >= m.cfg.TakeProfitPct:
		return true, domain.CloseReasonTakeProfit
	default:
		return false, ""
	}
}
