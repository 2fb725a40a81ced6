package risk

import (
	"testing"

	"perpagent/internal/domain"
)

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{StopLossPct: 0, TakeProfitPct: 0.04})
	if err == nil {
		t.Error("Expected error for zero stop loss")
	}
	_, err = NewManager(Config{StopLossPct: 1.5, TakeProfitPct: 0.04})
	if err == nil {
		t.Error("Expected error for stop loss above 1")
	}
	_, err = NewManager(Config{StopLossPct: 0.02, TakeProfitPct: 0})
	if err == nil {
		t.Error("Expected error for zero take profit")
	}
	if _, err = NewManager(Config{StopLossPct: 0.02, TakeProfitPct: 0.04}); err != nil {
		t.Errorf("Unexpected error for valid config: %v", err)
	}
}

func TestManager_Assess(t *testing.T) {
	manager, err := NewManager(Config{StopLossPct: 0.02, TakeProfitPct: 0.04})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// margin=1000, leverage=5 -> notional=5000
	position := func(unrealized float64) domain.Position {
		return domain.Position{
			Asset:         "BTCUSDT",
			Side:          domain.Long,
			Margin:        1000,
			Leverage:      5,
			EntryPrice:    50000,
			Status:        domain.StatusOpen,
			UnrealizedPnL: unrealized,
		}
	}

	tests := []struct {
		name        string
		unrealized  float64
		shouldClose bool
		reason      domain.CloseReason
	}{
		{name: "Within thresholds", unrealized: 50, shouldClose: false},
		{name: "Small loss holds", unrealized: -99, shouldClose: false},
		{name: "Stop loss at exact threshold", unrealized: -100, shouldClose: true, reason: domain.CloseReasonStopLoss},
		{name: "Stop loss breached", unrealized: -250, shouldClose: true, reason: domain.CloseReasonStopLoss},
		{name: "Take profit at exact threshold", unrealized: 200, shouldClose: true, reason: domain.CloseReasonTakeProfit},
		{name: "Take profit exceeded", unrealized: 400, shouldClose: true, reason: domain.CloseReasonTakeProfit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shouldClose, reason := manager.Assess(position(tt.unrealized))
			if shouldClose != tt.shouldClose {
				t.Errorf("Expected shouldClose=%v, got %v", tt.shouldClose, shouldClose)
			}
			if reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, reason)
			}
		})
	}
}

func TestManager_PnLRatio(t *testing.T) {
	manager, _ := NewManager(Config{StopLossPct: 0.02, TakeProfitPct: 0.04})

	pos := domain.Position{Margin: 1000, Leverage: 5, UnrealizedPnL: -100}
	ratio := manager.PnLRatio(pos)
	if ratio != -0.02 {
		t.Errorf("Expected ratio -0.02, got %f", ratio)
	}

	// Degenerate position without notional cannot divide by zero.
	if got := manager.PnLRatio(domain.Position{}); got != 0 {
		t.Errorf("Expected ratio 0 for zero notional, got %f", got)
	}
}
