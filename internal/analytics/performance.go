package analytics

import (
	"fmt"
	"sort"
	"strings"

	"perpagent/internal/domain"
)

// Summary holds aggregate performance metrics over closed positions, used
// for the periodic report side effect and notifications.
type Summary struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalNetPnL   float64
	TotalFees     float64
	AverageWin    float64
	AverageLoss   float64
	BestTrade     float64
	WorstTrade    float64
}

// Summarize calculates performance metrics from closed positions.
func Summarize(closed []domain.Position) Summary {
	var s Summary
	if len(closed) == 0 {
		return s
	}

	sorted := make([]domain.Position, len(closed))
	copy(sorted, closed)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	s.BestTrade = sorted[0].RealizedPnL
	s.WorstTrade = sorted[0].RealizedPnL
	for _, pos := range sorted {
		pnl := pos.RealizedPnL
		s.TotalTrades++
		s.TotalNetPnL += pnl
		s.TotalFees += pos.Fees
		if pnl > 0 {
			s.WinningTrades++
			s.AverageWin = (s.AverageWin*float64(s.WinningTrades-1) + pnl) / float64(s.WinningTrades)
		} else {
			s.LosingTrades++
			s.AverageLoss = (s.AverageLoss*float64(s.LosingTrades-1) + pnl) / float64(s.LosingTrades)
		}
		if pnl > s.BestTrade {
			s.BestTrade = pnl
		}
		if pnl < s.WorstTrade {
			s.WorstTrade = pnl
		}
	}
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
	return s
}

// String renders the summary as a human-readable report.
func (s Summary) String() string {
	if s.TotalTrades == 0 {
		return "Performance: no closed trades yet"
	}
	var sb strings.Builder
	sb.WriteString("Performance summary\n")
	sb.WriteString(fmt.Sprintf("Trades: %d (%d wins / %d losses, %.1f%% win rate)\n",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate*100))
	sb.WriteString(fmt.Sprintf("Net PnL: %.2f (fees paid: %.2f)\n", s.TotalNetPnL, s.TotalFees))
	sb.WriteString(fmt.Sprintf("Avg win: %.2f | Avg loss: %.2f\n", s.AverageWin, s.AverageLoss))
	sb.WriteString(fmt.Sprintf("Best: %.2f | Worst: %.2f", s.BestTrade, s.WorstTrade))
	return sb.String()
}
