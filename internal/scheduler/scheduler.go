package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"perpagent/internal/analytics"
	"perpagent/internal/domain"
	"perpagent/internal/ledger"
	"perpagent/internal/ports"
	"perpagent/internal/risk"
)

const sideEffectTimeout = 30 * time.Second

// MarketView supplies the market context the scheduler hands to the decision
// provider. The app service implements it from stream ticks, the startup
// snapshot and the candle series.
type MarketView interface {
	// LastPrice returns the most recent observed price for the asset.
	LastPrice(asset string) (float64, bool)
	// Change24h returns the percentage change vs. the previous day.
	Change24h(asset string) float64
	// RSI returns the current oscillator value for the asset.
	RSI(asset string) float64
}

// Config holds the scheduler's knobs.
type Config struct {
	Basket         []string
	Interval       time.Duration
	AssetsPerCycle int     // How many basket assets one cycle samples; sampling fewer than the basket rate-limits the provider
	RiskPerTrade   float64 // Fraction of balance committed per entry
	MaxLeverage    int
	MinConfidence  int     // Decisions must score strictly above this
	ReportChance   float64 // Memoryless per-cycle probability of a summary report
}

// Deps are the scheduler's collaborators. Trades, Status, Sentiment, News
// and Notifier are optional; the scheduler degrades gracefully without them.
type Deps struct {
	Logger    ports.Logger
	Ledger    *ledger.Ledger
	Risk      *risk.Manager
	Provider  ports.DecisionProvider
	Market    MarketView
	Sentiment ports.SentimentFeed
	News      ports.NewsSource
	Trades    ports.TradeRepository
	Status    ports.StatusRepository
	Notifier  ports.Notifier
}

// Scheduler is the control loop: on a fixed-period timer it either manages
// an existing position's risk thresholds or requests a new decision and
// opens a position through the ledger. Cycles are single-flight: a timer
// fire while the previous cycle is still running is dropped, not queued.
type Scheduler struct {
	cfg  Config
	deps Deps
	rng  *rand.Rand

	inFlight atomic.Bool

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	intervalCh chan time.Duration
	wg         sync.WaitGroup
}

// New creates a scheduler. Logger, Ledger, Risk, Provider and Market are
// required.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Logger == nil || deps.Ledger == nil || deps.Risk == nil || deps.Provider == nil || deps.Market == nil {
		return nil, fmt.Errorf("missing required dependencies for scheduler: %w", ports.ErrConfigurationError)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.AssetsPerCycle <= 0 {
		cfg.AssetsPerCycle = 1
	}
	// Zero is a legal threshold (any positive confidence passes); only a
	// negative value means unset.
	if cfg.MinConfidence < 0 {
		cfg.MinConfidence = 75
	}
	if cfg.ReportChance <= 0 {
		cfg.ReportChance = 1.0 / 200
	}
	return &Scheduler{
		cfg:        cfg,
		deps:       deps,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		intervalCh: make(chan time.Duration, 1),
	}, nil
}

// Start arms the cycle timer. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stop)
	s.deps.Logger.Info(ctx, "Decision scheduler started", map[string]interface{}{"interval": s.cfg.Interval.String(), "basket": s.cfg.Basket})
}

// Stop halts the timer. An in-flight cycle is allowed to finish, but no new
// cycle starts; Stop returns once everything has drained.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.deps.Logger.Info(context.Background(), "Decision scheduler stopped")
}

// SetInterval re-arms the cycle timer with a new period.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.Interval = d
	s.mu.Unlock()

	// Replace any pending re-arm rather than queueing behind it.
	select {
	case <-s.intervalCh:
	default:
	}
	s.intervalCh <- d
}

func (s *Scheduler) loop(ctx context.Context, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.trigger(ctx)
		case d := <-s.intervalCh:
			ticker.Reset(d)
			s.deps.Logger.Info(ctx, "Cycle interval re-armed", map[string]interface{}{"interval": d.String()})
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// trigger starts one cycle unless the previous one is still in flight.
func (s *Scheduler) trigger(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.deps.Logger.Warn(ctx, "Previous cycle still in flight, skipping")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.runCycle(ctx)
	}()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if len(s.cfg.Basket) == 0 {
		s.deps.Logger.Debug(ctx, "No assets configured, skipping cycle")
		return
	}

	n := s.cfg.AssetsPerCycle
	if n > len(s.cfg.Basket) {
		n = len(s.cfg.Basket)
	}
	for _, idx := range s.rng.Perm(len(s.cfg.Basket))[:n] {
		s.evaluateAsset(ctx, s.cfg.Basket[idx])
	}

	// Coarse, memoryless sampling: about one report every 1/ReportChance
	// cycles rather than a calendar-based schedule.
	if s.rng.Float64() < s.cfg.ReportChance {
		s.report(ctx)
	}
}

func (s *Scheduler) evaluateAsset(ctx context.Context, asset string) {
	if pos, ok := s.deps.Ledger.OpenPosition(asset); ok {
		s.manageRisk(ctx, pos)
		return
	}
	s.tryEnter(ctx, asset)
}

// manageRisk closes the open position when it breaches its stop-loss or
// take-profit threshold. No new decision is requested while a position is
// open on the asset.
func (s *Scheduler) manageRisk(ctx context.Context, pos domain.Position) {
	shouldClose, reason := s.deps.Risk.Assess(pos)
	if !shouldClose {
		s.deps.Logger.Debug(ctx, "Position within risk thresholds", map[string]interface{}{
			"asset":    pos.Asset,
			"pnlRatio": s.deps.Risk.PnLRatio(pos),
		})
		return
	}

	price, ok := s.deps.Market.LastPrice(pos.Asset)
	if !ok {
		s.deps.Logger.Warn(ctx, "No current price for asset, deferring risk close", map[string]interface{}{"asset": pos.Asset})
		return
	}

	closed, err := s.deps.Ledger.Close(pos.ID, price, reason)
	if err != nil {
		// Most likely a concurrent manual close won the race.
		s.deps.Logger.Warn(ctx, "Risk close rejected", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
		return
	}
	s.deps.Logger.Info(ctx, "Risk threshold close", map[string]interface{}{
		"positionID": closed.ID,
		"asset":      closed.Asset,
		"reason":     reason,
		"netPnl":     closed.RealizedPnL,
	})
	s.afterClose(closed)
}

func (s *Scheduler) tryEnter(ctx context.Context, asset string) {
	price, ok := s.deps.Market.LastPrice(asset)
	if !ok {
		s.deps.Logger.Debug(ctx, "No current price for asset, skipping", map[string]interface{}{"asset": asset})
		return
	}

	mc := ports.MarketContext{
		Asset:     asset,
		Price:     price,
		Change24h: s.deps.Market.Change24h(asset),
		RSI:       s.deps.Market.RSI(asset),
		Equity:    s.deps.Ledger.Portfolio().Equity,
	}
	if s.deps.Sentiment != nil {
		if v, err := s.deps.Sentiment.FearGreed(ctx); err != nil {
			s.deps.Logger.Warn(ctx, "Fear & greed fetch failed", map[string]interface{}{"error": err.Error()})
		} else {
			mc.FearGreed = v
		}
	}
	if s.deps.News != nil {
		mc.NewsSummaries = s.deps.News.Recent(5)
	}
	if s.deps.Trades != nil {
		if outcomes, err := s.deps.Trades.RecentTrades(ctx, 10); err != nil {
			s.deps.Logger.Warn(ctx, "Recent trade lookup failed", map[string]interface{}{"error": err.Error()})
		} else {
			mc.Outcomes = outcomes
		}
	}

	// The provider call is the long suspension point of a cycle; no shared
	// lock is held across it.
	dec, err := s.deps.Provider.Propose(ctx, mc)
	if err != nil {
		s.deps.Logger.Warn(ctx, "Decision provider failed, degrading to WAIT", map[string]interface{}{"asset": asset, "error": err.Error()})
		dec = domain.Decision{Side: domain.Wait, Confidence: 0, Reasoning: fmt.Sprintf("provider unavailable: %v", err)}
	}

	if !dec.Side.IsDirectional() || dec.Confidence <= s.cfg.MinConfidence {
		s.deps.Logger.Debug(ctx, "Decision not actionable", map[string]interface{}{
			"asset":      asset,
			"side":       dec.Side,
			"confidence": dec.Confidence,
		})
		return
	}

	pf := s.deps.Ledger.Portfolio()
	size := pf.Balance * s.cfg.RiskPerTrade

	// Re-validate against state that may have changed while the provider
	// call was in flight (e.g. a concurrent manual open). The ledger
	// re-checks both conditions atomically under its own lock; this early
	// check only exists to log the rejection before paying for an Open call.
	if _, exists := s.deps.Ledger.OpenPosition(asset); exists {
		s.deps.Logger.Info(ctx, "Position opened concurrently, dropping decision", map[string]interface{}{"asset": asset})
		return
	}
	if pf.AvailableMargin < size {
		s.deps.Logger.Info(ctx, "Insufficient available margin for entry", map[string]interface{}{
			"asset":     asset,
			"size":      size,
			"available": pf.AvailableMargin,
		})
		return
	}

	leverage := dec.Leverage
	if leverage > s.cfg.MaxLeverage {
		leverage = s.cfg.MaxLeverage
	}
	if leverage < 1 {
		leverage = 1
	}

	snap := domain.DecisionSnapshot{
		RSI:        mc.RSI,
		FearGreed:  mc.FearGreed,
		Confidence: dec.Confidence,
		Reasoning:  dec.Reasoning,
	}
	pos, err := s.deps.Ledger.Open(asset, dec.Side, size, leverage, price, snap)
	if err != nil {
		s.deps.Logger.Warn(ctx, "Entry rejected by ledger", map[string]interface{}{"asset": asset, "error": err.Error()})
		return
	}
	s.deps.Logger.Info(ctx, "Entered position on decision", map[string]interface{}{
		"positionID": pos.ID,
		"asset":      asset,
		"side":       pos.Side,
		"margin":     pos.Margin,
		"leverage":   pos.Leverage,
		"confidence": dec.Confidence,
	})
	s.afterOpen(pos)
}

// afterOpen runs the open-notification side effect without blocking the
// cycle or holding any lock.
func (s *Scheduler) afterOpen(pos domain.Position) {
	s.dispatch(func(ctx context.Context) {
		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.PositionOpened(ctx, pos); err != nil {
				s.deps.Logger.Warn(ctx, "Open notification failed", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
			}
		}
	})
}

// afterClose records the closed trade and sends the close notification,
// fire-and-forget.
func (s *Scheduler) afterClose(pos domain.Position) {
	trade := tradeFromPosition(pos)
	s.dispatch(func(ctx context.Context) {
		if s.deps.Trades != nil {
			if _, err := s.deps.Trades.RecordTrade(ctx, &trade); err != nil {
				s.deps.Logger.Warn(ctx, "Trade record failed", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
			}
		}
		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.PositionClosed(ctx, pos); err != nil {
				s.deps.Logger.Warn(ctx, "Close notification failed", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
			}
		}
	})
}

func (s *Scheduler) report(ctx context.Context) {
	summary := analytics.Summarize(s.deps.Ledger.ClosedPositions())
	pf := s.deps.Ledger.Portfolio()
	snap := ports.StatusSnapshot{
		TakenAt:         time.Now().UTC(),
		Balance:         pf.Balance,
		Equity:          pf.Equity,
		AvailableMargin: pf.AvailableMargin,
		OpenPositions:   len(s.deps.Ledger.OpenPositions()),
		ClosedTrades:    summary.TotalTrades,
		TotalNetPnL:     summary.TotalNetPnL,
	}
	s.deps.Logger.Info(ctx, "Periodic performance report", map[string]interface{}{
		"trades":  summary.TotalTrades,
		"winRate": summary.WinRate,
		"netPnl":  summary.TotalNetPnL,
	})
	s.dispatch(func(ctx context.Context) {
		if s.deps.Status != nil {
			if err := s.deps.Status.RecordStatus(ctx, snap); err != nil {
				s.deps.Logger.Warn(ctx, "Status record failed", map[string]interface{}{"error": err.Error()})
			}
		}
		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.Report(ctx, summary.String()); err != nil {
				s.deps.Logger.Warn(ctx, "Report notification failed", map[string]interface{}{"error": err.Error()})
			}
		}
	})
}

// dispatch runs a side effect on its own goroutine with a bounded context,
// so persistence and alerting can never block or fail a state transition.
func (s *Scheduler) dispatch(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func tradeFromPosition(pos domain.Position) domain.Trade {
	return domain.Trade{
		PositionID:  pos.ID,
		Asset:       pos.Asset,
		Side:        pos.Side,
		Margin:      pos.Margin,
		Leverage:    pos.Leverage,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   pos.ExitPrice,
		NetPnL:      pos.RealizedPnL,
		Fees:        pos.Fees,
		EntryTime:   pos.EntryTime,
		ExitTime:    pos.ExitTime,
		CloseReason: pos.CloseReason,
	}
}
