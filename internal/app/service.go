package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"perpagent/config"
	"perpagent/internal/candles"
	"perpagent/internal/domain"
	"perpagent/internal/indicators"
	"perpagent/internal/ledger"
	"perpagent/internal/ports"
	"perpagent/internal/scheduler"
	"perpagent/internal/stream"
)

const (
	seedBarLimit   = 100 // Historical bars fetched when a candle series is (re)loaded
	clockTickEvery = time.Second
	newsBufferCap  = 50
)

// Service wires the market data stream, candle aggregation, ledger and the
// decision scheduler together and owns the process lifecycle.
type Service struct {
	cfg       *config.Config
	logger    ports.Logger
	market    ports.MarketDataClient
	stream    *stream.PriceStream
	candles   *candles.Aggregator
	ledger    *ledger.Ledger
	scheduler *scheduler.Scheduler
	trades    ports.TradeRepository
	notifier  ports.Notifier

	news *newsBuffer

	// State fields
	mu         sync.Mutex // Protects access to state fields below
	lastPrices map[string]float64
	stats      map[string]domain.AssetStat
}

// NewService creates the application service. The trade repository and
// notifier are optional. The service implements scheduler.MarketView, so the
// scheduler is attached separately after construction.
func NewService(
	cfg *config.Config,
	logger ports.Logger,
	market ports.MarketDataClient,
	priceStream *stream.PriceStream,
	agg *candles.Aggregator,
	ldgr *ledger.Ledger,
	trades ports.TradeRepository,
	notifier ports.Notifier,
) (*Service, error) {
	if cfg == nil || logger == nil || market == nil || priceStream == nil || agg == nil || ldgr == nil {
		return nil, fmt.Errorf("missing required dependencies for Service: %w", ports.ErrConfigurationError)
	}
	return &Service{
		cfg:        cfg,
		logger:     logger,
		market:     market,
		stream:     priceStream,
		candles:    agg,
		ledger:     ldgr,
		trades:     trades,
		notifier:   notifier,
		news:       newNewsBuffer(newsBufferCap),
		lastPrices: make(map[string]float64),
		stats:      make(map[string]domain.AssetStat),
	}, nil
}

// AttachScheduler binds the decision scheduler. Must be called before Start.
func (s *Service) AttachScheduler(sched *scheduler.Scheduler) {
	s.scheduler = sched
}

// Start runs the agent until the context is canceled or a termination signal
// arrives, then shuts down gracefully.
func (s *Service) Start(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("no scheduler attached: %w", ports.ErrConfigurationError)
	}
	s.logger.Info(ctx, "Starting trading agent...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// --- Initialization Steps ---
	// 1. Snapshot the basket so 24h stats are available before the stream
	//    delivers its first tick.
	if err := s.refreshSnapshot(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to fetch startup market snapshot")
		return fmt.Errorf("failed to fetch startup snapshot: %w", err)
	}

	// 2. Seed the candle series for the first basket asset.
	if len(s.cfg.Basket) > 0 {
		if err := s.TrackAsset(ctx, s.cfg.Basket[0]); err != nil {
			// Indicator state degrades to neutral until the series fills in.
			s.logger.Warn(ctx, "Failed to seed candle series, starting cold", map[string]interface{}{
				"asset": s.cfg.Basket[0],
				"error": err.Error(),
			})
		}
	}

	// 3. Connect the price stream and subscribe the tick pipeline.
	unsubscribe := s.stream.Subscribe(s.handleTicks)
	defer unsubscribe()
	s.stream.Connect(ctx)
	defer s.stream.Disconnect()

	// 4. Drive candle window boundaries off wall-clock time, not tick
	//    arrival, so quiet markets still close their bars.
	clockDone := make(chan struct{})
	go func() {
		defer close(clockDone)
		ticker := time.NewTicker(clockTickEvery)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.candles.AdvanceClock(now.UTC())
			case <-ctx.Done():
				return
			}
		}
	}()

	// 5. Start the decision scheduler.
	s.scheduler.Start(ctx)

	s.logger.Info(ctx, "Trading agent running", map[string]interface{}{
		"basket":   s.cfg.Basket,
		"interval": s.cfg.AnalysisInterval.String(),
	})

	<-ctx.Done()

	s.logger.Info(context.Background(), "Shutting down trading agent...")
	s.scheduler.Stop()
	<-clockDone
	s.logger.Info(context.Background(), "Trading agent stopped")
	return nil
}

// TrackAsset switches the candle series to the given asset, seeding it from
// historical bars.
func (s *Service) TrackAsset(ctx context.Context, asset string) error {
	seed, err := s.market.HistoricalCandles(ctx, asset, seedBarLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch seed bars for %s: %w", asset, err)
	}
	s.candles.SetAsset(asset, seed, time.Now().UTC())
	return nil
}

// handleTicks is the stream fan-out hook: it refreshes the last-price table,
// folds the tracked asset's tick into the building candle, and marks open
// positions to market.
func (s *Service) handleTicks(prices map[string]float64) {
	s.mu.Lock()
	for asset, price := range prices {
		s.lastPrices[asset] = price
	}
	s.mu.Unlock()

	tracked := s.candles.Asset()
	if price, ok := prices[tracked]; ok {
		s.candles.OnTick(tracked, price)
	}

	for _, pos := range s.ledger.OpenPositions() {
		if price, ok := prices[pos.Asset]; ok {
			s.ledger.MarkToMarket(pos.Asset, price)
		}
	}
}

func (s *Service) refreshSnapshot(ctx context.Context) error {
	stats, err := s.market.Snapshot(ctx, s.cfg.Basket)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for asset, st := range stats {
		s.stats[asset] = st
		if st.Price > 0 {
			s.lastPrices[asset] = st.Price
		}
	}
	return nil
}

// --- scheduler.MarketView implementation ---

// LastPrice returns the most recent observed price for the asset.
func (s *Service) LastPrice(asset string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.lastPrices[asset]
	return price, ok
}

// Change24h returns the percentage change vs. the previous day, zero when no
// snapshot covered the asset.
func (s *Service) Change24h(asset string) float64 {
	s.mu.Lock()
	st, ok := s.stats[asset]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return st.Change24h()
}

// RSI returns the oscillator value for the asset with the tracked candle
// series, neutral for all others.
func (s *Service) RSI(asset string) float64 {
	if asset != s.candles.Asset() {
		return 50
	}
	return indicators.RSI(s.candles.Series(), indicators.DefaultRSIPeriod)
}

// --- Manual operations ---

// ManualClose closes the open position on the asset at the latest observed
// price.
func (s *Service) ManualClose(ctx context.Context, asset string) (domain.Position, error) {
	pos, ok := s.ledger.OpenPosition(asset)
	if !ok {
		return domain.Position{}, fmt.Errorf("no open position on %s: %w", asset, ports.ErrPositionNotOpen)
	}
	price, ok := s.LastPrice(asset)
	if !ok {
		return domain.Position{}, fmt.Errorf("no observed price for %s", asset)
	}

	closed, err := s.ledger.Close(pos.ID, price, domain.CloseReasonManual)
	if err != nil {
		return domain.Position{}, err
	}
	s.logger.Info(ctx, "Position closed manually", map[string]interface{}{
		"positionID": closed.ID,
		"asset":      closed.Asset,
		"netPnl":     closed.RealizedPnL,
	})

	if s.trades != nil {
		trade := domain.Trade{
			PositionID:  closed.ID,
			Asset:       closed.Asset,
			Side:        closed.Side,
			Margin:      closed.Margin,
			Leverage:    closed.Leverage,
			EntryPrice:  closed.EntryPrice,
			ExitPrice:   closed.ExitPrice,
			NetPnL:      closed.RealizedPnL,
			Fees:        closed.Fees,
			EntryTime:   closed.EntryTime,
			ExitTime:    closed.ExitTime,
			CloseReason: closed.CloseReason,
		}
		if _, err := s.trades.RecordTrade(ctx, &trade); err != nil {
			s.logger.Warn(ctx, "Trade record failed", map[string]interface{}{"positionID": closed.ID, "error": err.Error()})
		}
	}
	if s.notifier != nil {
		if err := s.notifier.PositionClosed(ctx, closed); err != nil {
			s.logger.Warn(ctx, "Close notification failed", map[string]interface{}{"positionID": closed.ID, "error": err.Error()})
		}
	}
	return closed, nil
}

// OrderBook fetches the current depth for an asset.
func (s *Service) OrderBook(ctx context.Context, asset string, limit int) (domain.OrderBook, error) {
	return s.market.OrderBook(ctx, asset, limit)
}

// PushNews adds a headline summary to the buffer the decision provider sees.
func (s *Service) PushNews(summary string) {
	s.news.Push(summary)
}

// News exposes the buffer as a ports.NewsSource for the scheduler.
func (s *Service) News() ports.NewsSource {
	return s.news
}

// newsBuffer is a bounded in-memory ring of headline summaries, newest last.
type newsBuffer struct {
	mu    sync.Mutex
	items []string
	cap   int
}

func newNewsBuffer(capacity int) *newsBuffer {
	return &newsBuffer{cap: capacity}
}

func (b *newsBuffer) Push(summary string) {
	if summary == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, summary)
	if len(b.items) > b.cap {
		b.items = b.items[len(b.items)-b.cap:]
	}
}

// Recent returns up to limit of the newest summaries, newest first.
func (b *newsBuffer) Recent(limit int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || len(b.items) == 0 {
		return nil
	}
	if limit > len(b.items) {
		limit = len(b.items)
	}
	out := make([]string, 0, limit)
	for i := len(b.items) - 1; i >= len(b.items)-limit; i-- {
		out = append(out, b.items[i])
	}
	return out
}
