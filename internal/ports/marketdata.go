package ports

import (
	"context"

	"perpagent/internal/domain"
)

// MarketDataClient defines the REST side of the market feed boundary:
// startup snapshots, historical bars for candle seeding, and order book
// depth for the currently viewed asset.
type MarketDataClient interface {
	// Snapshot retrieves per-asset price/previous-day-price/volume stats for
	// the requested symbols.
	Snapshot(ctx context.Context, symbols []string) (map[string]domain.AssetStat, error)

	// HistoricalCandles retrieves up to limit closed bars for the symbol,
	// oldest first, at the aggregator's window duration.
	HistoricalCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error)

	// OrderBook retrieves the best bid/ask levels for the symbol.
	OrderBook(ctx context.Context, symbol string, limit int) (domain.OrderBook, error)
}

// PriceFeed is a single streaming connection delivering asset->price batches.
// Serve establishes the connection and invokes handler for every update
// batch until the connection drops; malformed frames are dropped by the
// implementation, never passed to errHandler. The returned channels follow
// the usual websocket-serve contract: doneCh closes when the connection
// ends, stopCh tears it down.
type PriceFeed interface {
	Serve(handler func(prices map[string]float64), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
