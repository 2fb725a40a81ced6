package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"perpagent/internal/domain"
	"perpagent/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.MarketDataClient and ports.PriceFeed
// interfaces using the go-binance futures library. Only public market-data
// endpoints are used; API keys are optional.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	interval      string // Kline interval matching the aggregator window
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	CandleWindow time.Duration
	Logger       ports.Logger
}

// New creates a new Binance market-data adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	interval, err := intervalFor(cfg.CandleWindow)
	if err != nil {
		return nil, err
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "interval": interval})

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		interval:      interval,
	}, nil
}

// intervalFor maps a candle window duration onto the Binance kline interval
// notation.
func intervalFor(window time.Duration) (string, error) {
	switch window {
	case 0, 900 * time.Second:
		return "15m", nil
	case time.Minute:
		return "1m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "1h", nil
	case 4 * time.Hour:
		return "4h", nil
	case 24 * time.Hour:
		return "1d", nil
	default:
		return "", fmt.Errorf("no Binance kline interval for window %s: %w", window, ports.ErrConfigurationError)
	}
}

// handleError translates common Binance API errors into standardized ports
// errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -2014, -2015: // API-key format invalid / bad permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1121:
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Snapshot retrieves 24h ticker stats for the requested symbols.
func (c *Client) Snapshot(ctx context.Context, symbols []string) (map[string]domain.AssetStat, error) {
	op := "Snapshot"
	stats, err := c.futuresClient.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	out := make(map[string]domain.AssetStat, len(symbols))
	for _, st := range stats {
		if !wanted[st.Symbol] {
			continue
		}
		price, err := strconv.ParseFloat(st.LastPrice, 64)
		if err != nil {
			c.logger.Warn(ctx, op+": dropping unparsable ticker entry", map[string]interface{}{"symbol": st.Symbol, "lastPrice": st.LastPrice})
			continue
		}
		prevDay, _ := strconv.ParseFloat(st.PrevClosePrice, 64)
		volume, _ := strconv.ParseFloat(st.Volume, 64)
		out[st.Symbol] = domain.AssetStat{
			Asset:        st.Symbol,
			Price:        price,
			PrevDayPrice: prevDay,
			Volume:       volume,
		}
	}
	if len(out) == 0 {
		err := fmt.Errorf("no ticker data returned for %v", symbols)
		return nil, c.handleError(ctx, err, op)
	}
	return out, nil
}

// HistoricalCandles retrieves up to limit closed bars for the symbol at the
// configured window interval, oldest first.
func (c *Client) HistoricalCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	op := "HistoricalCandles"
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(c.interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := translateKline(k)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// OrderBook retrieves the best bid/ask levels for the symbol.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (domain.OrderBook, error) {
	op := "OrderBook"
	res, err := c.futuresClient.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return domain.OrderBook{}, c.handleError(ctx, err, op)
	}

	book := domain.OrderBook{Asset: symbol}
	for _, b := range res.Bids {
		price, qty, err := b.Parse()
		if err != nil {
			continue
		}
		book.Bids = append(book.Bids, domain.BookLevel{Price: price, Quantity: qty})
	}
	for _, a := range res.Asks {
		price, qty, err := a.Parse()
		if err != nil {
			continue
		}
		book.Asks = append(book.Asks, domain.BookLevel{Price: price, Quantity: qty})
	}
	return book, nil
}

// Serve opens the all-symbols mark-price websocket stream and feeds each
// update batch to handler as an asset->price map. Malformed entries are
// dropped here so one corrupt frame cannot kill the feed; the connection
// lifecycle (doneCh/stopCh) is left to the caller, which owns reconnection.
func (c *Client) Serve(handler func(prices map[string]float64), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	wsHandler := func(event futures.WsAllMarkPriceEvent) {
		prices := make(map[string]float64, len(event))
		for _, e := range event {
			if e == nil {
				continue
			}
			price, err := strconv.ParseFloat(e.MarkPrice, 64)
			if err != nil || price <= 0 {
				c.logger.Debug(context.Background(), "Dropping malformed mark price entry", map[string]interface{}{"symbol": e.Symbol, "markPrice": e.MarkPrice})
				continue
			}
			prices[e.Symbol] = price
		}
		if len(prices) > 0 {
			handler(prices)
		}
	}

	doneCh, stopCh, err = futures.WsAllMarkPriceServe(wsHandler, errHandler)
	if err != nil {
		return nil, nil, c.handleError(context.Background(), err, "Serve")
	}
	return doneCh, stopCh, nil
}

func translateKline(k *futures.Kline) (domain.Candle, error) {
	if k == nil {
		return domain.Candle{}, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}

	return domain.Candle{
		WindowStart: time.UnixMilli(k.OpenTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       cls,
	}, nil
}
