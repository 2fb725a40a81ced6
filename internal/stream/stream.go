package stream

import (
	"context"
	"sync"
	"time"

	"perpagent/internal/ports"
)

const (
	// DefaultReconnectDelay applies after an established connection drops.
	DefaultReconnectDelay = 2 * time.Second
	// DefaultConnectRetryDelay applies after a failed connection attempt.
	DefaultConnectRetryDelay = 5 * time.Second
)

type subscriber struct {
	id int
	fn func(prices map[string]float64)
}

// PriceStream maintains a persistent price feed connection and fans incoming
// asset->price batches out to subscribers. Reconnection is an unconditional
// fixed-delay retry with no cap: this is a best-effort, always-on feed for an
// interactively supervised process, not an SLA-bound service.
type PriceStream struct {
	feed              ports.PriceFeed
	logger            ports.Logger
	reconnectDelay    time.Duration
	connectRetryDelay time.Duration

	mu      sync.Mutex
	subs    []subscriber
	nextID  int
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Config holds configuration for the price stream.
type Config struct {
	Feed              ports.PriceFeed
	Logger            ports.Logger
	ReconnectDelay    time.Duration
	ConnectRetryDelay time.Duration
}

// New creates a price stream over the given feed.
func New(cfg Config) (*PriceStream, error) {
	if cfg.Feed == nil || cfg.Logger == nil {
		return nil, ports.ErrConfigurationError
	}
	reconnect := cfg.ReconnectDelay
	if reconnect <= 0 {
		reconnect = DefaultReconnectDelay
	}
	retry := cfg.ConnectRetryDelay
	if retry <= 0 {
		retry = DefaultConnectRetryDelay
	}
	return &PriceStream{
		feed:              cfg.Feed,
		logger:            cfg.Logger,
		reconnectDelay:    reconnect,
		connectRetryDelay: retry,
	}, nil
}

// Subscribe registers a fan-out listener and returns its unsubscribe handle.
// Listeners are invoked synchronously, in registration order, on every
// successful update batch.
func (s *PriceStream) Subscribe(fn func(prices map[string]float64)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *PriceStream) broadcast(prices map[string]float64) {
	// Snapshot the subscriber list under the lock, deliver outside it so one
	// slow subscriber cannot block register/unregister.
	s.mu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(prices)
	}
}

// Connect starts the feed loop. Calling Connect on an already connected
// stream is a no-op.
func (s *PriceStream) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	done := s.done
	s.mu.Unlock()

	go s.run(runCtx, done)
}

func (s *PriceStream) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	errHandler := func(err error) {
		// Stream-level errors are logged only; the serve loop below owns
		// reconnection when the connection actually drops.
		s.logger.Warn(ctx, "Price feed error reported", map[string]interface{}{"error": err.Error()})
	}

	for {
		if ctx.Err() != nil {
			return
		}

		feedDone, feedStop, err := s.feed.Serve(s.broadcast, errHandler)
		if err != nil {
			s.logger.Error(ctx, err, "Price feed connection failed, retrying", map[string]interface{}{"delay": s.connectRetryDelay.String()})
			if !sleep(ctx, s.connectRetryDelay) {
				return
			}
			continue
		}
		s.logger.Info(ctx, "Price feed connected")

		select {
		case <-feedDone:
			s.logger.Warn(ctx, "Price feed closed unexpectedly, reconnecting", map[string]interface{}{"delay": s.reconnectDelay.String()})
			if !sleep(ctx, s.reconnectDelay) {
				return
			}
		case <-ctx.Done():
			select {
			case feedStop <- struct{}{}:
			default:
			}
			s.logger.Info(context.Background(), "Price stream disconnected")
			return
		}
	}
}

// sleep waits for d or until ctx is done; it reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Disconnect tears down the connection, suppresses reconnection, and
// releases all subscriber registrations.
func (s *PriceStream) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.running = false
	s.subs = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
