package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"perpagent/internal/ports"
)

const defaultURL = "https://api.alternative.me/fng/?limit=1"

// Client fetches the crypto Fear & Greed index. Responses are cached for a
// short TTL so a burst of analysis cycles does not hammer the public API.
type Client struct {
	url    string
	http   *http.Client
	logger ports.Logger

	mu       sync.Mutex
	cached   int
	cachedAt time.Time
	ttl      time.Duration
}

// Config holds configuration for the sentiment client.
type Config struct {
	URL        string        // Optional; defaults to the alternative.me endpoint
	HTTPClient *http.Client  // Optional; a 10s-timeout client is used when nil
	CacheTTL   time.Duration // Optional; defaults to 5 minutes
	Logger     ports.Logger
}

// New creates a sentiment client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for sentiment client")
	}
	url := cfg.URL
	if url == "" {
		url = defaultURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		url:    url,
		http:   httpClient,
		logger: cfg.Logger,
		ttl:    ttl,
	}, nil
}

type fngResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
	} `json:"data"`
}

// FearGreed returns the current index value in [0, 100].
func (c *Client) FearGreed(ctx context.Context) (int, error) {
	c.mu.Lock()
	if !c.cachedAt.IsZero() && time.Since(c.cachedAt) < c.ttl {
		v := c.cached
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fear & greed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fear & greed API error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed fngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("fear & greed: %w: %v", ports.ErrMalformedResponse, err)
	}
	if len(parsed.Data) == 0 {
		return 0, fmt.Errorf("fear & greed: %w: empty data", ports.ErrMalformedResponse)
	}

	value, err := strconv.Atoi(parsed.Data[0].Value)
	if err != nil {
		return 0, fmt.Errorf("fear & greed: %w: %v", ports.ErrMalformedResponse, err)
	}
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	c.mu.Lock()
	c.cached = value
	c.cachedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug(ctx, "Fetched fear & greed index", map[string]interface{}{
		"value":          value,
		"classification": parsed.Data[0].Classification,
	})
	return value, nil
}
