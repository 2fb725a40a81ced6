package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"perpagent/internal/domain"
	"perpagent/internal/ports"
)

// Client implements ports.DecisionProvider against an OpenAI-style
// chat-completions HTTP API. The concrete service behind the URL is opaque:
// anything that answers the prompt with the expected JSON object works.
type Client struct {
	url         string
	apiKey      string
	model       string
	maxLeverage int
	http        *http.Client
	logger      ports.Logger
}

// Config holds configuration for the advisor client.
type Config struct {
	URL         string
	APIKey      string
	Model       string
	MaxLeverage int          // Leverage ceiling quoted in the prompt; defaults to 5
	HTTPClient  *http.Client // Optional; a 30s-timeout client is used when nil
	Logger      ports.Logger
}

// New creates an advisor client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for advisor client")
	}
	if cfg.URL == "" || cfg.APIKey == "" || cfg.Model == "" {
		return nil, fmt.Errorf("advisor URL, API key and model are required: %w", ports.ErrConfigurationError)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxLeverage := cfg.MaxLeverage
	if maxLeverage < 1 {
		maxLeverage = 5
	}
	return &Client{
		url:         cfg.URL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxLeverage: maxLeverage,
		http:        httpClient,
		logger:      cfg.Logger,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Propose asks the model for a trade recommendation.
func (c *Client) Propose(ctx context.Context, mc ports.MarketContext) (domain.Decision, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: buildPrompt(mc, c.maxLeverage)},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Decision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return domain.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("advisor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Decision{}, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.Decision{}, fmt.Errorf("advisor: %w: %s", ports.ErrRateLimited, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Decision{}, fmt.Errorf("advisor API error (%d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return domain.Decision{}, fmt.Errorf("advisor: %w: %v", ports.ErrMalformedResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return domain.Decision{}, fmt.Errorf("advisor: %w: no choices in response", ports.ErrMalformedResponse)
	}

	return parseDecision(chatResp.Choices[0].Message.Content)
}

func buildPrompt(mc ports.MarketContext, maxLeverage int) string {
	var outcomes strings.Builder
	if len(mc.Outcomes) == 0 {
		outcomes.WriteString("(none yet)\n")
	}
	for _, t := range mc.Outcomes {
		outcomes.WriteString(fmt.Sprintf("- %s %s lev=%d pnl=%.2f (%s)\n",
			t.Asset, t.Side, t.Leverage, t.NetPnL, t.CloseReason))
	}

	news := "(none)"
	if len(mc.NewsSummaries) > 0 {
		news = "- " + strings.Join(mc.NewsSummaries, "\n- ")
	}

	return fmt.Sprintf(`You are an expert crypto perpetuals trader managing a leveraged account.
Decide whether to open a position on %s right now.

**MARKET STATE:**
- Price: %.4f USDT
- 24h Change: %.2f%%
- RSI (14): %.2f
- Fear & Greed Index: %d

**RECENT NEWS:**
%s

**RECENT TRADE OUTCOMES:**
%s
**ACCOUNT:**
- Equity: %.2f USDT

**YOUR INSTRUCTIONS:**
1. Only recommend LONG or SHORT with conviction; otherwise WAIT.
2. Perpetual fees and leverage cut both ways, so low-confidence entries lose money.
3. Suggest leverage between 1 and %d.

Provide your analysis in JSON ONLY:
{
  "decision": "LONG" or "SHORT" or "WAIT",
  "leverage": 1-%d,
  "confidence": 0-100,
  "reasoning": "max 2 sentences",
  "stop_loss": optional_price_level,
  "take_profit": optional_price_level
}`,
		mc.Asset,
		mc.Price,
		mc.Change24h,
		mc.RSI,
		mc.FearGreed,
		news,
		outcomes.String(),
		mc.Equity,
		maxLeverage,
		maxLeverage,
	)
}

// parseDecision extracts the JSON object between the first '{' and last '}'
// of the model output, tolerating prose around it.
func parseDecision(content string) (domain.Decision, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return domain.Decision{}, fmt.Errorf("advisor: %w: no JSON object in response", ports.ErrMalformedResponse)
	}

	var result struct {
		Decision   string  `json:"decision"`
		Leverage   int     `json:"leverage"`
		Confidence int     `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
		StopLoss   float64 `json:"stop_loss"`
		TakeProfit float64 `json:"take_profit"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return domain.Decision{}, fmt.Errorf("advisor: %w: %v", ports.ErrMalformedResponse, err)
	}

	side := domain.Side(strings.ToUpper(strings.TrimSpace(result.Decision)))
	if !side.IsDirectional() {
		side = domain.Wait
	}

	confidence := result.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return domain.Decision{
		Side:       side,
		Leverage:   result.Leverage,
		Confidence: confidence,
		Reasoning:  result.Reasoning,
		StopLoss:   result.StopLoss,
		TakeProfit: result.TakeProfit,
	}, nil
}
