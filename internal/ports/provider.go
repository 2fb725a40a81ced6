package ports

import (
	"context"

	"perpagent/internal/domain"
)

// MarketContext is the request shape handed to the decision provider. The
// core depends only on this one capability; which concrete AI service sits
// behind it is opaque.
type MarketContext struct {
	Asset         string
	Price         float64
	Change24h     float64 // Percent vs. previous day
	RSI           float64
	FearGreed     int // Fear & greed index, 0-100
	NewsSummaries []string
	Outcomes      []domain.Trade // Recent closed trades, as a feedback signal
	Equity        float64
}

// DecisionProvider returns a trade recommendation for the given market
// context. Errors (rate limits, network failures, malformed responses) are
// returned as-is; the scheduler degrades them to a WAIT decision.
type DecisionProvider interface {
	Propose(ctx context.Context, mc MarketContext) (domain.Decision, error)
}

// SentimentFeed supplies market sentiment consumed as an input to the
// decision context.
type SentimentFeed interface {
	FearGreed(ctx context.Context) (int, error)
}

// NewsSource supplies recent human-readable news summaries. The core only
// consumes these; generation is someone else's job.
type NewsSource interface {
	Recent(limit int) []string
}
