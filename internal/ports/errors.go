package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard
// errors; business-rule rejections are reported with the named errors below
// and never mutate state.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market Feed / Provider Errors
	ErrFeedUnavailable      = errors.New("market data feed is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the market data feed")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed (check API keys)")
	ErrMalformedResponse    = errors.New("malformed provider response")

	// Ledger Rejections
	ErrInsufficientMargin = errors.New("margin size exceeds available margin")
	ErrPositionExists     = errors.New("an open position already exists for this asset")
	ErrPositionNotOpen    = errors.New("position is not open")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
