package ratelimit

import "context"

// Limiter checks requests against per-bucket rate limits.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// allowance smoothly over time instead of resetting at window
// boundaries. The interface is storage-agnostic.
type Limiter interface {
	// Allow atomically consumes one slot from the bucket identified by
	// key, which should come from FormatKey. When the request is denied,
	// RetryAfter in the result says when the next one would pass.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}
