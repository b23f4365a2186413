// Package ratelimit defines the gateway's ingress rate limiting contract.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the rate limiting parameters for one bucket.
type Config struct {
	// Rate is the number of allowed requests per Period.
	Rate int

	// Burst is the maximum number of requests that may arrive at once.
	// Burst should be >= Rate for meaningful operation.
	Burst int

	// Period is the time window for the rate limit.
	Period time.Duration
}

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// RetryAfter is the wait until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the wait until the bucket fully resets.
	ResetAfter time.Duration
}

// KeyType identifies what a rate limit bucket is keyed on.
type KeyType string

const (
	// KeyTypeIP buckets by client address, used before authentication.
	KeyTypeIP KeyType = "ip"

	// KeyTypeAPIKey buckets by API key id, used after authentication.
	KeyTypeAPIKey KeyType = "key"
)

const keyPrefix = "ratelimit"

// FormatKey returns a structured bucket key, "ratelimit:{type}:{value}".
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
