// Package limiter throttles account-deletion confirmation attempts so a
// confirmation token cannot be brute-forced.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls confirmation attempts per (principal, client address).
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and an optional retry-after.
	Allow(ctx context.Context, principal string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful confirmation.
	Success(ctx context.Context, principal string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, principal string, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
