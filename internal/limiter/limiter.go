// Package limiter provides token-bucket request limiting keyed by caller.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Limiter admits or rejects one request for key.
type Limiter interface {
	// Allow consumes a token for key. When it returns false, retryAfter is
	// the wait until the next token is available.
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// Policy is a refill rate (tokens per second) and a bucket size.
type Policy struct {
	Rate  float64
	Burst int
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// IPKey builds a limiter key from a scope and a client IP, e.g. "send:<hash>".
func IPKey(scope, ip string) string {
	return scope + ":" + hex.EncodeToString(HashIP(ip))
}
