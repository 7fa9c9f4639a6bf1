// Package cache provides the in-memory resource envelope cache: TTL-based
// expiry, LRU eviction, access statistics, and conditional-request-aware
// reads.
package cache

import "errors"

// ErrNegativeTTL is returned by Set when the supplied TTL is negative.
// A negative TTL is caller misuse and fails fast rather than silently
// caching forever.
var ErrNegativeTTL = errors.New("cache: negative ttl")

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	TotalEntries    int     `json:"total_entries"`
	ValidEntries    int     `json:"valid_entries"`
	ExpiredEntries  int     `json:"expired_entries"`
	ApproxSizeBytes int64   `json:"approx_size_bytes"`
	TotalHits       uint64  `json:"total_hits"`
	TotalMisses     uint64  `json:"total_misses"`
	Evictions       uint64  `json:"evictions"`
	HitRate         float64 `json:"hit_rate"`
}
