// Package archivist defines domain types and interfaces for the Archivist
// resource server. This package has no project imports -- it is the
// dependency root.
package archivist

import (
	"context"
	"net/url"
	"time"
)

// --- Resource envelope ---

// Envelope is a computed resource payload plus its caching metadata.
// It is the unit stored in the cache and returned to callers.
type Envelope struct {
	Payload      any               `json:"payload"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	CacheKey     string            `json:"cache_key"`
	TTL          time.Duration     `json:"ttl"`
	ETag         string            `json:"etag"`
	Version      string            `json:"version,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ResourceMeta carries optional caller-supplied envelope metadata at store
// time. Zero-value fields are filled in by the cache (ETag from a content
// hash, LastModified from the clock).
type ResourceMeta struct {
	ETag         string
	LastModified time.Time
	ContentType  string
	Version      string
	Extra        map[string]string
}

// --- Resource handlers ---

// Params holds path parameters extracted from a matched route pattern,
// keyed by placeholder name.
type Params map[string]string

// Result is what a resource handler computes: a payload plus the TTL the
// dispatch layer should cache it under. Meta is optional; when nil the
// cache derives ETag and LastModified itself.
type Result struct {
	Payload     any
	ContentType string
	TTL         time.Duration
	Meta        *ResourceMeta
}

// HandlerFunc computes a resource payload for a matched route. Handlers may
// block on I/O; the router itself never does. A handler failure must
// propagate unchanged -- nothing is cached for a failed computation.
type HandlerFunc func(ctx context.Context, params Params, query url.Values) (*Result, error)

// QueryValue returns the last value for key in query, or "" if absent.
// Duplicate query keys resolve last-value-wins.
func QueryValue(query url.Values, key string) string {
	vals := query[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// --- Access log ---

// AccessRecord is a single resource dispatch event.
type AccessRecord struct {
	ID         string    `json:"id"`
	Pattern    string    `json:"pattern"`
	CacheKey   string    `json:"cache_key"`
	CacheHit   bool      `json:"cache_hit"`
	StatusCode int       `json:"status_code"`
	LatencyMs  int       `json:"latency_ms"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// AccessFilter narrows access-log queries. Zero-value fields are ignored.
type AccessFilter struct {
	Pattern string
	Since   string
	Until   string
	Limit   int
	Offset  int
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
