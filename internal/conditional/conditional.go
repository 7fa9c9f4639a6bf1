// Package conditional implements HTTP conditional-request evaluation
// (If-None-Match, If-Modified-Since) against a stored validator pair.
// It is stateless and safe for concurrent use.
package conditional

import (
	"net/http"
	"strings"
	"time"
)

// Request holds the conditional header values supplied by a client.
// Both fields are optional; empty strings mean "not supplied".
type Request struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// FromHeader extracts conditional header values from h.
func FromHeader(h http.Header) Request {
	return Request{
		IfNoneMatch:     h.Get("If-None-Match"),
		IfModifiedSince: h.Get("If-Modified-Since"),
	}
}

// Empty reports whether no conditional headers were supplied.
func (r Request) Empty() bool {
	return r.IfNoneMatch == "" && r.IfModifiedSince == ""
}

// NotModified reports whether the client's cached copy is still current
// for a resource with the given etag and last-modified time.
//
// If-None-Match takes precedence over If-Modified-Since: an etag match
// wins even when the timestamps disagree, since the etag is the stronger,
// content-based comparator. Entity tags compare weak-equivalent (a "W/"
// prefix and surrounding quotes are ignored). A bare "*" matches any
// stored etag. If-Modified-Since compares at one-second granularity, the
// resolution of HTTP dates.
func NotModified(etag string, lastModified time.Time, req Request) bool {
	if req.IfNoneMatch != "" {
		return matchesETag(etag, req.IfNoneMatch)
	}
	if req.IfModifiedSince != "" && !lastModified.IsZero() {
		since, err := parseHTTPTime(req.IfModifiedSince)
		if err != nil {
			return false
		}
		return !lastModified.Truncate(time.Second).After(since.Truncate(time.Second))
	}
	return false
}

// matchesETag reports whether any token in the comma-separated
// If-None-Match value matches the stored etag.
func matchesETag(etag, ifNoneMatch string) bool {
	if etag == "" {
		return false
	}
	current := weakenETag(etag)
	for tok := range strings.SplitSeq(ifNoneMatch, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "*" {
			return true
		}
		if weakenETag(tok) == current {
			return true
		}
	}
	return false
}

// weakenETag strips the weakness prefix and surrounding quotes so that
// W/"abc", "abc", and abc all compare equal.
func weakenETag(tag string) string {
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}

// parseHTTPTime parses an HTTP-date, falling back to RFC 3339 for callers
// that supply machine timestamps instead of header-formatted dates.
func parseHTTPTime(s string) (time.Time, error) {
	if t, err := http.ParseTime(s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
