// Package router maps URI path templates with {name} placeholders to
// resource handler functions. Patterns are registered once at startup;
// registration order is match priority.
package router

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	archivist "github.com/avenor/archivist/internal"
)

// segment is one element of a compiled pattern: either a literal that must
// match exactly, or a placeholder capturing one path segment.
type segment struct {
	literal string
	param   string // placeholder name; empty for literals
}

// Route is a registered pattern with its handler.
type Route struct {
	Pattern     string
	Description string
	Handler     archivist.HandlerFunc
	segments    []segment
}

// Router is an ordered registry of route patterns. Registration happens at
// process startup; after that the registry is effectively immutable and
// matching is read-only.
type Router struct {
	mu     sync.RWMutex
	routes []Route
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

// Register adds a pattern to the registry. The pattern is normalized to a
// leading slash. Overlapping patterns are not rejected: the first
// registered pattern that matches a path wins, so registration order is
// match priority.
func (r *Router) Register(pattern string, h archivist.HandlerFunc, description string) {
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, Route{
		Pattern:     pattern,
		Description: description,
		Handler:     h,
		segments:    compile(pattern),
	})
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Route parses uri, finds the first matching pattern, and invokes its
// handler with the extracted path parameters and query values. It returns
// ErrRouteNotFound when no pattern matches; handler errors propagate
// unchanged.
func (r *Router) Route(ctx context.Context, uri string) (*archivist.Result, error) {
	path, query, err := splitURI(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", archivist.ErrBadRequest, err)
	}
	route, params, ok := r.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", archivist.ErrRouteNotFound, path)
	}
	return route.Handler(ctx, params, query)
}

// CanRoute reports whether some registered pattern matches uri, without
// invoking any handler.
func (r *Router) CanRoute(uri string) bool {
	path, _, err := splitURI(uri)
	if err != nil {
		return false
	}
	_, _, ok := r.Lookup(path)
	return ok
}

// Lookup matches a concrete path against the registry and extracts its
// placeholder parameters. It never invokes a handler, which lets the
// dispatch layer interpose a cache between matching and computation.
func (r *Router) Lookup(path string) (Route, archivist.Params, bool) {
	segs := splitPath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if params, ok := match(route.segments, segs); ok {
			return route, params, true
		}
	}
	return Route{}, nil, false
}

// compile splits a pattern into literal and placeholder segments.
func compile(pattern string) []segment {
	parts := splitPath(pattern)
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if len(p) > 1 && strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			segs[i] = segment{param: p[1 : len(p)-1]}
		} else {
			segs[i] = segment{literal: p}
		}
	}
	return segs
}

// match tests a compiled pattern against path segments. A placeholder
// consumes exactly one non-empty segment; literals compare case-sensitive.
// A repeated placeholder name keeps its last occurrence.
func match(segs []segment, parts []string) (archivist.Params, bool) {
	if len(segs) != len(parts) {
		return nil, false
	}
	var params archivist.Params
	for i, s := range segs {
		if s.param == "" {
			if s.literal != parts[i] {
				return nil, false
			}
			continue
		}
		if parts[i] == "" {
			return nil, false
		}
		decoded, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}
		if params == nil {
			params = make(archivist.Params, len(segs))
		}
		params[s.param] = decoded
	}
	return params, true
}

// splitURI separates a request URI into its path and parsed query values.
// Scheme and host are tolerated and ignored; only the path participates in
// matching.
func splitURI(uri string) (string, url.Values, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", nil, err
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", nil, err
	}
	return u.EscapedPath(), query, nil
}

// splitPath breaks a path into segments, dropping the leading empty
// segment and any trailing slash so /adr, adr, and /adr/ all compare equal.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
