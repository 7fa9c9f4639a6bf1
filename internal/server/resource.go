package server

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	archivist "github.com/avenor/archivist/internal"
	"github.com/avenor/archivist/internal/conditional"
	"github.com/avenor/archivist/internal/telemetry"
)

// handleResource dispatches a resource request: match the path against the
// URI-template router, consult the envelope cache (answering conditional
// requests with 304 when validators still hold), and on a miss compute the
// payload through the route handler, collapsing concurrent misses for the
// same key into one computation.
func (s *server) handleResource(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path := "/" + chi.URLParam(r, "*")

	route, params, ok := s.deps.Router.Lookup(path)
	if !ok {
		s.finishResource(w, r, "", "", start, http.StatusNotFound, false,
			func() { writeJSON(w, http.StatusNotFound, errorResponse("no route for "+path)) })
		return
	}

	query := r.URL.Query()
	key := resourceKey(route.Pattern, params, query)
	cond := conditional.FromHeader(r.Header)

	env, notModified, cached := s.deps.Cache.GetConditional(key, cond)
	switch {
	case cached && notModified:
		if m := s.deps.Metrics; m != nil {
			m.CacheNotModified.Inc()
		}
		s.finishResource(w, r, route.Pattern, key, start, http.StatusNotModified, true,
			func() { writeNotModified(w, env) })
		return

	case cached:
		if m := s.deps.Metrics; m != nil {
			m.CacheHits.Inc()
		}
		s.finishResource(w, r, route.Pattern, key, start, http.StatusOK, true,
			func() { writeEnvelope(w, r, env, "hit") })
		return
	}

	if m := s.deps.Metrics; m != nil {
		m.CacheMisses.Inc()
	}

	v, err, shared := s.flight.Do(key, func() (any, error) {
		return s.compute(r, route.Pattern, route.Handler, params, query, key)
	})
	if err != nil {
		status := errorStatus(err)
		s.finishResource(w, r, route.Pattern, key, start, status, false,
			func() { writeJSON(w, status, errorResponse(err.Error())) })
		return
	}

	env = v.(*archivist.Envelope)
	// shared is true for every caller of a computation that had more than
	// one waiter, the one that ran the handler included.
	source := "miss"
	if shared {
		source = "coalesced"
	}
	s.finishResource(w, r, route.Pattern, key, start, http.StatusOK, false,
		func() { writeEnvelope(w, r, env, source) })
}

// compute runs the route handler under a span, stores the result, and
// returns the cached envelope. Failed computations cache nothing.
func (s *server) compute(r *http.Request, pattern string, h archivist.HandlerFunc, params archivist.Params, query url.Values, key string) (*archivist.Envelope, error) {
	ctx, span := telemetry.Tracer("server").Start(r.Context(), "resource.compute",
		trace.WithAttributes(
			attribute.String("resource.pattern", pattern),
			attribute.String("cache.key", key),
		))
	defer span.End()

	start := time.Now()
	res, err := h(ctx, params, query)
	if m := s.deps.Metrics; m != nil {
		m.HandlerDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
		if err != nil {
			m.HandlerErrors.WithLabelValues(pattern).Inc()
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ttl := res.TTL
	if ttl <= 0 {
		ttl = s.deps.DefaultTTL
	}
	meta := res.Meta
	if res.ContentType != "" {
		if meta == nil {
			meta = &archivist.ResourceMeta{}
		}
		meta.ContentType = res.ContentType
	}
	return s.deps.Cache.Set(key, res.Payload, ttl, meta)
}

// finishResource writes the response and enqueues the access record.
func (s *server) finishResource(w http.ResponseWriter, r *http.Request, pattern, key string, start time.Time, status int, hit bool, write func()) {
	write()
	if s.deps.Access == nil {
		return
	}
	s.deps.Access.Record(archivist.AccessRecord{
		Pattern:    pattern,
		CacheKey:   key,
		CacheHit:   hit,
		StatusCode: status,
		LatencyMs:  int(time.Since(start).Milliseconds()),
		RequestID:  archivist.RequestIDFromContext(r.Context()),
		CreatedAt:  time.Now().UTC(),
	})
}

// resourceKey builds a deterministic cache key from the matched pattern,
// its parameter bindings, and the sorted query string. Two requests that
// bind the same values share an entry regardless of query-key order.
func resourceKey(pattern string, params archivist.Params, query url.Values) string {
	var b strings.Builder
	b.WriteString(pattern)

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}

	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(archivist.QueryValue(query, k))
		}
	}
	return b.String()
}

// writeEnvelope serves a cached envelope with its validators. source is
// surfaced in X-Cache so clients and tests can tell hits from misses.
func writeEnvelope(w http.ResponseWriter, r *http.Request, env *archivist.Envelope, source string) {
	h := w.Header()
	setValidators(h, env)
	h.Set("X-Cache", source)
	if env.TTL > 0 {
		h.Set("Cache-Control", "max-age="+strconv.Itoa(int(env.TTL.Seconds())))
	}
	if r.Method == http.MethodHead {
		h.Set("Content-Type", env.ContentType)
		w.WriteHeader(http.StatusOK)
		return
	}
	h.Set("Content-Type", env.ContentType)
	w.WriteHeader(http.StatusOK)
	encodeBody(w, env.Payload)
}

// writeNotModified answers a conditional request whose validators still
// hold. Per RFC 9110 the 304 carries the validators but no body.
func writeNotModified(w http.ResponseWriter, env *archivist.Envelope) {
	setValidators(w.Header(), env)
	w.Header().Set("X-Cache", "hit")
	w.WriteHeader(http.StatusNotModified)
}

func setValidators(h http.Header, env *archivist.Envelope) {
	if env == nil {
		return
	}
	if env.ETag != "" {
		h.Set("Etag", quoteETag(env.ETag))
	}
	if !env.LastModified.IsZero() {
		h.Set("Last-Modified", env.LastModified.UTC().Format(http.TimeFormat))
	}
	if env.Version != "" {
		h.Set("X-Resource-Version", env.Version)
	}
}

// quoteETag wraps a bare tag in the quotes RFC 9110 requires, leaving
// already-quoted or weak tags untouched.
func quoteETag(tag string) string {
	if strings.HasPrefix(tag, `"`) || strings.HasPrefix(tag, "W/") {
		return tag
	}
	return `"` + tag + `"`
}
