package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	archivist "github.com/avenor/archivist/internal"
	"github.com/avenor/archivist/internal/cache"
	"github.com/avenor/archivist/internal/ratelimit"
	"github.com/avenor/archivist/internal/router"
)

type recordedAccess struct {
	mu      sync.Mutex
	records []archivist.AccessRecord
}

func (a *recordedAccess) Record(r archivist.AccessRecord) {
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
}

func (a *recordedAccess) all() []archivist.AccessRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archivist.AccessRecord(nil), a.records...)
}

type testEnv struct {
	handler http.Handler
	cache   *cache.Memory
	access  *recordedAccess
	calls   *atomic.Int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var calls atomic.Int64
	rt := router.New()
	rt.Register("/widget/{id}", func(_ context.Context, params archivist.Params, query url.Values) (*archivist.Result, error) {
		calls.Add(1)
		return &archivist.Result{
			Payload: map[string]string{"id": params["id"], "style": archivist.QueryValue(query, "style")},
			TTL:     time.Minute,
		}, nil
	}, "widget by id")
	rt.Register("/broken", func(context.Context, archivist.Params, url.Values) (*archivist.Result, error) {
		calls.Add(1)
		return nil, fmt.Errorf("%w: upstream exploded", archivist.ErrGenerationFailed)
	}, "always fails")
	rt.Register("/strict/{n}", func(_ context.Context, params archivist.Params, _ url.Values) (*archivist.Result, error) {
		return nil, fmt.Errorf("%w: n=%s", archivist.ErrInvalidParams, params["n"])
	}, "rejects everything")

	c := cache.NewMemory(cache.Options{})
	access := &recordedAccess{}
	h := New(Deps{
		Router:     rt,
		Cache:      c,
		Access:     access,
		DefaultTTL: time.Minute,
	})
	return &testEnv{handler: h, cache: c, access: access, calls: &calls}
}

func (e *testEnv) do(t *testing.T, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, vals := range header {
		req.Header[k] = vals
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestResourceMissHitNotModified(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// First request computes.
	w := env.do(t, http.MethodGet, "/resources/widget/7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Cache"); got != "miss" {
		t.Errorf("X-Cache = %q, want miss", got)
	}
	etag := w.Header().Get("Etag")
	if etag == "" || etag[0] != '"' {
		t.Fatalf("Etag = %q, want quoted validator", etag)
	}
	if w.Header().Get("Last-Modified") == "" {
		t.Error("missing Last-Modified")
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["id"] != "7" {
		t.Errorf("payload id = %q, want 7", body["id"])
	}

	// Second request is served from cache without recomputing.
	w = env.do(t, http.MethodGet, "/resources/widget/7", nil)
	if got := w.Header().Get("X-Cache"); got != "hit" {
		t.Errorf("X-Cache = %q, want hit", got)
	}
	if n := env.calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}

	// Revalidation with the etag yields 304 and no body.
	w = env.do(t, http.MethodGet, "/resources/widget/7", http.Header{"If-None-Match": {etag}})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status = %d, want 304", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("304 carried a body: %q", w.Body.String())
	}
	if got := w.Header().Get("Etag"); got != etag {
		t.Errorf("304 Etag = %q, want %q", got, etag)
	}

	// Last-Modified revalidation works too.
	lm := w.Header().Get("Last-Modified")
	w = env.do(t, http.MethodGet, "/resources/widget/7", http.Header{"If-Modified-Since": {lm}})
	if w.Code != http.StatusNotModified {
		t.Errorf("if-modified-since status = %d, want 304", w.Code)
	}
}

func TestResourceQueryOrderSharesEntry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/resources/widget/1?style=bold&lang=en", nil)
	w := env.do(t, http.MethodGet, "/resources/widget/1?lang=en&style=bold", nil)
	if got := w.Header().Get("X-Cache"); got != "hit" {
		t.Errorf("X-Cache = %q, want hit for reordered query", got)
	}
	if n := env.calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}
}

func TestResourceConcurrentMissesCoalesce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	gate := make(chan struct{})
	rt := router.New()
	rt.Register("/slow/{id}", func(_ context.Context, params archivist.Params, _ url.Values) (*archivist.Result, error) {
		calls.Add(1)
		<-gate
		return &archivist.Result{Payload: map[string]string{"id": params["id"]}, TTL: time.Minute}, nil
	}, "blocks until released")
	h := New(Deps{
		Router:     rt,
		Cache:      cache.NewMemory(cache.Options{}),
		DefaultTTL: time.Minute,
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resources/slow/7", nil))
		return w
	}

	results := make(chan *httptest.ResponseRecorder, 2)
	go func() { results <- do() }()

	// Wait for the first request to reach the handler, then send a second
	// that must join its in-flight computation.
	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first request never reached the handler")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	go func() { results <- do() }()
	time.Sleep(50 * time.Millisecond)
	close(gate)

	for range 2 {
		w := <-results
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if got := w.Header().Get("X-Cache"); got != "coalesced" {
			t.Errorf("X-Cache = %q, want coalesced", got)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}

	// The shared envelope is cached; a later request is a plain hit.
	if got := do().Header().Get("X-Cache"); got != "hit" {
		t.Errorf("X-Cache after coalesced miss = %q, want hit", got)
	}
}

func TestResourceErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/resources/nope/at/all", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unmatched path status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodGet, "/resources/strict/9", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid params status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodGet, "/resources/broken", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("handler failure status = %d, want 502", w.Code)
	}
	var e apiError
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatal(err)
	}
	if e.Error.Message == "" {
		t.Error("error body missing message")
	}

	// Failures cache nothing; the next request recomputes.
	before := env.calls.Load()
	env.do(t, http.MethodGet, "/resources/broken", nil)
	if env.calls.Load() != before+1 {
		t.Error("failed computation was cached")
	}
}

func TestResourceHead(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodHead, "/resources/widget/3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD carried a body: %q", w.Body.String())
	}
	if w.Header().Get("Etag") == "" {
		t.Error("HEAD missing Etag")
	}
}

func TestCacheAdminEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/resources/widget/1", nil)
	env.do(t, http.MethodGet, "/resources/widget/1", nil)

	w := env.do(t, http.MethodGet, "/cache/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.ValidEntries != 1 || stats.TotalHits != 1 {
		t.Errorf("stats = %+v, want 1 valid entry and 1 hit", stats)
	}

	w = env.do(t, http.MethodDelete, "/cache?pattern=widget", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/resources/widget/1", nil)
	if got := w.Header().Get("X-Cache"); got != "miss" {
		t.Errorf("X-Cache after invalidation = %q, want miss", got)
	}

	w = env.do(t, http.MethodPost, "/cache/cleanup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", w.Code)
	}
}

func TestAccessRecording(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/resources/widget/5", nil)
	env.do(t, http.MethodGet, "/resources/widget/5", nil)
	env.do(t, http.MethodGet, "/resources/missing", nil)

	recs := env.access.all()
	if len(recs) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(recs))
	}
	if recs[0].CacheHit || recs[0].Pattern != "/widget/{id}" || recs[0].StatusCode != http.StatusOK {
		t.Errorf("first record = %+v", recs[0])
	}
	if !recs[1].CacheHit {
		t.Errorf("second record = %+v, want cache hit", recs[1])
	}
	if recs[2].StatusCode != http.StatusNotFound || recs[2].Pattern != "" {
		t.Errorf("third record = %+v", recs[2])
	}
	if recs[0].RequestID == "" {
		t.Error("record missing request id")
	}
}

func TestRoutesListing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/routes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Routes []struct {
			Pattern     string `json:"pattern"`
			Description string `json:"description"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Routes) != 3 || body.Routes[0].Pattern != "/widget/{id}" {
		t.Errorf("routes = %+v", body.Routes)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}
}

func TestReadyzFailure(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Router: router.New(),
		Cache:  cache.NewMemory(cache.Options{}),
		ReadyCheck: func(context.Context) error {
			return fmt.Errorf("store down")
		},
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("missing generated request id")
	}

	w = env.do(t, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"req-123"}})
	if got := w.Header().Get("X-Request-Id"); got != "req-123" {
		t.Errorf("request id = %q, want passthrough", got)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	rt := router.New()
	rt.Register("/thing", func(context.Context, archivist.Params, url.Values) (*archivist.Result, error) {
		return &archivist.Result{Payload: "ok", TTL: time.Minute}, nil
	}, "")
	h := New(Deps{
		Router:       rt,
		Cache:        cache.NewMemory(cache.Options{}),
		RateLimiter:  ratelimit.NewRegistry(),
		RateLimitRPM: 2,
	})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/resources/thing", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	for i := range 2 {
		if w := do(); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// A different client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/resources/thing", nil)
	req.RemoteAddr = "10.9.9.9:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestResourceKeyDeterministic(t *testing.T) {
	t.Parallel()

	a := resourceKey("/w/{id}", archivist.Params{"id": "1"}, url.Values{"b": {"2"}, "a": {"1"}})
	b := resourceKey("/w/{id}", archivist.Params{"id": "1"}, url.Values{"a": {"1"}, "b": {"2"}})
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	c := resourceKey("/w/{id}", archivist.Params{"id": "2"}, nil)
	if a == c {
		t.Error("different params produced the same key")
	}
	// Duplicate query keys resolve last-value-wins.
	d := resourceKey("/w/{id}", archivist.Params{"id": "1"}, url.Values{"a": {"0", "1"}, "b": {"2"}})
	if a != d {
		t.Errorf("duplicate query key: %q vs %q", a, d)
	}
}
