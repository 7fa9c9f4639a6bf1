package server

import (
	"net/http"
	"strconv"

	archivist "github.com/avenor/archivist/internal"
)

// handleRoutes lists the registered resource patterns in match order.
func (s *server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	type routeInfo struct {
		Pattern     string `json:"pattern"`
		Description string `json:"description,omitempty"`
	}
	routes := s.deps.Router.Routes()
	out := make([]routeInfo, len(routes))
	for i, rt := range routes {
		out[i] = routeInfo{Pattern: rt.Pattern, Description: rt.Description}
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": out})
}

// handleCacheStats reports the cache counters. The entries gauge is
// refreshed here so scrapes and stat reads agree.
func (s *server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.deps.Cache.Stats()
	if m := s.deps.Metrics; m != nil {
		m.CacheEntries.Set(float64(stats.ValidEntries))
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCacheInvalidate removes cache entries. A key query parameter
// deletes one entry, a pattern parameter clears every key containing the
// substring, and neither clears the whole cache.
func (s *server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if key := archivist.QueryValue(query, "key"); key != "" {
		deleted := s.deps.Cache.Delete(key)
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "key": key})
		return
	}

	pattern := archivist.QueryValue(query, "pattern")
	s.deps.Cache.Clear(pattern)
	scope := pattern
	if scope == "" {
		scope = "all"
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": scope})
}

// handleCacheCleanup sweeps expired entries on demand.
func (s *server) handleCacheCleanup(w http.ResponseWriter, _ *http.Request) {
	removed := s.deps.Cache.Cleanup()
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleAccessLog queries the persisted access log, newest first.
func (s *server) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse("access log not configured"))
		return
	}

	query := r.URL.Query()
	f := archivist.AccessFilter{
		Pattern: archivist.QueryValue(query, "pattern"),
		Since:   archivist.QueryValue(query, "since"),
		Until:   archivist.QueryValue(query, "until"),
	}
	if v := archivist.QueryValue(query, "limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid limit"))
			return
		}
		f.Limit = n
	}
	if v := archivist.QueryValue(query, "offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid offset"))
			return
		}
		f.Offset = n
	}

	records, err := s.deps.Store.QueryAccess(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("access log query failed"))
		return
	}
	total, err := s.deps.Store.CountAccess(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("access log count failed"))
		return
	}
	if records == nil {
		records = []archivist.AccessRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "total": total})
}
