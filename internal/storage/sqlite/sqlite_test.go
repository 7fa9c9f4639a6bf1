package sqlite

import (
	"context"
	"testing"
	"time"

	archivist "github.com/avenor/archivist/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccessRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	records := []archivist.AccessRecord{
		{
			ID: "a-1", Pattern: "/adr/{id}", CacheKey: "adr:001",
			CacheHit: true, StatusCode: 200, LatencyMs: 3,
			RequestID: "req-1", CreatedAt: now,
		},
		{
			ID: "a-2", Pattern: "/status/{env}", CacheKey: "status:prod",
			CacheHit: false, StatusCode: 200, LatencyMs: 120,
			RequestID: "req-2", CreatedAt: now.Add(time.Second),
		},
	}

	if err := s.InsertAccess(ctx, records); err != nil {
		t.Fatal("insert:", err)
	}

	got, err := s.QueryAccess(ctx, archivist.AccessFilter{})
	if err != nil {
		t.Fatal("query:", err)
	}
	if len(got) != 2 {
		t.Fatalf("count = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "a-2" {
		t.Errorf("first record = %q, want a-2", got[0].ID)
	}
	if !got[0].CreatedAt.Equal(now.Add(time.Second)) {
		t.Errorf("created_at = %v, want %v", got[0].CreatedAt, now.Add(time.Second))
	}
	if got[1].ID != "a-1" || !got[1].CacheHit {
		t.Errorf("second record = %+v, want a-1 with cache hit", got[1])
	}
}

func TestAccessFilter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	records := []archivist.AccessRecord{
		{ID: "a-1", Pattern: "/adr/{id}", CacheKey: "adr:001", StatusCode: 200, CreatedAt: now},
		{ID: "a-2", Pattern: "/adr/{id}", CacheKey: "adr:002", StatusCode: 200, CreatedAt: now},
		{ID: "a-3", Pattern: "/status/{env}", CacheKey: "status:prod", StatusCode: 502, CreatedAt: now},
	}
	if err := s.InsertAccess(ctx, records); err != nil {
		t.Fatal(err)
	}

	got, err := s.QueryAccess(ctx, archivist.AccessFilter{Pattern: "/adr/{id}"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("pattern filter count = %d, want 2", len(got))
	}

	n, err := s.CountAccess(ctx, archivist.AccessFilter{Pattern: "/status/{env}"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	// Until in the past excludes everything.
	n, err = s.CountAccess(ctx, archivist.AccessFilter{Until: now.Add(-time.Hour).Format(time.RFC3339)})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("count before cutoff = %d, want 0", n)
	}
}

func TestInsertAccessEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.InsertAccess(context.Background(), nil); err != nil {
		t.Errorf("empty insert should be a no-op, got %v", err)
	}
}

func TestQueryAccessLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	var records []archivist.AccessRecord
	for i := range 5 {
		records = append(records, archivist.AccessRecord{
			ID: string(rune('a' + i)), Pattern: "/adr", CacheKey: "adr",
			StatusCode: 200, CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	if err := s.InsertAccess(ctx, records); err != nil {
		t.Fatal(err)
	}

	got, err := s.QueryAccess(ctx, archivist.AccessFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("limited count = %d, want 2", len(got))
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
