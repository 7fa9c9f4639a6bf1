// Package resources implements the built-in resource modules. Each module
// registers its URI patterns on the shared router at startup and computes
// payloads on cache misses.
package resources

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	archivist "github.com/avenor/archivist/internal"
	"github.com/avenor/archivist/internal/router"
)

// docCacheTTL is how long parsed decision records stay in the lookaside
// cache before re-reading from disk. Short enough to pick up edits
// quickly, long enough to avoid re-parsing on every list request.
const docCacheTTL = 10 * time.Second

// adrFilePattern matches decision record filenames: a numeric prefix, a
// dash-separated slug, and a markdown extension (e.g. 042-cache-policy.md).
var adrFilePattern = regexp.MustCompile(`^(\d+)-[a-z0-9-]+\.md$`)

// adrIDPattern constrains the {id} path parameter.
var adrIDPattern = regexp.MustCompile(`^\d{1,4}$`)

// ADRDoc is a parsed architecture decision record.
type ADRDoc struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status,omitempty"`
	File         string    `json:"file"`
	LastModified time.Time `json:"last_modified"`
	Body         string    `json:"body,omitempty"`
}

// ADRSource serves architecture decision records from a directory of
// markdown files. Parsed documents are held in a small otter lookaside so
// repeated list requests do not re-read every file.
type ADRSource struct {
	dir  string
	ttl  time.Duration
	docs *otter.Cache[string, ADRDoc]
}

// NewADRSource creates an ADR resource over the given directory. ttl is
// the cache TTL handed to the dispatch layer for computed results.
func NewADRSource(dir string, ttl time.Duration) *ADRSource {
	docs := otter.Must(&otter.Options[string, ADRDoc]{
		MaximumSize:      512,
		ExpiryCalculator: otter.ExpiryWriting[string, ADRDoc](docCacheTTL),
	})
	return &ADRSource{dir: dir, ttl: ttl, docs: docs}
}

// Register adds the ADR routes to r.
func (s *ADRSource) Register(r *router.Router) {
	r.Register("/adr", s.handleList, "list architecture decision records")
	r.Register("/adr/{id}", s.handleGet, "show a single decision record")
}

// handleList returns all decision records, newest file first. A status
// query parameter filters case-insensitively (e.g. ?status=accepted).
func (s *ADRSource) handleList(_ context.Context, _ archivist.Params, query url.Values) (*archivist.Result, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read adr dir: %v", archivist.ErrGenerationFailed, err)
	}

	wantStatus := strings.ToLower(archivist.QueryValue(query, "status"))
	var docs []ADRDoc
	var newest time.Time
	for _, e := range entries {
		if e.IsDir() || !adrFilePattern.MatchString(e.Name()) {
			continue
		}
		doc, err := s.load(e.Name())
		if err != nil {
			return nil, err
		}
		if wantStatus != "" && strings.ToLower(doc.Status) != wantStatus {
			continue
		}
		doc.Body = "" // listings carry metadata only
		docs = append(docs, doc)
		if doc.LastModified.After(newest) {
			newest = doc.LastModified
		}
	}

	return &archivist.Result{
		Payload: map[string]any{"adrs": docs, "count": len(docs)},
		TTL:     s.ttl,
		Meta:    &archivist.ResourceMeta{LastModified: newest},
	}, nil
}

// handleGet returns one decision record, including its body.
func (s *ADRSource) handleGet(_ context.Context, params archivist.Params, _ url.Values) (*archivist.Result, error) {
	id := params["id"]
	if !adrIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: adr id %q", archivist.ErrInvalidParams, id)
	}

	name, err := s.find(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.load(name)
	if err != nil {
		return nil, err
	}

	return &archivist.Result{
		Payload: doc,
		TTL:     s.ttl,
		Meta:    &archivist.ResourceMeta{LastModified: doc.LastModified},
	}, nil
}

// find locates the file whose numeric prefix equals id, ignoring leading
// zeros so both /adr/42 and /adr/042 resolve 042-cache-policy.md.
func (s *ADRSource) find(id string) (string, error) {
	want := strings.TrimLeft(id, "0")
	if want == "" {
		want = "0"
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("%w: read adr dir: %v", archivist.ErrGenerationFailed, err)
	}
	for _, e := range entries {
		m := adrFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		got := strings.TrimLeft(m[1], "0")
		if got == "" {
			got = "0"
		}
		if got == want {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("%w: adr %s", archivist.ErrNotFound, id)
}

// load reads and parses one record, via the lookaside cache.
func (s *ADRSource) load(name string) (ADRDoc, error) {
	if doc, ok := s.docs.GetIfPresent(name); ok {
		return doc, nil
	}

	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return ADRDoc{}, fmt.Errorf("%w: stat %s: %v", archivist.ErrGenerationFailed, name, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ADRDoc{}, fmt.Errorf("%w: read %s: %v", archivist.ErrGenerationFailed, name, err)
	}

	doc := parseADR(name, string(raw))
	doc.LastModified = info.ModTime().UTC()
	s.docs.Set(name, doc)
	return doc, nil
}

// parseADR extracts the title (first "# " heading) and status (first
// "Status:" line) from a record body.
func parseADR(name, body string) ADRDoc {
	doc := ADRDoc{
		ID:   adrFilePattern.FindStringSubmatch(name)[1],
		File: name,
		Body: body,
	}
	for line := range strings.Lines(body) {
		line = strings.TrimSpace(line)
		if doc.Title == "" && strings.HasPrefix(line, "# ") {
			doc.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			continue
		}
		if doc.Status == "" {
			if rest, ok := strings.CutPrefix(line, "Status:"); ok {
				doc.Status = strings.TrimSpace(rest)
			}
		}
		if doc.Title != "" && doc.Status != "" {
			break
		}
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(name, ".md")
	}
	return doc
}
