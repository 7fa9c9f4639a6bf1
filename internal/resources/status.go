package resources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	archivist "github.com/avenor/archivist/internal"
	"github.com/avenor/archivist/internal/router"
)

// envPattern constrains the {env} path parameter to environment slugs.
var envPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)

// jsonFetcher fetches a JSON document from a URL. *fetch.Client satisfies it.
type jsonFetcher interface {
	GetJSON(ctx context.Context, url string) ([]byte, error)
}

// StatusSource serves deployment status for an environment by querying an
// upstream status endpoint and projecting the fields we care about out of
// its response.
type StatusSource struct {
	client jsonFetcher
	url    string // contains an {env} placeholder
	ttl    time.Duration
}

// NewStatusSource creates a status resource. url must contain an {env}
// placeholder that is substituted with the requested environment.
func NewStatusSource(client jsonFetcher, url string, ttl time.Duration) *StatusSource {
	return &StatusSource{client: client, url: url, ttl: ttl}
}

// Register adds the status route to r.
func (s *StatusSource) Register(r *router.Router) {
	r.Register("/status/{env}", s.handleGet, "deployment status for an environment")
}

// handleGet fetches the upstream status document and returns a compact
// projection: version, healthy flag, and per-service states. A service
// query parameter narrows the response to one service; detail=full passes
// the upstream services array through untouched.
func (s *StatusSource) handleGet(ctx context.Context, params archivist.Params, query url.Values) (*archivist.Result, error) {
	env := params["env"]
	if !envPattern.MatchString(env) {
		return nil, fmt.Errorf("%w: environment %q", archivist.ErrInvalidParams, env)
	}

	body, err := s.client.GetJSON(ctx, strings.ReplaceAll(s.url, "{env}", env))
	if err != nil {
		return nil, fmt.Errorf("%w: status upstream: %v", archivist.ErrGenerationFailed, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: status upstream returned invalid json", archivist.ErrGenerationFailed)
	}

	payload := map[string]any{
		"environment": env,
		"version":     gjson.GetBytes(body, "version").String(),
		"healthy":     gjson.GetBytes(body, "healthy").Bool(),
		"checked_at":  time.Now().UTC().Format(time.RFC3339),
	}

	if svc := archivist.QueryValue(query, "service"); svc != "" {
		match := gjson.GetBytes(body, fmt.Sprintf(`services.#(name==%q)`, svc))
		if !match.Exists() {
			return nil, fmt.Errorf("%w: service %s", archivist.ErrNotFound, svc)
		}
		payload["service"] = match.Value()
	} else if archivist.QueryValue(query, "detail") == "full" {
		payload["services"] = gjson.GetBytes(body, "services").Value()
	} else {
		states := map[string]string{}
		gjson.GetBytes(body, "services").ForEach(func(_, svc gjson.Result) bool {
			states[svc.Get("name").String()] = svc.Get("state").String()
			return true
		})
		payload["services"] = states
	}

	return &archivist.Result{
		Payload: payload,
		TTL:     s.ttl,
		Meta:    &archivist.ResourceMeta{Version: gjson.GetBytes(body, "version").String()},
	}, nil
}
