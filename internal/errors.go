package archivist

import "errors"

// Sentinel errors for the resource server domain.
var (
	ErrRouteNotFound    = errors.New("route not found")
	ErrNotFound         = errors.New("not found")
	ErrInvalidParams    = errors.New("invalid parameters")
	ErrGenerationFailed = errors.New("resource generation failed")
	ErrBadRequest       = errors.New("bad request")
)
