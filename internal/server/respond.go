package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	archivist "github.com/avenor/archivist/internal"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, archivist.ErrRouteNotFound), errors.Is(err, archivist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, archivist.ErrInvalidParams), errors.Is(err, archivist.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, archivist.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	encodeBody(w, v)
}

func encodeBody(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
