package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/internal/passage"
	"github.com/MrWong99/recital/internal/practice"
	"github.com/MrWong99/recital/internal/resilience"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 20

// errBadRequest marks client errors detected by the handlers.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, passage.ErrNotFound), errors.Is(err, practice.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, passage.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, passage.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, practice.ErrTooManySessions), errors.Is(err, resilience.ErrOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads exactly one JSON value from the request body into v.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("decode body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON value")
	}
	return nil
}
