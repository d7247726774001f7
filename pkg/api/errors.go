package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/bundler"
	"github.com/cuemby/burrow/pkg/log"
)

// statusClientClosedRequest mirrors nginx's non-standard code for a caller
// that went away mid-request.
const statusClientClosedRequest = 499

// apiError is the wire form of every non-2xx response.
type apiError struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Details []string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// classify maps an error to its HTTP status and taxonomy kind.
func classify(err error) (int, apiError) {
	var buildErr *bundler.BuildError
	if errors.As(err, &buildErr) {
		return http.StatusUnprocessableEntity, apiError{
			Kind:    "build",
			Message: buildErr.Message,
			File:    buildErr.File,
			Line:    buildErr.Line,
			Details: buildErr.Stack,
		}
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, apiError{
			Kind:    "validation",
			Message: "request body too large",
		}
	}

	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest, apiError{Kind: "validation", Message: err.Error()}
	case errdefs.IsNotFound(err):
		return http.StatusNotFound, apiError{Kind: "not_found", Message: err.Error()}
	case errdefs.IsConflict(err):
		return http.StatusConflict, apiError{Kind: "conflict", Message: err.Error()}
	case errdefs.IsFailedPrecondition(err), errdefs.IsUnavailable(err):
		return http.StatusInternalServerError, apiError{Kind: "loader", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, apiError{Kind: "cancel", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, apiError{Kind: "cancel", Message: err.Error()}
	default:
		return http.StatusInternalServerError, apiError{Kind: "storage", Message: err.Error()}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status >= 500 {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Warn().Err(err).Msg("response encoding failed")
	}
}

// decodeJSON reads a request body into v, reporting malformed JSON as a
// validation error. Oversized bodies pass through unwrapped so classify
// can answer 413 instead of 400.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("invalid request body: %v: %w", err, errdefs.ErrInvalidArgument)
	}
	return nil
}
