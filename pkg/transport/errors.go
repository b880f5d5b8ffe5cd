package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/chronicle/pkg/api"
)

// now is replaced in tests.
var now = time.Now

// BuildError returns a copy of resp carrying status and an ERROR envelope
// with message. resp itself is never modified; a nil resp starts from an
// empty response.
func BuildError(resp *Response, message string, status int) *Response {
	base := resp
	if base == nil {
		base = NewResponse()
	}
	out, err := base.WithJSON(status, api.NewErrorEnvelope(message, now()))
	if err != nil {
		// An envelope of strings always marshals; keep the status regardless.
		slog.Error("encoding error envelope", "error", err)
		out = base.Clone()
		out.StatusCode = status
	}
	return out
}

// BuildJSON returns a copy of resp carrying status and an OK envelope with
// results.
func BuildJSON(resp *Response, results any, status int) *Response {
	base := resp
	if base == nil {
		base = NewResponse()
	}
	out, err := base.WithJSON(status, api.NewOKEnvelope(results, now()))
	if err != nil {
		return BuildError(resp, "encoding response failed", http.StatusInternalServerError)
	}
	return out
}

// HTTPStatusFromError maps an APIError type to the corresponding HTTP
// status code.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// BuildAPIError is BuildError with the status derived from the error type.
func BuildAPIError(resp *Response, apiErr *api.APIError) *Response {
	return BuildError(resp, apiErr.Message, HTTPStatusFromError(apiErr))
}
