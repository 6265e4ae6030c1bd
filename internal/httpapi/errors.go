// Package httpapi holds the JSON representations and error mapping shared by the
// dataset-registry and experiments services.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/httpserver"
)

const (
	CodeInvalidRequest   = "invalid_request"
	CodeNotFound         = "not_found"
	CodeExampleNotFound  = "example_not_found"
	CodeRevisionNotFound = "revision_not_found"
	CodeUnknownVersion   = "unknown_version"
	CodeConflict         = "conflict"
	CodeCanceled         = "request_canceled"
	CodeInternal         = "internal_error"
	CodeUnavailable      = "unavailable"
)

// Status maps a service error onto an HTTP status and error code.
func Status(err error) (int, string) {
	var notFound *domain.NotFoundError
	var unknownVersion *domain.UnknownVersionError
	switch {
	case errors.As(err, &unknownVersion):
		return http.StatusNotFound, CodeUnknownVersion
	case errors.As(err, &notFound):
		if notFound.Reason == domain.NotFoundUnknownExample {
			return http.StatusNotFound, CodeExampleNotFound
		}
		return http.StatusNotFound, CodeRevisionNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteServiceError writes err with its mapped status. Internal errors are logged and
// their message withheld.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		httpserver.WriteError(w, r, status, code, "")
		return
	}
	httpserver.WriteError(w, r, status, code, err.Error())
}
