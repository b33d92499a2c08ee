// Package httperror defines the error values returned by the host router
// and control socket HTTP handlers. They render as {"code":N,"error":"message"}.
package httperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// HTTPError is an error with an HTTP status. Message is shown to the client;
// the wrapped cause is only logged.
type HTTPError struct {
	error
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Render implements render.Renderer.
func (e *HTTPError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Code)
	return nil
}

// Unwrap returns the cause, so errors.Is and errors.As see through it.
func (e *HTTPError) Unwrap() error { return e.error }

// New returns an error rendering as code with message. A nil cause is
// replaced by message itself.
func New(code int, message string, cause error) *HTTPError {
	if cause == nil {
		cause = errors.New(message)
	}
	return &HTTPError{
		error:   cause,
		Code:    code,
		Message: message,
	}
}

// InternalServerError hides message and err from the client behind a
// generic 500 body; both are kept in the cause for logging.
func InternalServerError(message string, err error) *HTTPError {
	return New(http.StatusInternalServerError, "internal server error", fmt.Errorf("%s: %w", message, err))
}

// NotFound returns a 404 with message.
func NotFound(message string) *HTTPError {
	return New(http.StatusNotFound, message, nil)
}

// BadRequest returns a 400 with message.
func BadRequest(message string) *HTTPError {
	return New(http.StatusBadRequest, message, nil)
}

// BadRequestWithError returns a 400 with message, wrapping err as the cause.
func BadRequestWithError(message string, err error) *HTTPError {
	return New(http.StatusBadRequest, message, fmt.Errorf("%s: %w", message, err))
}

// ServiceUnavailable returns a 503 with message.
func ServiceUnavailable(message string) *HTTPError {
	return New(http.StatusServiceUnavailable, message, nil)
}
