package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/pageconfig"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error  ErrorDetail `json:"error"`
	Status int         `json:"status"`
	Path   string      `json:"path,omitempty"`
}

// ErrorDetail describes an error.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:  ErrorDetail{Code: code, Message: message, Details: details},
		Status: status,
		Path:   r.URL.Path,
	})
}

// classify maps a pipeline error to a status and code.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, pageconfig.ErrPageNotFound):
		return http.StatusNotFound, "NOT_FOUND", "The requested page was not found"
	case errors.Is(err, component.ErrInvalidNamespace):
		return http.StatusNotFound, "UNKNOWN_SITE", "The requested site version does not exist"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "The page took too long to render"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELED", "The request was canceled"
	}
	return http.StatusInternalServerError, "RENDER_FAILED", "The page could not be rendered"
}
