package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"payup/internal/repository"
	"payup/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
// Infrastructure failures are reported without their internal detail.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		msg = http.StatusText(code)
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: msg})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrAppNotFound),
		errors.Is(err, service.ErrPayupNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized

	// Another request is settling the payup; safe to retry.
	case errors.Is(err, service.ErrPayupInProgress):
		return http.StatusConflict

	// Backing stores unavailable
	case errors.Is(err, service.ErrKV),
		errors.Is(err, service.ErrDB):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
