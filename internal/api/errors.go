package api

import (
	"errors"
	"net/http"

	"github.com/starsorty/starsorty-api/internal/run"
	"github.com/starsorty/starsorty-api/internal/store"
	"github.com/starsorty/starsorty-api/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors: only one run may be active, and only failed tasks
	// may be retried.
	case errors.Is(err, run.ErrAlreadyRunning),
		errors.Is(err, task.ErrNotRetryable):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrRepoNotFound):
		return "Repository not found"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrNotFound):
		return "Not found"

	case errors.Is(err, run.ErrAlreadyRunning):
		return "Classification already running"

	case errors.Is(err, task.ErrNotRetryable):
		return "Only failed tasks can be retried"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}
