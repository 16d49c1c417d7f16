package service

import (
	"fmt"
	"net/http"
	"time"
)

// unavailableError is returned by Generate while no model is loaded.
type unavailableError struct{}

func (e unavailableError) Error() string {
	return "Model is not initialized. Check service logs."
}

// StatusCode maps the error to 503 Service Unavailable.
func (e unavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrUnavailable is returned when the service is not ready to generate.
var ErrUnavailable error = unavailableError{}

// IsUnavailable reports whether err indicates the model is not loaded.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

// ValidationError reports a request parameter outside its allowed range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + " " + e.Reason }

// StatusCode maps the error to 400 Bad Request.
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// GenerationError wraps a failure inside the runtime.
type GenerationError struct {
	Err     error
	Elapsed time.Duration
}

func (e *GenerationError) Error() string { return fmt.Sprintf("Generation error: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// StatusCode maps the error to 500 Internal Server Error.
func (e *GenerationError) StatusCode() int { return http.StatusInternalServerError }
