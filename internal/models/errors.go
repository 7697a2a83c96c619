package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Persistence errors
var (
	ErrValidation       = errors.New("validation failed")          // 400
	ErrNotFound         = errors.New("record not found")           // 404
	ErrConflict         = errors.New("record already exists")      // 409
	ErrStoreUnavailable = errors.New("document store unavailable") // 503
)

// Security errors
var (
	ErrAuthentication = errors.New("authentication failed") // 401
	ErrNoSession      = errors.New("no session")            // 401
	ErrAuthorization  = errors.New("access denied")         // 403
	ErrAdminRequired  = errors.New("admin only")            // 403
)

// Schema errors
var (
	ErrUnknownModel = errors.New("unknown model")
)

// ValidationError reports the fields of a candidate record that do not match
// the model descriptor. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Model  string
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError for model.
func NewValidationError(model string) *ValidationError {
	return &ValidationError{Model: model, Fields: make(map[string]string)}
}

// Add records a problem with field.
func (e *ValidationError) Add(field, msg string) {
	e.Fields[field] = msg
}

// Empty reports whether no field problem was recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Model, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
