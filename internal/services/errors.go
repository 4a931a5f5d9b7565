package services

import (
	"errors"
	"fmt"

	"analytics-service/internal/period"
)

// ValidationError is a client mistake: unknown metric, bad limit, bad grouping
type ValidationError struct {
	Field       string
	Message     string
	ValidValues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a scope that does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// DataError describes a malformed aggregate. It is logged and coalesced to
// zero, never returned to callers.
type DataError struct {
	ScopeID uint
	Reason  string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("scope %d: %s", e.ScopeID, e.Reason)
}

// IsValidation reports whether err should be surfaced as a client error
func IsValidation(err error) bool {
	var validationErr *ValidationError
	var periodErr *period.InvalidPeriodError
	var rangeErr *period.RangeError
	return errors.As(err, &validationErr) || errors.As(err, &periodErr) || errors.As(err, &rangeErr)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
