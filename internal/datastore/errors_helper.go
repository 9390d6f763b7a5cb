// Package datastore provides error handling helpers for database operations
package datastore

import (
	"fmt"

	"github.com/tphakala/soundbird/internal/errors"
)

// Sentinel errors returned by the repositories.
var (
	ErrDetectionNotFound = errors.NewStd("detection not found")
	ErrRecordingNotFound = errors.NewStd("recording not found")
	ErrInvalidTransition = errors.NewStd("invalid recording status transition")
)

// dbError creates a properly categorized database error with context
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

// validationError creates a validation error for a rejected field value
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// notFoundError wraps a not-found sentinel with the missing identifier
func notFoundError(sentinel error, id uint) error {
	return errors.New(sentinel).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("identifier", id).
		Build()
}

// transitionError reports a rejected status change
func transitionError(id uint, from, to RecordingStatus) error {
	return errors.New(fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("recording_id", id).
		Context("from", string(from)).
		Context("to", string(to)).
		Build()
}
