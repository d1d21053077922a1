// Package errors provides the domain error types shared by the meeting services.
//
// Sentinel errors describe request-level conditions ("not found", "invalid state")
// that HTTP handlers map onto status codes. PipelineError (see pipeline.go) carries
// a classified code and the stage that produced it.
//
// Usage:
//
//	import pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
//
//	if pferrors.IsNotFound(err) {
//	    // 404
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested meeting was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the current state,
	// e.g. diarizing a meeting that has no transcript yet.
	ErrInvalidState = errors.New("invalid state")

	// ErrNoRowsUpdated indicates an update matched no rows in the record store.
	ErrNoRowsUpdated = errors.New("no rows updated")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsNoRowsUpdated reports whether any error in err's chain is ErrNoRowsUpdated.
func IsNoRowsUpdated(err error) bool {
	return errors.Is(err, ErrNoRowsUpdated)
}
