package handler

import "net/http"

// missingInputError signals a job envelope without a required field, for 400
// mapping by the serving host.
type missingInputError struct{ field string }

func (e missingInputError) Error() string {
	return "job input missing required field: " + e.field
}

func (e missingInputError) StatusCode() int { return http.StatusBadRequest }

// ErrMissingInput constructs a missingInputError.
func ErrMissingInput(field string) error { return missingInputError{field: field} }

// IsMissingInput reports whether err indicates a malformed job envelope.
func IsMissingInput(err error) bool {
	_, ok := err.(missingInputError)
	return ok
}

// noOutputError signals that the engine stream ended without producing any
// intermediate state.
type noOutputError struct{ requestID string }

func (e noOutputError) Error() string {
	return "engine produced no output for request " + e.requestID
}
