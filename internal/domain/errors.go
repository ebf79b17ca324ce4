package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidAlert is returned when an alert payload fails validation.
	ErrInvalidAlert = errors.New("invalid alert")

	// ErrMissingAPIKey is returned at call time when a provider has no key.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrEmptyResponse is returned when a model answers with no content.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrMalformedResponse is returned when model output is not the
	// requested JSON shape.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrArchiveDisabled is returned when no report archive is configured.
	ErrArchiveDisabled = errors.New("report archive disabled")
)
