package ingest

import "errors"

var (
	// ErrInvalidPayload indicates a message that does not decode to readings.
	ErrInvalidPayload = errors.New("ingest: invalid payload")

	// ErrNotStarted indicates a message arrived before Start or after Stop.
	ErrNotStarted = errors.New("ingest: not started")
)
