package readingstore

import "errors"

var (
	// ErrNilReading indicates a nil entry passed to Append.
	ErrNilReading = errors.New("readingstore: nil reading")

	// ErrInvalidLimit indicates a non-positive Fetch limit.
	ErrInvalidLimit = errors.New("readingstore: limit must be positive")

	// ErrEmptyStream indicates an empty stream name.
	ErrEmptyStream = errors.New("readingstore: stream name is empty")
)
