package reading

import "errors"

// ErrInvalidReading indicates a payload that cannot be decoded into readings.
var ErrInvalidReading = errors.New("reading: invalid reading")
