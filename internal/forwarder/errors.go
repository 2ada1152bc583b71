package forwarder

import "errors"

// Sentinel errors for forwarding operations.
//
// Send itself reports failure as a zero count; these errors are kept by the
// Forwarder and exposed through LastError for status reporting:
//
//	if errors.Is(fwd.LastError(), forwarder.ErrConnectFailed) {
//	    // destination unreachable
//	}
var (
	// ErrConnectFailed indicates the destination could not be reached.
	ErrConnectFailed = errors.New("forwarder: connect failed")

	// ErrNoSession indicates the connector returned neither a session nor an error.
	ErrNoSession = errors.New("forwarder: connector returned no session")

	// ErrWriteFailed indicates buffering a point failed, typically because
	// a full batch could not be delivered.
	ErrWriteFailed = errors.New("forwarder: write failed")

	// ErrFlushFailed indicates the final flush of a batch failed.
	ErrFlushFailed = errors.New("forwarder: flush failed")

	// ErrNilReading indicates a nil entry in the readings passed to Send.
	ErrNilReading = errors.New("forwarder: nil reading")
)
