package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrInvalidURL) {
//	    // Destination misconfigured, retrying will not help
//	}
var (
	// ErrInvalidURL indicates the destination URL could not be parsed or has no db parameter.
	ErrInvalidURL = errors.New("influxdb: invalid destination url")

	// ErrConnectionFailed indicates the server could not be reached or reported unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("influxdb: session closed")
)
