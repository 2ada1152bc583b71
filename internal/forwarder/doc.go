// Package forwarder sends sensor readings to an InfluxDB database.
//
// # Overview
//
// A Forwarder holds one lazily created Session to the destination. Each
// Send converts readings to points (measurement = asset name, millisecond
// timestamp, one field per datapoint), buffers them in the session and
// flushes. The returned count is all-or-nothing: the number of readings
// passed in when everything succeeded, otherwise 0.
//
// # Connection state
//
//	Disconnected --(successful Dial in Send)--> Connected
//	Connected    --(write/flush failure, Close)--> Disconnected
//
// Dropping the session on failure discards any points still buffered in it,
// which matches the zero count reported to the caller.
//
// # Usage
//
//	fwd := forwarder.New(cfg.InfluxDB, &influxdb.Dialer{Timeout: 10 * time.Second}, logger)
//	n := fwd.Send(ctx, readings)
//	if n == 0 && len(readings) > 0 {
//	    // retry later
//	}
//
// # Thread Safety
//
// Send calls are serialised by a mutex covering both the connect phase and
// batch submission.
package forwarder
