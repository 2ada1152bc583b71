package forwarder

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/influx-north/internal/reading"
)

// ToPoint converts a reading into a destination point.
//
// The measurement is the asset name. The timestamp keeps millisecond
// precision; the sub-millisecond remainder is truncated. Each datapoint
// becomes one field:
//   - integers are written as float64 fields, so a datapoint that is
//     sometimes integral and sometimes not never collides with an existing
//     field type on the server
//   - floats are written unchanged
//   - everything else is written as its string form
func ToPoint(r *reading.Reading) *write.Point {
	p := write.NewPointWithMeasurement(r.Asset)
	p.SetTime(time.UnixMilli(TimestampMillis(r)))

	for _, dp := range r.Datapoints {
		p.AddField(dp.Name, FieldValue(dp.Value))
	}
	return p
}

// TimestampMillis returns seconds*1000 + microseconds/1000 for the reading's
// user timestamp.
func TimestampMillis(r *reading.Reading) int64 {
	sec, usec := r.Timeval()
	return sec*1000 + usec/1000
}

// FieldValue maps a datapoint value to the value stored in the point.
func FieldValue(v reading.Value) interface{} {
	switch v.Kind() {
	case reading.KindInteger:
		return float64(v.Int())
	case reading.KindFloat:
		return v.Float()
	default:
		return v.String()
	}
}
