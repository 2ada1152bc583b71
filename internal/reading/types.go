package reading

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind identifies the concrete type held by a Value.
type Kind int

// Value kinds.
const (
	KindInteger Kind = iota
	KindFloat
	KindString
	KindOther
)

// String returns the kind name used in logs and JSON.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "other"
	}
}

// Value is a typed datapoint value. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Value struct {
	kind  Kind
	i     int64
	f     float64
	s     string
	other any
}

// IntValue returns an integer-kind value.
func IntValue(v int64) Value { return Value{kind: KindInteger, i: v} }

// FloatValue returns a float-kind value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }

// StringValue returns a string-kind value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// OtherValue wraps any other JSON-representable data (objects, arrays, booleans).
func OtherValue(v any) Value { return Value{kind: KindOther, other: v} }

// Kind reports the concrete kind of v.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload. Only meaningful for KindInteger.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload. Only meaningful for KindFloat.
func (v Value) Float() float64 { return v.f }

// String returns the string representation of the value, whatever its kind.
// Other-kind values are rendered as their JSON encoding.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		b, err := json.Marshal(v.other)
		if err != nil {
			return fmt.Sprint(v.other)
		}
		return string(b)
	}
}

// MarshalJSON encodes the value as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("unsupported float value %v", v.f)
		}
		// Keep a fractional part so the value decodes back as float-kind.
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			s += ".0"
		}
		return []byte(s), nil
	case KindString:
		return json.Marshal(v.s)
	default:
		return json.Marshal(v.other)
	}
}

// Datapoint is one named, typed value within a reading.
type Datapoint struct {
	Name  string
	Value Value
}

// Reading is a sensor record: an asset name, the time the data was taken,
// and an ordered set of datapoints.
type Reading struct {
	Asset      string
	Timestamp  time.Time
	Datapoints []Datapoint
}

// New creates a reading for asset taken at ts.
func New(asset string, ts time.Time, datapoints ...Datapoint) *Reading {
	return &Reading{
		Asset:      asset,
		Timestamp:  ts,
		Datapoints: datapoints,
	}
}

// Timeval returns the user timestamp split into whole seconds and the
// microsecond remainder.
func (r *Reading) Timeval() (sec int64, usec int64) {
	return r.Timestamp.Unix(), int64(r.Timestamp.Nanosecond() / 1000)
}

// Validate reports whether the reading can be written to the destination:
// it needs an asset name and at least one datapoint, every one named.
func (r *Reading) Validate() error {
	if r.Asset == "" {
		return fmt.Errorf("%w: missing asset", ErrInvalidReading)
	}
	if len(r.Datapoints) == 0 {
		return fmt.Errorf("%w: no datapoints", ErrInvalidReading)
	}
	for i, dp := range r.Datapoints {
		if dp.Name == "" {
			return fmt.Errorf("%w: datapoint %d has no name", ErrInvalidReading, i)
		}
	}
	return nil
}

// Add appends a datapoint to the reading.
func (r *Reading) Add(name string, v Value) {
	r.Datapoints = append(r.Datapoints, Datapoint{Name: name, Value: v})
}
