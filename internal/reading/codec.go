package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when parsing a string timestamp.
// The space-separated forms are what FogLAMP-style producers emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// wireReading is the JSON shape of a reading.
type wireReading struct {
	Asset     string          `json:"asset"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Readings  json.RawMessage `json:"readings"`
}

// MarshalJSON encodes the reading with datapoints as an ordered JSON object.
func (r *Reading) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	asset, err := json.Marshal(r.Asset)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"asset":`)
	buf.Write(asset)
	buf.WriteString(`,"timestamp":"`)
	buf.WriteString(r.Timestamp.UTC().Format(time.RFC3339Nano))
	buf.WriteString(`","readings":{`)
	for i, dp := range r.Datapoints {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(dp.Name)
		if err != nil {
			return nil, err
		}
		val, err := dp.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encoding datapoint %q: %w", dp.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a reading, keeping datapoints in document order.
// A missing timestamp leaves Timestamp zero; callers decide the fallback.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return err
	}

	datapoints, err := decodeDatapoints(w.Readings)
	if err != nil {
		return err
	}

	r.Asset = w.Asset
	r.Timestamp = ts
	r.Datapoints = datapoints
	return nil
}

// Decode parses a payload holding either a single reading object or an
// array of them.
func Decode(payload []byte) ([]*Reading, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidReading)
	}

	if trimmed[0] == '[' {
		var list []*Reading
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, invalid(err)
		}
		return list, nil
	}

	r := &Reading{}
	if err := json.Unmarshal(trimmed, r); err != nil {
		return nil, invalid(err)
	}
	return []*Reading{r}, nil
}

// invalid wraps err with ErrInvalidReading unless it already is one.
func invalid(err error) error {
	if errors.Is(err, ErrInvalidReading) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidReading, err)
}

// parseTimestamp accepts a string in one of timestampLayouts or a number of
// seconds since the epoch.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %w", ErrInvalidReading, err)
		}
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrInvalidReading, s)
	}

	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %w", ErrInvalidReading, err)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*1000).UTC(), nil
}

// decodeDatapoints walks a JSON object token by token so that datapoint
// order matches the document.
func decodeDatapoints(raw json.RawMessage) ([]Datapoint, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: missing readings object", ErrInvalidReading)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: readings must be an object", ErrInvalidReading)
	}

	var datapoints []Datapoint
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidReading, err)
		}
		name, _ := keyTok.(string)
		if name == "" {
			return nil, fmt.Errorf("%w: datapoint with empty name", ErrInvalidReading)
		}

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("%w: datapoint %q: %w", ErrInvalidReading, name, err)
		}

		v, err := decodeValue(val)
		if err != nil {
			return nil, fmt.Errorf("%w: datapoint %q: %w", ErrInvalidReading, name, err)
		}
		datapoints = append(datapoints, Datapoint{Name: name, Value: v})
	}
	if len(datapoints) == 0 {
		return nil, fmt.Errorf("%w: readings object has no datapoints", ErrInvalidReading)
	}

	return datapoints, nil
}

// decodeValue classifies a raw JSON value. Numbers without a fraction or
// exponent that fit in int64 are integers; every other number is a float.
func decodeValue(raw json.RawMessage) (Value, error) {
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case '{', '[', 't', 'f', 'n':
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return Value{}, err
		}
		return OtherValue(v), nil
	}

	s := string(raw)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntValue(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, err
	}
	return FloatValue(f), nil
}
