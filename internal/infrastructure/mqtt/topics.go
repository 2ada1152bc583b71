package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of topics published by the forwarder itself.
const TopicPrefix = "influxnorth"

// Topics builds the forwarder's own topic names.
type Topics struct{}

// Status returns the retained online/offline status topic for a client.
//
// Example: influxnorth/status/influxnorth-1a2b3c4d
func (Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, clientID)
}

// AllStatus matches the status topics of every forwarder instance.
func (Topics) AllStatus() string {
	return TopicPrefix + "/status/+"
}

// LastSegment returns the final level of a topic name.
//
// Example: "readings/site1/pump1" returns "pump1".
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// ValidateFilter checks a subscription filter: non-empty, "#" only as the
// whole final level, "+" only as a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case strings.Contains(level, "#"):
			if level != "#" || i != len(levels)-1 {
				return fmt.Errorf("%w: misplaced '#' in %q", ErrInvalidTopic, filter)
			}
		case strings.Contains(level, "+"):
			if level != "+" {
				return fmt.Errorf("%w: misplaced '+' in %q", ErrInvalidTopic, filter)
			}
		}
	}
	return nil
}
