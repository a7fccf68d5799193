package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoDevice is returned for topics without a device segment
	ErrNoDevice = errors.New("topic has no device segment")
	// ErrBadPayload is returned for payloads that are not base-10 integers
	ErrBadPayload = errors.New("payload is not an integer")
)

// DeviceFromTopic returns the second path segment of topic
func DeviceFromTopic(topic string) (string, error) {
	segments := strings.Split(topic, "/")
	if len(segments) < 2 || segments[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrNoDevice, topic)
	}
	return segments[1], nil
}

// ParseSequence parses a base-10 integer payload. Surrounding whitespace is
// ignored.
func ParseSequence(payload []byte) (int64, error) {
	text := strings.TrimSpace(string(payload))
	seq, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPayload, truncate(text, 32))
	}
	return seq, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
