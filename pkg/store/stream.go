package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultCategory and DefaultVersion form the default stream prefix "agent:v0".
const (
	DefaultCategory = "agent"
	DefaultVersion  = "v0"
)

// BuildStreamName composes a stream name "{category}:{version}-{threadID}".
// The category must not contain ':' and the version must not contain '-';
// all three parts must be non-empty.
func BuildStreamName(category, version, threadID string) (string, error) {
	if category == "" {
		return "", fmt.Errorf("%w: category is empty", ErrInvalidStreamName)
	}
	if strings.Contains(category, ":") {
		return "", fmt.Errorf("%w: category %q contains ':'", ErrInvalidStreamName, category)
	}
	if version == "" {
		return "", fmt.Errorf("%w: version is empty", ErrInvalidStreamName)
	}
	if strings.Contains(version, "-") {
		return "", fmt.Errorf("%w: version %q contains '-'", ErrInvalidStreamName, version)
	}
	if threadID == "" {
		return "", fmt.Errorf("%w: thread id is empty", ErrInvalidStreamName)
	}
	return category + ":" + version + "-" + threadID, nil
}

// ParseStreamName splits a stream name back into (category, version, threadID).
// It is the inverse of BuildStreamName for any valid triple.
func ParseStreamName(streamName string) (category, version, threadID string, err error) {
	colon := strings.Index(streamName, ":")
	if colon <= 0 {
		return "", "", "", fmt.Errorf("%w: %q has no category separator", ErrInvalidStreamName, streamName)
	}
	category = streamName[:colon]
	rest := streamName[colon+1:]

	dash := strings.Index(rest, "-")
	if dash <= 0 {
		return "", "", "", fmt.Errorf("%w: %q has no version separator", ErrInvalidStreamName, streamName)
	}
	version = rest[:dash]
	threadID = rest[dash+1:]
	if threadID == "" {
		return "", "", "", fmt.Errorf("%w: %q has empty thread id", ErrInvalidStreamName, streamName)
	}
	return category, version, threadID, nil
}

// CategoryOf returns the category prefix "{category}:{version}" of a stream
// name, i.e. everything before the first '-'. For a name without a '-' the
// whole name is returned, matching the server-side category() function.
func CategoryOf(streamName string) string {
	if i := strings.Index(streamName, "-"); i >= 0 {
		return streamName[:i]
	}
	return streamName
}

// BuildCategory composes the category prefix "{category}:{version}".
func BuildCategory(category, version string) string {
	return category + ":" + version
}

// NewThreadID generates a fresh random thread identifier in canonical
// hyphenated UUID form.
func NewThreadID() string {
	return uuid.NewString()
}

// validateWriteArgs rejects arguments the backend would store but never
// serve correctly. Position streams like "position:{subscriberID}" carry no
// thread id, so only emptiness is checked here, not the full triple shape.
func validateWriteArgs(streamName, messageType string) error {
	if strings.TrimSpace(streamName) == "" {
		return fmt.Errorf("%w: stream name is empty", ErrInvalidStreamName)
	}
	if strings.TrimSpace(messageType) == "" {
		return ErrEmptyMessageType
	}
	return nil
}
