// Package store implements an event store over a Message-DB-style PostgreSQL
// schema: append with optimistic concurrency, per-stream and per-category
// reads, and consumer-group partitioning by stream-name hash.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize bounds reads that do not specify their own batch size.
const DefaultBatchSize = 1000

// Message is one immutable record in the store. Position is the 0-based
// sequence within the stream; GlobalPosition is strictly monotonic across
// all streams and starts at 1.
type Message struct {
	ID             uuid.UUID
	StreamName     string
	Type           string
	Position       int64
	GlobalPosition int64
	Data           json.RawMessage
	Metadata       json.RawMessage
	Time           time.Time
}

// UnmarshalData decodes the message payload into v.
func (m *Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no data", m.ID)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// UnmarshalMetadata decodes the message metadata into v. A message without
// metadata leaves v untouched.
func (m *Message) UnmarshalMetadata(v any) error {
	if len(m.Metadata) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Metadata, v); err != nil {
		return fmt.Errorf("failed to decode %s metadata: %w", m.Type, err)
	}
	return nil
}

// WriteOptions carries the optional arguments of a write.
type WriteOptions struct {
	// Metadata is JSON-marshalled into the message metadata column.
	Metadata any
	// ExpectedVersion, when non-nil, makes the append conditional on the
	// stream's current highest position. -1 asserts the stream is empty.
	ExpectedVersion *int64
}

// CategoryOptions carries the optional arguments of a category read.
type CategoryOptions struct {
	// Correlation filters messages whose metadata correlationStreamName
	// belongs to the given category.
	Correlation string
	// ConsumerGroupMember and ConsumerGroupSize partition the category by a
	// 64-bit FNV-1a hash of the stream name modulo the group size. Both must
	// be set together.
	ConsumerGroupMember *int64
	ConsumerGroupSize   *int64
	// Condition is an opaque server-side SQL filter fragment. Trusted input
	// only; unsupported by the in-memory store.
	Condition string
}

func (o *CategoryOptions) validate() error {
	if o == nil {
		return nil
	}
	if (o.ConsumerGroupMember == nil) != (o.ConsumerGroupSize == nil) {
		return fmt.Errorf("consumer group member and size must be set together")
	}
	if o.ConsumerGroupSize != nil {
		if *o.ConsumerGroupSize <= 0 {
			return fmt.Errorf("consumer group size must be positive, got %d", *o.ConsumerGroupSize)
		}
		if *o.ConsumerGroupMember < 0 || *o.ConsumerGroupMember >= *o.ConsumerGroupSize {
			return fmt.Errorf("consumer group member %d out of range for size %d",
				*o.ConsumerGroupMember, *o.ConsumerGroupSize)
		}
	}
	return nil
}

// Store is the event-store contract shared by the Postgres client and the
// in-memory implementation.
type Store interface {
	// WriteMessage appends one message and returns its stream position.
	// An expected-version mismatch returns a *ConcurrencyError.
	WriteMessage(ctx context.Context, streamName, messageType string, data any, opts *WriteOptions) (int64, error)

	// ReadStream returns messages at or after fromPosition in ascending
	// stream-position order, up to batchSize (DefaultBatchSize if <= 0).
	ReadStream(ctx context.Context, streamName string, fromPosition, batchSize int64) ([]Message, error)

	// ReadCategory returns messages across all streams of a category in
	// ascending global-position order, starting at fromGlobalPosition.
	ReadCategory(ctx context.Context, category string, fromGlobalPosition, batchSize int64, opts *CategoryOptions) ([]Message, error)

	// ReadLastStreamMessage returns the highest-position message of a
	// stream, or nil if the stream does not exist.
	ReadLastStreamMessage(ctx context.Context, streamName string) (*Message, error)
}
