package store

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same position, global-position,
// and expected-version semantics as the Postgres client. Intended for tests
// and for subscriber or engine code that needs a store without a database.
type MemoryStore struct {
	mu             sync.Mutex
	streams        map[string][]Message
	globalPosition int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]Message)}
}

// WriteMessage appends one message. Global positions start at 1 and are
// strictly monotonic across all streams, matching the bigserial column.
func (s *MemoryStore) WriteMessage(_ context.Context, streamName, messageType string, data any, opts *WriteOptions) (int64, error) {
	if err := validateWriteArgs(streamName, messageType); err != nil {
		return 0, err
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s data: %w", messageType, err)
	}

	var metadataJSON []byte
	var expected *int64
	if opts != nil {
		expected = opts.ExpectedVersion
		if opts.Metadata != nil {
			metadataJSON, err = json.Marshal(opts.Metadata)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal %s metadata: %w", messageType, err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := int64(len(s.streams[streamName])) - 1
	if expected != nil && *expected != version {
		return 0, &ConcurrencyError{StreamName: streamName, Expected: *expected, Actual: version}
	}

	s.globalPosition++
	msg := Message{
		ID:             uuid.New(),
		StreamName:     streamName,
		Type:           messageType,
		Position:       version + 1,
		GlobalPosition: s.globalPosition,
		Data:           dataJSON,
		Metadata:       metadataJSON,
		Time:           time.Now().UTC(),
	}
	s.streams[streamName] = append(s.streams[streamName], msg)
	return msg.Position, nil
}

// ReadStream returns messages of one stream at or after fromPosition.
func (s *MemoryStore) ReadStream(_ context.Context, streamName string, fromPosition, batchSize int64) ([]Message, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.streams[streamName] {
		if m.Position < fromPosition {
			continue
		}
		out = append(out, m)
		if int64(len(out)) >= batchSize {
			break
		}
	}
	return out, nil
}

// ReadCategory returns messages across all streams of a category in
// ascending global-position order. Condition filters are a server-side
// feature and are rejected here.
func (s *MemoryStore) ReadCategory(_ context.Context, category string, fromGlobalPosition, batchSize int64, opts *CategoryOptions) ([]Message, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts != nil && opts.Condition != "" {
		return nil, fmt.Errorf("condition filters are not supported by the in-memory store")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Message
	for streamName, msgs := range s.streams {
		if CategoryOf(streamName) != category {
			continue
		}
		if opts != nil && opts.ConsumerGroupSize != nil {
			if int64(StreamHash(streamName)%uint64(*opts.ConsumerGroupSize)) != *opts.ConsumerGroupMember {
				continue
			}
		}
		for _, m := range msgs {
			if m.GlobalPosition < fromGlobalPosition {
				continue
			}
			if opts != nil && opts.Correlation != "" && !correlates(m, opts.Correlation) {
				continue
			}
			matched = append(matched, m)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].GlobalPosition < matched[j].GlobalPosition
	})
	if int64(len(matched)) > batchSize {
		matched = matched[:batchSize]
	}
	return matched, nil
}

// ReadLastStreamMessage returns the last message of a stream, or nil.
func (s *MemoryStore) ReadLastStreamMessage(_ context.Context, streamName string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.streams[streamName]
	if len(msgs) == 0 {
		return nil, nil
	}
	last := msgs[len(msgs)-1]
	return &last, nil
}

// StreamHash is the 64-bit FNV-1a hash used for consumer-group partitioning.
// Must agree with the server-side hash_64 function so mixed deployments
// partition identically.
func StreamHash(streamName string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(streamName))
	return h.Sum64()
}

func correlates(m Message, correlation string) bool {
	if len(m.Metadata) == 0 {
		return false
	}
	var meta struct {
		CorrelationStreamName string `json:"correlationStreamName"`
	}
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		return false
	}
	return meta.CorrelationStreamName != "" && CategoryOf(meta.CorrelationStreamName) == correlation
}
