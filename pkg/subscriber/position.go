package subscriber

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/store"
)

// PositionStore persists a subscriber's read cursor: the global position of
// the last message it fully processed.
type PositionStore interface {
	// Get returns the saved cursor, or 0 when none exists.
	Get(ctx context.Context, subscriberID string) (int64, error)
	// Save records the cursor. Saving a position at or below the current one
	// is a no-op, so replays and races cannot move the cursor backwards.
	Save(ctx context.Context, subscriberID string, position int64) error
}

// InMemoryPositionStore keeps cursors in a map. Used by tests and by
// subscribers that can afford to re-process from the start.
type InMemoryPositionStore struct {
	mu        sync.Mutex
	positions map[string]int64
}

func NewInMemoryPositionStore() *InMemoryPositionStore {
	return &InMemoryPositionStore{positions: make(map[string]int64)}
}

func (s *InMemoryPositionStore) Get(_ context.Context, subscriberID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[subscriberID], nil
}

func (s *InMemoryPositionStore) Save(_ context.Context, subscriberID string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position > s.positions[subscriberID] {
		s.positions[subscriberID] = position
	}
	return nil
}

// StorePositionStore keeps cursors in the message store itself, as
// PositionRecorded events on "position:{subscriberID}" streams. The current
// cursor is always the last message of the stream.
type StorePositionStore struct {
	store store.Store
}

func NewStorePositionStore(st store.Store) *StorePositionStore {
	return &StorePositionStore{store: st}
}

func positionStreamName(subscriberID string) string {
	return "position:" + subscriberID
}

func (s *StorePositionStore) Get(ctx context.Context, subscriberID string) (int64, error) {
	last, err := s.store.ReadLastStreamMessage(ctx, positionStreamName(subscriberID))
	if err != nil {
		return 0, fmt.Errorf("failed to read position for %s: %w", subscriberID, err)
	}
	if last == nil {
		return 0, nil
	}

	var p events.PositionRecordedPayload
	if err := last.UnmarshalData(&p); err != nil {
		return 0, fmt.Errorf("corrupt position record for %s: %w", subscriberID, err)
	}
	return p.Position, nil
}

func (s *StorePositionStore) Save(ctx context.Context, subscriberID string, position int64) error {
	current, err := s.Get(ctx, subscriberID)
	if err != nil {
		return err
	}
	if position <= current {
		return nil
	}

	_, err = s.store.WriteMessage(ctx, positionStreamName(subscriberID), events.TypePositionRecorded,
		events.PositionRecordedPayload{Position: position, SubscriberID: subscriberID}, nil)
	if err != nil {
		return fmt.Errorf("failed to save position for %s: %w", subscriberID, err)
	}
	return nil
}
