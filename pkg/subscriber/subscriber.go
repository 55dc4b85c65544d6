// Package subscriber implements durable category subscriptions: a polling
// loop that reads a category in global-position order, dispatches each
// message to a handler, and checkpoints its cursor so a restart resumes
// where it left off.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weftlabs/weft/pkg/metrics"
	"github.com/weftlabs/weft/pkg/store"
)

// Handler processes one message. Returning an error triggers retries; a
// handler that keeps failing halts the subscriber without advancing the
// cursor, so the message is re-delivered after a restart.
type Handler func(ctx context.Context, msg store.Message) error

// Defaults for the optional Config fields.
const (
	DefaultPollInterval           = 100 * time.Millisecond
	DefaultBatchSize              = 100
	DefaultPositionUpdateInterval = 10
	DefaultMaxHandlerRetries      = 3
)

// Config describes one subscription.
type Config struct {
	// Category to subscribe to. A stream's category is everything before
	// the first '-' in its name, so sessions on "agent:v0-{thread}" streams
	// live in category "agent:v0" (store.BuildCategory builds it).
	Category string
	// Handler receives every message of the category in order.
	Handler Handler

	// PollInterval is the idle wait between empty polls.
	PollInterval time.Duration
	// BatchSize bounds each category read.
	BatchSize int64

	// PositionStore and SubscriberID enable durable cursors; both must be
	// set together. Without them the subscription starts from the beginning
	// on every run.
	PositionStore PositionStore
	SubscriberID  string
	// PositionUpdateInterval is the number of processed messages between
	// cursor saves. The cursor is also saved at the end of every batch.
	PositionUpdateInterval int
	// MaxHandlerRetries is how many times a failing handler is retried for
	// one message before the subscriber halts.
	MaxHandlerRetries int

	// ConsumerGroupMember and ConsumerGroupSize partition the category
	// across a group of subscribers; both must be set together.
	ConsumerGroupMember *int64
	ConsumerGroupSize   *int64
}

func (c *Config) validate() error {
	if c.Category == "" {
		return errors.New("category is required")
	}
	if c.Handler == nil {
		return errors.New("handler is required")
	}
	if (c.PositionStore == nil) != (c.SubscriberID == "") {
		return errors.New("position store and subscriber id must be set together")
	}
	if (c.ConsumerGroupMember == nil) != (c.ConsumerGroupSize == nil) {
		return errors.New("consumer group member and size must be set together")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.PositionUpdateInterval <= 0 {
		out.PositionUpdateInterval = DefaultPositionUpdateInterval
	}
	if out.MaxHandlerRetries <= 0 {
		out.MaxHandlerRetries = DefaultMaxHandlerRetries
	}
	return out
}

// Subscriber is one running category subscription.
type Subscriber struct {
	store  store.Store
	config Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	cursor    int64
	saved     int64
	processed int64
}

// New builds a subscriber. The configuration is validated here so a
// misconfigured subscription fails at construction, not mid-poll.
func New(st store.Store, cfg Config) (*Subscriber, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid subscriber config: %w", err)
	}
	return &Subscriber{
		store:  st,
		config: cfg.withDefaults(),
		stopCh: make(chan struct{}),
	}, nil
}

// Start runs the poll loop in a goroutine. Use Run to block instead.
func (s *Subscriber) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Run(ctx); err != nil {
			slog.Error("Subscriber stopped with error",
				"category", s.config.Category, "subscriber_id", s.config.SubscriberID, "error", err)
		}
	}()
}

// Stop signals the loop to finish the current message and exit, then waits.
// Safe to call multiple times.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Cursor returns the global position of the last processed message.
func (s *Subscriber) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Processed returns how many messages this subscriber has dispatched.
func (s *Subscriber) Processed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// Run executes the poll loop until the context is cancelled, Stop is called,
// or the handler fails permanently. A handler failure is returned; cancelled
// runs return nil.
func (s *Subscriber) Run(ctx context.Context) error {
	log := slog.With("category", s.config.Category, "subscriber_id", s.config.SubscriberID)

	cursor, err := s.loadCursor(ctx)
	if err != nil {
		return err
	}
	s.setCursor(cursor)
	log.Info("Subscriber started", "cursor", cursor)

	for {
		select {
		case <-s.stopCh:
			log.Info("Subscriber shutting down")
			return nil
		case <-ctx.Done():
			log.Info("Context cancelled, subscriber shutting down")
			return nil
		default:
		}

		n, err := s.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if store.IsTransient(err) {
				log.Warn("Transient poll error, backing off", "error", err)
				s.sleep(time.Second)
				continue
			}
			log.Error("Subscriber halting", "error", err, "cursor", s.Cursor())
			return err
		}
		if n == 0 {
			s.sleep(s.config.PollInterval)
		}
	}
}

// pollOnce reads and dispatches one batch. Returns how many messages were
// processed.
func (s *Subscriber) pollOnce(ctx context.Context) (int, error) {
	var opts *store.CategoryOptions
	if s.config.ConsumerGroupMember != nil {
		opts = &store.CategoryOptions{
			ConsumerGroupMember: s.config.ConsumerGroupMember,
			ConsumerGroupSize:   s.config.ConsumerGroupSize,
		}
	}

	// Global positions start at 1; the cursor holds the last processed one.
	batch, err := s.store.ReadCategory(ctx, s.config.Category, s.Cursor()+1, s.config.BatchSize, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to read category %s: %w", s.config.Category, err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	sinceSave := 0
	for i := range batch {
		msg := &batch[i]
		if err := s.dispatch(ctx, msg); err != nil {
			// Checkpoint everything before the poison message, then halt.
			if saveErr := s.saveCursor(ctx); saveErr != nil {
				slog.Warn("Failed to save cursor while halting", "error", saveErr)
			}
			return i, fmt.Errorf("handler failed at global position %d: %w", msg.GlobalPosition, err)
		}

		s.advance(msg.GlobalPosition)
		metrics.SubscriberMessages.WithLabelValues(s.subscriberLabel()).Inc()

		sinceSave++
		if sinceSave >= s.config.PositionUpdateInterval {
			if err := s.saveCursor(ctx); err != nil {
				return i + 1, err
			}
			sinceSave = 0
		}
	}

	if err := s.saveCursor(ctx); err != nil {
		return len(batch), err
	}
	return len(batch), nil
}

// dispatch runs the handler with retries. Context cancellation is never
// retried.
func (s *Subscriber) dispatch(ctx context.Context, msg *store.Message) error {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxHandlerRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.config.Handler(ctx, *msg)
		if lastErr == nil {
			return nil
		}
		slog.Warn("Handler error",
			"category", s.config.Category,
			"type", msg.Type,
			"global_position", msg.GlobalPosition,
			"attempt", attempt,
			"error", lastErr)
	}
	return lastErr
}

func (s *Subscriber) loadCursor(ctx context.Context) (int64, error) {
	if s.config.PositionStore == nil {
		return 0, nil
	}
	cursor, err := s.config.PositionStore.Get(ctx, s.config.SubscriberID)
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, nil
}

// saveCursor checkpoints the cursor and resets the lag gauge. Without a
// position store there is nothing to persist, so the checkpoint is the
// cursor itself.
func (s *Subscriber) saveCursor(ctx context.Context) error {
	if s.config.PositionStore != nil {
		if err := s.config.PositionStore.Save(ctx, s.config.SubscriberID, s.Cursor()); err != nil {
			return fmt.Errorf("failed to save cursor: %w", err)
		}
	}
	s.mu.Lock()
	s.saved = s.cursor
	s.mu.Unlock()
	metrics.SubscriberLag.WithLabelValues(s.subscriberLabel()).Set(0)
	return nil
}

func (s *Subscriber) setCursor(position int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = position
	s.saved = position
}

// advance moves the cursor past a dispatched message and reports how far it
// has run ahead of the last checkpoint.
func (s *Subscriber) advance(position int64) {
	s.mu.Lock()
	s.cursor = position
	s.processed++
	lag := s.cursor - s.saved
	s.mu.Unlock()
	metrics.SubscriberLag.WithLabelValues(s.subscriberLabel()).Set(float64(lag))
}

func (s *Subscriber) subscriberLabel() string {
	if s.config.SubscriberID != "" {
		return s.config.SubscriberID
	}
	return s.config.Category
}

func (s *Subscriber) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}
