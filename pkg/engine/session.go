package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/store"
)

// SessionError wraps failures of the session lifecycle operations.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// StartSession creates a new session stream seeded with SessionStarted and
// the initial user message. It returns the generated thread id and the
// stream name the processing loop should be pointed at.
func StartSession(ctx context.Context, st store.Store, initialMessage, category, version string) (threadID, streamName string, err error) {
	if strings.TrimSpace(initialMessage) == "" {
		return "", "", &SessionError{Op: "start", Err: fmt.Errorf("initial message is empty")}
	}
	if category == "" {
		category = store.DefaultCategory
	}
	if version == "" {
		version = store.DefaultVersion
	}

	threadID = store.NewThreadID()
	streamName, err = store.BuildStreamName(category, version, threadID)
	if err != nil {
		return "", "", &SessionError{Op: "start", Err: err}
	}

	// The stream must not exist yet; -1 asserts emptiness.
	empty := int64(-1)
	if _, err := st.WriteMessage(ctx, streamName, events.TypeSessionStarted,
		events.SessionStartedPayload{ThreadID: threadID},
		&store.WriteOptions{ExpectedVersion: &empty}); err != nil {
		return "", "", &SessionError{Op: "start", Err: err}
	}

	if _, err := st.WriteMessage(ctx, streamName, events.TypeUserMessageAdded,
		events.UserMessageAddedPayload{
			Message:   initialMessage,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, nil); err != nil {
		return "", "", &SessionError{Op: "start", Err: err}
	}

	slog.Info("Session started", "thread_id", threadID, "stream_name", streamName)
	return threadID, streamName, nil
}

// AddUserMessage appends a user turn to an existing session stream.
func AddUserMessage(ctx context.Context, st store.Store, streamName, message string) error {
	if strings.TrimSpace(message) == "" {
		return &SessionError{Op: "add message", Err: fmt.Errorf("message is empty")}
	}
	_, err := st.WriteMessage(ctx, streamName, events.TypeUserMessageAdded,
		events.UserMessageAddedPayload{
			Message:   message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, nil)
	if err != nil {
		return &SessionError{Op: "add message", Err: err}
	}
	return nil
}

// TerminateSession requests a graceful stop. It appends
// SessionTerminationRequested; the processing loop observes it on its next
// projection and writes the terminal SessionCompleted.
func TerminateSession(ctx context.Context, st store.Store, threadID, reason, category, version string) error {
	if strings.TrimSpace(threadID) == "" {
		return &SessionError{Op: "terminate", Err: fmt.Errorf("thread id is empty")}
	}
	if strings.TrimSpace(reason) == "" {
		return &SessionError{Op: "terminate", Err: fmt.Errorf("reason is empty")}
	}
	if category == "" {
		category = store.DefaultCategory
	}
	if version == "" {
		version = store.DefaultVersion
	}

	streamName, err := store.BuildStreamName(category, version, threadID)
	if err != nil {
		return &SessionError{Op: "terminate", Err: err}
	}

	if _, err := st.WriteMessage(ctx, streamName, events.TypeSessionTerminationRequested,
		events.SessionTerminationRequestedPayload{Reason: reason}, nil); err != nil {
		return &SessionError{Op: "terminate", Err: err}
	}

	slog.Info("Session termination requested", "thread_id", threadID, "reason", reason)
	return nil
}
