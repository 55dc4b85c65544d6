package subscriber

import (
	"context"
	"log/slog"

	"github.com/weftlabs/weft/pkg/store"
)

// AuditHandler logs every message it sees. It is the stock handler for
// observing a category without acting on it.
func AuditHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, msg store.Message) error {
		logger.Info("Event observed",
			"type", msg.Type,
			"stream_name", msg.StreamName,
			"position", msg.Position,
			"global_position", msg.GlobalPosition,
			"time", msg.Time)
		return nil
	}
}

// FilterHandler wraps a handler so it only runs for messages matching the
// predicate. Non-matching messages still advance the cursor.
func FilterHandler(predicate func(store.Message) bool, next Handler) Handler {
	return func(ctx context.Context, msg store.Message) error {
		if !predicate(msg) {
			return nil
		}
		return next(ctx, msg)
	}
}

// TypeRouter dispatches messages to per-event-type handlers. Types without a
// handler are skipped.
func TypeRouter(routes map[string]Handler) Handler {
	return func(ctx context.Context, msg store.Message) error {
		handler, ok := routes[msg.Type]
		if !ok {
			slog.Debug("Event type not routed", "type", msg.Type)
			return nil
		}
		return handler(ctx, msg)
	}
}
