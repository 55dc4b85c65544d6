// Package projection implements pure folds over event streams.
//
// A projection is a deterministic function from an ordered event list to a
// value. Projection bodies must not perform I/O, read clocks, or touch
// mutable external state; anything they need beyond the events themselves is
// closed over at construction time. Unknown event types are ignored, and
// empty input yields the projection's identity value.
package projection

import (
	"github.com/weftlabs/weft/pkg/store"
)

// Func is a pure projection over an event list.
type Func[T any] func(msgs []store.Message) T

// Result wraps a projected value with processed-event metadata.
// LastPosition is -1 when the input was empty.
type Result[T any] struct {
	Value        T
	EventCount   int
	LastPosition int64
}

// WithMetadata evaluates f and records how much input it consumed.
func WithMetadata[T any](msgs []store.Message, f Func[T]) Result[T] {
	r := Result[T]{Value: f(msgs), EventCount: len(msgs), LastPosition: -1}
	if len(msgs) > 0 {
		r.LastPosition = msgs[len(msgs)-1].Position
	}
	return r
}

// Erase adapts a typed projection for Compose.
func Erase[T any](f Func[T]) Func[any] {
	return func(msgs []store.Message) any {
		return f(msgs)
	}
}

// Compose evaluates N projections over one event list in a single pass,
// returning their values in argument order.
func Compose(projections ...Func[any]) Func[[]any] {
	return func(msgs []store.Message) []any {
		out := make([]any, len(projections))
		for i, p := range projections {
			out[i] = p(msgs)
		}
		return out
	}
}
