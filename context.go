package asyncfsm

import (
	"context"
	"log/slog"
)

// Handler runs a transition. It is invoked on the machine's goroutine with
// exclusive access to the owned data and may block on I/O; no other event,
// timeout or shutdown is serviced until it returns.
type Handler[C any] func(c *Context[C]) Transition

// Context is passed to handlers. It is only valid for the duration of the call.
type Context[C any] struct {
	Event  Event   // Event being handled (ID is TimeoutEvent for the timeout handler)
	State  StateID // State the handler was dispatched from
	Data   *C      // Data owned by the running machine
	Logger *slog.Logger

	ctx context.Context
}

// Ctx returns the dispatch context. It derives from the context passed to
// Spawn and carries the handler span when tracing is enabled.
func (c *Context[C]) Ctx() context.Context {
	return c.ctx
}

// Payload returns the event payload converted to T.
func Payload[T any, C any](c *Context[C]) (T, bool) {
	v, ok := c.Event.Payload.(T)
	return v, ok
}
