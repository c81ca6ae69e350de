package asyncfsm

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// core is the state shared by every clone of a Handle and the event loop
type core struct {
	id           string
	events       chan Event
	state        *stateWatch
	shutdown     *shutdownSignal
	payloadTypes map[EventID]reflect.Type

	// done is closed when the event loop has returned
	done     chan struct{}
	doneOnce sync.Once

	// closing is closed when the loop stops accepting events. Senders hold
	// sendMu for reading while they enqueue; stopAccepting takes it for
	// writing so no enqueue can complete after it returns.
	closing     chan struct{}
	closingOnce sync.Once
	sendMu      sync.RWMutex
	stopped     bool // guarded by sendMu

	// senders counts open handles; sendersGone is closed when it drops to zero
	senders     atomic.Int64
	sendersGone chan struct{}
	goneOnce    sync.Once

	lastErr atomic.Pointer[errorBox]
}

type errorBox struct{ err error }

func newCore(initial StateID, channelSize int, payloadTypes map[EventID]reflect.Type) *core {
	c := &core{
		id:           uuid.NewString(),
		events:       make(chan Event, channelSize),
		state:        newStateWatch(initial),
		shutdown:     newShutdownSignal(),
		payloadTypes: payloadTypes,
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
		sendersGone:  make(chan struct{}),
	}
	c.senders.Store(1)
	return c
}

// stopAccepting rejects further sends and waits for in-flight ones to
// finish. Once it returns the queue can only shrink.
func (c *core) stopAccepting() {
	c.closingOnce.Do(func() { close(c.closing) })
	c.sendMu.Lock()
	c.stopped = true
	c.sendMu.Unlock()
}

// accepting reports whether sends may still be queued. The caller holds
// sendMu for reading.
func (c *core) accepting() bool {
	if c.stopped {
		return false
	}
	select {
	case <-c.closing:
		return false
	case <-c.shutdown.Done():
		return false
	default:
		return true
	}
}

// terminate marks the loop as finished and releases state observers
func (c *core) terminate() {
	c.stopAccepting()
	c.doneOnce.Do(func() {
		close(c.done)
		c.state.close()
	})
}

func (c *core) setLastError(err error) {
	c.lastErr.Store(&errorBox{err: err})
}

func (c *core) checkPayload(ev Event) error {
	t, ok := c.payloadTypes[ev.ID]
	if !ok || payloadMatches(t, ev.Payload) {
		return nil
	}
	return ErrPayloadType
}

func payloadMatches(t reflect.Type, v any) bool {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	vt := reflect.TypeOf(v)
	if t.Kind() == reflect.Interface {
		return vt.Implements(t)
	}
	return vt == t
}

// Handle is a cloneable capability for interacting with a running instance.
// It does not own the instance's data.
type Handle struct {
	c      *core
	closed atomic.Bool
}

// ID returns the instance identifier shared by all clones
func (h *Handle) ID() string {
	return h.c.id
}

// Clone returns a new handle to the same instance. Every clone counts as a
// sender; the instance stops once all of them are closed.
func (h *Handle) Clone() *Handle {
	h.c.senders.Add(1)
	return &Handle{c: h.c}
}

// Close releases this handle. When the last open handle is closed the
// instance terminates as if ShutdownImmediate had been called. Close is
// idempotent.
func (h *Handle) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	if h.c.senders.Add(-1) == 0 {
		h.c.goneOnce.Do(func() { close(h.c.sendersGone) })
	}
}

// Send queues an event, blocking while the queue is full. It fails with
// ErrClosed once a shutdown was requested, the instance has terminated, or
// this handle was closed; a sender blocked on a full queue is released with
// ErrClosed when the loop stops. Under a graceful shutdown every event for
// which Send returned nil is processed.
func (h *Handle) Send(ctx context.Context, event Event) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if err := h.c.checkPayload(event); err != nil {
		return err
	}

	h.c.sendMu.RLock()
	defer h.c.sendMu.RUnlock()
	if !h.c.accepting() {
		return ErrClosed
	}

	select {
	case h.c.events <- event:
		return nil
	case <-h.c.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend queues an event without blocking
func (h *Handle) TrySend(event Event) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if err := h.c.checkPayload(event); err != nil {
		return err
	}

	h.c.sendMu.RLock()
	defer h.c.sendMu.RUnlock()
	if !h.c.accepting() {
		return ErrClosed
	}

	select {
	case h.c.events <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// CurrentState returns the latest published state. It never blocks and may
// lag a transition that is still running.
func (h *Handle) CurrentState() StateID {
	return h.c.state.Load()
}

// WaitForState blocks until the published state equals target. It returns
// ErrClosed if the instance terminates in another state.
func (h *Handle) WaitForState(ctx context.Context, target StateID) error {
	for {
		current, changed, closed := h.c.state.snapshot()
		if current == target {
			return nil
		}
		if closed {
			return ErrClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ShutdownGraceful asks the instance to process every queued event and stop.
// Only the first shutdown request of any kind takes effect.
func (h *Handle) ShutdownGraceful() {
	h.c.shutdown.set(ShutdownGraceful)
}

// ShutdownImmediate asks the instance to stop without processing queued
// events. Only the first shutdown request of any kind takes effect.
func (h *Handle) ShutdownImmediate() {
	h.c.shutdown.set(ShutdownImmediate)
}

// ShutdownMode returns the requested shutdown mode, or ShutdownNone
func (h *Handle) ShutdownMode() ShutdownMode {
	return h.c.shutdown.Mode()
}

// LastError returns the most recent error reported by a handler through
// ToWithError, or nil
func (h *Handle) LastError() error {
	if b := h.c.lastErr.Load(); b != nil {
		return b.err
	}
	return nil
}

// Done is closed when the instance has terminated
func (h *Handle) Done() <-chan struct{} {
	return h.c.done
}
