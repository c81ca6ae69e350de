package asyncfsm

import "sync"

// stateWatch is a single-slot latest-value broadcast of the current state.
// Readers never see a backlog, only the newest value.
type stateWatch struct {
	mu      sync.Mutex
	value   StateID
	changed chan struct{} // closed on the next publish or on close
	watched bool          // a waiter holds changed; publish must replace it
	closed  bool
}

func newStateWatch(initial StateID) *stateWatch {
	return &stateWatch{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Load returns the latest published state
func (w *stateWatch) Load() StateID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// snapshot returns the latest value together with a channel that is closed
// once a newer value is published or the publisher goes away.
func (w *stateWatch) snapshot() (StateID, <-chan struct{}, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = true
	return w.value, w.changed, w.closed
}

func (w *stateWatch) publish(s StateID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.value = s
	if w.watched {
		close(w.changed)
		w.changed = make(chan struct{})
		w.watched = false
	}
}

func (w *stateWatch) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.changed)
}
