package asyncfsm

import (
	"context"
	"sync"
	"time"
)

// Task is the one-shot result of a spawned instance. It resolves exactly once,
// either to the final data or to a *TaskError. A Task is not meant to be
// shared between owners; the data it yields is handed over to the caller.
type Task[C any] struct {
	data C
	err  error
	once sync.Once
	done chan struct{}
}

func newTask[C any]() *Task[C] {
	return &Task[C]{done: make(chan struct{})}
}

func (t *Task[C]) resolve(data C, err error) {
	t.once.Do(func() {
		t.data, t.err = data, err
		close(t.done)
	})
}

// Await waits for the instance to terminate and returns its data. If ctx ends
// first, ctx.Err() is returned and the task keeps running.
func (t *Task[C]) Await(ctx context.Context) (C, error) {
	select {
	case <-t.done:
		return t.data, t.err
	case <-ctx.Done():
		var zero C
		return zero, ctx.Err()
	}
}

// AwaitTimeout is Await bounded by d; it returns ErrAwaitTimeout on expiry.
func (t *Task[C]) AwaitTimeout(d time.Duration) (C, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.data, t.err
	case <-timer.C:
		var zero C
		return zero, ErrAwaitTimeout
	}
}

// IsComplete reports whether the task has resolved
func (t *Task[C]) IsComplete() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the task has resolved
func (t *Task[C]) Done() <-chan struct{} {
	return t.done
}
