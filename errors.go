package asyncfsm

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the instance has already terminated
	ErrClosed = errors.New("asyncfsm: machine terminated")
	// ErrQueueFull is returned by TrySend when the event queue has no free slot
	ErrQueueFull = errors.New("asyncfsm: event queue full")
	// ErrPayloadType is returned when an event payload does not match its declared type
	ErrPayloadType = errors.New("asyncfsm: event payload type mismatch")
	// ErrAwaitTimeout is returned by Task.AwaitTimeout when the instance is still running
	ErrAwaitTimeout = errors.New("asyncfsm: timed out waiting for task")
	// ErrTaskPanicked matches a TaskError produced by a panicking handler
	ErrTaskPanicked = errors.New("asyncfsm: task panicked")
	// ErrTaskCancelled matches a TaskError produced by context cancellation
	ErrTaskCancelled = errors.New("asyncfsm: task cancelled")
)

// ValidationKind classifies a configuration error found while building a machine
type ValidationKind int

const (
	KindMissingInitial ValidationKind = iota
	KindUnreachableState
	KindUndeclaredState
	KindUndeclaredEvent
	KindDuplicateHandler
	KindDuplicateTimeoutHandler
	KindPayloadMismatch
	KindNoTargets
	KindInvalidDuration
	KindInvalidChannelSize
)

var kindNames = map[ValidationKind]string{
	KindMissingInitial:          "missing initial state",
	KindUnreachableState:        "unreachable state",
	KindUndeclaredState:         "undeclared state",
	KindUndeclaredEvent:         "undeclared event",
	KindDuplicateHandler:        "duplicate handler",
	KindDuplicateTimeoutHandler: "duplicate timeout handler",
	KindPayloadMismatch:         "payload type mismatch",
	KindNoTargets:               "no target states",
	KindInvalidDuration:         "invalid duration",
	KindInvalidChannelSize:      "invalid channel size",
}

func (k ValidationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ValidationError describes the first problem found in a transition table.
type ValidationError struct {
	Kind   ValidationKind
	State  StateID
	Event  EventID
	Detail string
}

func (e *ValidationError) Error() string {
	msg := e.Kind.String()
	if e.State != "" {
		msg += fmt.Sprintf(" %q", e.State)
	}
	if e.Event != "" {
		msg += fmt.Sprintf(" (event %q)", e.Event)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// TaskKind classifies why a Task failed to return its data
type TaskKind int

const (
	// TaskPanicked means a handler panicked inside the event loop
	TaskPanicked TaskKind = iota + 1
	// TaskCancelled means the context passed to Spawn ended before shutdown
	TaskCancelled
)

// TaskError is returned by Task.Await when the event loop did not run to
// completion. The data returned alongside it is always the zero value.
type TaskError struct {
	Kind  TaskKind
	Value any    // recovered panic value (TaskPanicked)
	Stack []byte // goroutine stack at recovery (TaskPanicked)
	Cause error  // context error (TaskCancelled)
}

func (e *TaskError) Error() string {
	switch e.Kind {
	case TaskPanicked:
		return fmt.Sprintf("asyncfsm: task panicked: %v", e.Value)
	case TaskCancelled:
		return fmt.Sprintf("asyncfsm: task cancelled: %v", e.Cause)
	default:
		return "asyncfsm: task failed"
	}
}

func (e *TaskError) Is(target error) bool {
	switch target {
	case ErrTaskPanicked:
		return e.Kind == TaskPanicked
	case ErrTaskCancelled:
		return e.Kind == TaskCancelled
	}
	return false
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// IsTaskError reports whether err is or wraps a *TaskError.
func IsTaskError(err error) bool {
	var e *TaskError
	return errors.As(err, &e)
}
