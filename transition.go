package asyncfsm

import (
	"reflect"
	"time"
)

// Transition is a handler's outcome: the next state, optionally paired with
// an error the handler wants to report without stopping the machine.
type Transition struct {
	To  StateID
	Err error
}

// To returns a transition to the given state
func To(state StateID) Transition {
	return Transition{To: state}
}

// ToWithError returns a transition to the given state that also records err
func ToWithError(state StateID, err error) Transition {
	return Transition{To: state, Err: err}
}

// registration is one handler entry of the transition table
type registration[C any] struct {
	event       EventID
	handler     Handler[C]
	from        []StateID
	targets     []StateID
	timeout     time.Duration
	hasTimeout  bool
	timeoutErr  error // deferred literal parse failure, reported by Build
	payloadType reflect.Type
}

func (r *registration[C]) allowsTarget(s StateID) bool {
	for _, t := range r.targets {
		if t == s {
			return true
		}
	}
	return false
}

// HandlerOption is a functional option for configuring a handler registration
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	from        []StateID
	targets     []StateID
	timeout     time.Duration
	timeoutSet  bool
	timeoutErr  error
	payloadType reflect.Type
}

// From sets the source states the handler is valid in
func From(states ...StateID) HandlerOption {
	return func(c *handlerConfig) {
		c.from = append(c.from, states...)
	}
}

// Targets declares every state the handler may transition to
func Targets(states ...StateID) HandlerOption {
	return func(c *handlerConfig) {
		c.targets = append(c.targets, states...)
	}
}

// WithTimeout arms the state timer for d after the handler transitions
// without reporting an error
func WithTimeout(d time.Duration) HandlerOption {
	return func(c *handlerConfig) {
		c.timeout, c.timeoutSet = d, true
	}
}

// WithTimeoutLiteral is WithTimeout with a duration literal such as "30s".
// A malformed literal makes Build fail.
func WithTimeoutLiteral(literal string) HandlerOption {
	return func(c *handlerConfig) {
		d, err := ParseDuration(literal)
		c.timeout, c.timeoutSet, c.timeoutErr = d, err == nil, err
	}
}

// WithPayload declares the payload type carried by the handler's event
func WithPayload[T any]() HandlerOption {
	return func(c *handlerConfig) {
		c.payloadType = reflect.TypeOf((*T)(nil)).Elem()
	}
}
