package asyncfsm

import "log/slog"

// StateID is a unique identifier for a state
type StateID string

// EventID is a unique identifier for an event type
type EventID string

// ShutdownMode selects how a running instance terminates
type ShutdownMode int

const (
	// ShutdownNone means no shutdown has been requested
	ShutdownNone ShutdownMode = iota
	// ShutdownGraceful drains every queued event before terminating
	ShutdownGraceful
	// ShutdownImmediate terminates without processing queued events
	ShutdownImmediate
)

func (m ShutdownMode) String() string {
	switch m {
	case ShutdownGraceful:
		return "graceful"
	case ShutdownImmediate:
		return "immediate"
	default:
		return "none"
	}
}

// Logger is the default logger used when none is provided
var Logger = slog.Default()
