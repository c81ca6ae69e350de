package asyncfsm

// Event carries data through the state machine
type Event struct {
	ID      EventID
	Payload any // Optional typed payload
}

// TimeoutEvent is the event ID seen by the timeout handler when the state timer expires
const TimeoutEvent EventID = "_timeout"
