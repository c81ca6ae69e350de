package asyncfsm

import (
	"fmt"
	"reflect"
)

// Definition holds the transition table before building a Machine
type Definition[C any] struct {
	initial       StateID
	registrations []*registration[C]
	timeout       *registration[C]
	timeoutDups   int
}

// NewDefinition creates a new transition table builder
func NewDefinition[C any]() *Definition[C] {
	return &Definition[C]{}
}

// Initial sets the initial state
func (d *Definition[C]) Initial(id StateID) *Definition[C] {
	d.initial = id
	return d
}

// On registers handler for event in every state named by From. Targets must
// list each state the handler can return.
func (d *Definition[C]) On(event EventID, handler Handler[C], opts ...HandlerOption) *Definition[C] {
	d.registrations = append(d.registrations, newRegistration(event, handler, opts))
	return d
}

// OnTimeout registers the timeout handler, invoked from whatever state is
// current when the state timer expires. At most one may be registered.
func (d *Definition[C]) OnTimeout(handler Handler[C], opts ...HandlerOption) *Definition[C] {
	r := newRegistration(TimeoutEvent, handler, opts)
	r.from = nil
	if d.timeout != nil {
		d.timeoutDups++
		return d
	}
	d.timeout = r
	return d
}

func newRegistration[C any](event EventID, handler Handler[C], opts []HandlerOption) *registration[C] {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &registration[C]{
		event:       event,
		handler:     handler,
		from:        cfg.from,
		targets:     cfg.targets,
		timeout:     cfg.timeout,
		hasTimeout:  cfg.timeoutSet,
		timeoutErr:  cfg.timeoutErr,
		payloadType: cfg.payloadType,
	}
}

// Graph returns the reachability graph of the table
func (d *Definition[C]) Graph() *Graph {
	var edges []Edge
	for _, r := range d.registrations {
		for _, from := range r.from {
			for _, to := range r.targets {
				edges = append(edges, Edge{From: from, Event: r.event, To: to})
			}
		}
	}
	var wildcard []StateID
	if d.timeout != nil {
		wildcard = d.timeout.targets
	}
	return NewGraph(d.initial, edges, wildcard)
}

// Validate checks the definition for errors
func (d *Definition[C]) Validate() error {
	if d.initial == "" {
		return &ValidationError{Kind: KindMissingInitial, Detail: "no initial state defined"}
	}

	payloads := make(map[EventID]reflect.Type)
	seen := make(map[tableKey]bool)
	for _, r := range d.registrations {
		if err := r.validate(); err != nil {
			return err
		}
		if r.event == TimeoutEvent {
			return &ValidationError{Kind: KindUndeclaredEvent, Event: r.event, Detail: "event ID is reserved for the timeout handler"}
		}
		if len(r.from) == 0 {
			return &ValidationError{Kind: KindUndeclaredEvent, Event: r.event, Detail: "event handler declares no source states"}
		}

		if prev, ok := payloads[r.event]; ok && prev != r.payloadType {
			return &ValidationError{
				Kind:   KindPayloadMismatch,
				Event:  r.event,
				Detail: fmt.Sprintf("declared as %v and %v", prev, r.payloadType),
			}
		}
		payloads[r.event] = r.payloadType

		for _, from := range r.from {
			k := tableKey{state: from, event: r.event}
			if seen[k] {
				return &ValidationError{Kind: KindDuplicateHandler, State: from, Event: r.event}
			}
			seen[k] = true
		}
	}

	if d.timeoutDups > 0 {
		return &ValidationError{Kind: KindDuplicateTimeoutHandler, Event: TimeoutEvent, Detail: "at most one timeout handler is allowed"}
	}
	if d.timeout != nil {
		if err := d.timeout.validate(); err != nil {
			return err
		}
	}

	return d.Graph().Validate()
}

func (r *registration[C]) validate() error {
	if r.event == "" {
		return &ValidationError{Kind: KindUndeclaredEvent, Detail: "empty event ID"}
	}
	if r.handler == nil {
		return &ValidationError{Kind: KindUndeclaredEvent, Event: r.event, Detail: "nil handler"}
	}
	if len(r.targets) == 0 {
		return &ValidationError{Kind: KindNoTargets, Event: r.event}
	}
	if r.timeoutErr != nil {
		return &ValidationError{Kind: KindInvalidDuration, Event: r.event, Detail: r.timeoutErr.Error()}
	}
	if r.timeout < 0 {
		return &ValidationError{Kind: KindInvalidDuration, Event: r.event, Detail: "negative timeout"}
	}
	return nil
}

// Build validates the definition and creates a Machine from it. Nothing is
// returned if validation fails.
func (d *Definition[C]) Build(opts ...MachineOption) (*Machine[C], error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	o := defaultMachineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.channelSize < 1 {
		return nil, fmt.Errorf("invalid definition: %w", &ValidationError{
			Kind:   KindInvalidChannelSize,
			Detail: fmt.Sprintf("channel size %d, want at least 1", o.channelSize),
		})
	}

	m := &Machine[C]{
		name:         o.name,
		initial:      d.initial,
		table:        make(map[tableKey]*registration[C]),
		timeout:      d.timeout,
		payloadTypes: make(map[EventID]reflect.Type),
		graph:        d.Graph(),
		opts:         o,
	}
	for _, r := range d.registrations {
		for _, from := range r.from {
			m.table[tableKey{state: from, event: r.event}] = r
		}
		if r.payloadType != nil {
			m.payloadTypes[r.event] = r.payloadType
		}
	}

	return m, nil
}
