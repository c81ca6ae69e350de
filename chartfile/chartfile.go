// Package chartfile loads transition tables from YAML documents and binds
// them to handler implementations by name.
//
// A document looks like:
//
//	name: worker
//	initial: Idle
//	channel_size: 32
//	transitions:
//	  - event: Job
//	    from: [Idle]
//	    to: [Working, Failed]
//	    handler: handle_job
//	    timeout: 30s
//	on_timeout:
//	  handler: handle_timeout
//	  to: [Failed]
package chartfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/librescoot/asyncfsm"
)

var (
	// ErrDecode is returned when the document is not valid YAML for a Document
	ErrDecode = errors.New("chartfile: decode failed")
	// ErrInvalid is returned when a decoded document fails validation
	ErrInvalid = errors.New("chartfile: invalid document")
	// ErrUnknownHandler is returned by Bind when a handler name has no implementation
	ErrUnknownHandler = errors.New("chartfile: unknown handler")
)

// Document is the YAML form of a transition table
type Document struct {
	Name        string           `yaml:"name" validate:"required"`
	Initial     string           `yaml:"initial" validate:"required"`
	ChannelSize int              `yaml:"channel_size,omitempty" validate:"omitempty,min=1"`
	Transitions []TransitionSpec `yaml:"transitions" validate:"required,min=1,dive"`
	OnTimeout   *TimeoutSpec     `yaml:"on_timeout,omitempty" validate:"omitempty"`
}

// TransitionSpec is one handler registration
type TransitionSpec struct {
	Event   string   `yaml:"event" validate:"required"`
	From    []string `yaml:"from" validate:"required,min=1,dive,required"`
	To      []string `yaml:"to" validate:"required,min=1,dive,required"`
	Handler string   `yaml:"handler" validate:"required"`
	Timeout string   `yaml:"timeout,omitempty"`
}

// TimeoutSpec is the timeout handler registration
type TimeoutSpec struct {
	Handler string   `yaml:"handler" validate:"required"`
	To      []string `yaml:"to" validate:"required,min=1,dive,required"`
	Timeout string   `yaml:"timeout,omitempty"`
}

var validate = validator.New()

// Parse decodes and validates a document. Unknown fields are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, errors.Join(ErrInvalid, err)
	}
	for _, t := range doc.Transitions {
		if err := checkDuration(t.Timeout); err != nil {
			return nil, errors.Join(ErrInvalid, fmt.Errorf("transition %q: %w", t.Event, err))
		}
	}
	if doc.OnTimeout != nil {
		if err := checkDuration(doc.OnTimeout.Timeout); err != nil {
			return nil, errors.Join(ErrInvalid, fmt.Errorf("on_timeout: %w", err))
		}
	}
	return &doc, nil
}

// Load reads and parses the document at path
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func checkDuration(literal string) error {
	if literal == "" {
		return nil
	}
	_, err := asyncfsm.ParseDuration(literal)
	return err
}

// Options returns the machine options implied by the document
func (d *Document) Options() []asyncfsm.MachineOption {
	opts := []asyncfsm.MachineOption{asyncfsm.WithName(d.Name)}
	if d.ChannelSize > 0 {
		opts = append(opts, asyncfsm.WithChannelSize(d.ChannelSize))
	}
	return opts
}

// Bind builds a Definition from the document, resolving every handler name
// in handlers.
func Bind[C any](doc *Document, handlers map[string]asyncfsm.Handler[C]) (*asyncfsm.Definition[C], error) {
	def := asyncfsm.NewDefinition[C]().Initial(asyncfsm.StateID(doc.Initial))

	for _, t := range doc.Transitions {
		h, ok := handlers[t.Handler]
		if !ok {
			return nil, fmt.Errorf("%w %q for event %q", ErrUnknownHandler, t.Handler, t.Event)
		}
		opts := []asyncfsm.HandlerOption{
			asyncfsm.From(stateIDs(t.From)...),
			asyncfsm.Targets(stateIDs(t.To)...),
		}
		if t.Timeout != "" {
			opts = append(opts, asyncfsm.WithTimeoutLiteral(t.Timeout))
		}
		def.On(asyncfsm.EventID(t.Event), h, opts...)
	}

	if doc.OnTimeout != nil {
		h, ok := handlers[doc.OnTimeout.Handler]
		if !ok {
			return nil, fmt.Errorf("%w %q for on_timeout", ErrUnknownHandler, doc.OnTimeout.Handler)
		}
		opts := []asyncfsm.HandlerOption{asyncfsm.Targets(stateIDs(doc.OnTimeout.To)...)}
		if doc.OnTimeout.Timeout != "" {
			opts = append(opts, asyncfsm.WithTimeoutLiteral(doc.OnTimeout.Timeout))
		}
		def.OnTimeout(h, opts...)
	}

	return def, nil
}

// Skeleton binds every handler name to a handler that stays in the current
// state. It is meant for static checks of a document.
func Skeleton(doc *Document) *asyncfsm.Definition[struct{}] {
	stay := func(c *asyncfsm.Context[struct{}]) asyncfsm.Transition {
		return asyncfsm.To(c.State)
	}
	handlers := make(map[string]asyncfsm.Handler[struct{}])
	for _, t := range doc.Transitions {
		handlers[t.Handler] = stay
	}
	if doc.OnTimeout != nil {
		handlers[doc.OnTimeout.Handler] = stay
	}
	// every name is present, Bind cannot fail
	def, _ := Bind(doc, handlers)
	return def
}

func stateIDs(names []string) []asyncfsm.StateID {
	ids := make([]asyncfsm.StateID, len(names))
	for i, n := range names {
		ids[i] = asyncfsm.StateID(n)
	}
	return ids
}
