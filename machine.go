package asyncfsm

import (
	"context"
	"log/slog"
	"reflect"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Machine is a validated transition table. Each call to Spawn starts an
// independent instance with its own data and state.
type Machine[C any] struct {
	name         string
	initial      StateID
	table        map[tableKey]*registration[C]
	timeout      *registration[C]
	payloadTypes map[EventID]reflect.Type
	graph        *Graph
	opts         machineOptions
}

type tableKey struct {
	state StateID
	event EventID
}

type machineOptions struct {
	name                string
	channelSize         int
	logger              *slog.Logger
	metrics             *Metrics
	tracer              trace.Tracer
	stateChangeCallback func(from, to StateID)
}

func defaultMachineOptions() machineOptions {
	return machineOptions{
		name:        "fsm",
		channelSize: DefaultChannelSize,
		logger:      Logger,
		tracer:      defaultTracer,
	}
}

// MachineOption is a functional option for configuring a Machine
type MachineOption func(*machineOptions)

// WithChannelSize sets the event queue capacity
func WithChannelSize(size int) MachineOption {
	return func(o *machineOptions) {
		o.channelSize = size
	}
}

// WithConfig applies the process-wide defaults from cfg
func WithConfig(cfg Config) MachineOption {
	return func(o *machineOptions) {
		o.channelSize = cfg.ChannelSize
	}
}

// WithName sets the machine name used in logs, metrics and spans
func WithName(name string) MachineOption {
	return func(o *machineOptions) {
		o.name = name
	}
}

// WithLogger sets the logger for the machine
func WithLogger(logger *slog.Logger) MachineOption {
	return func(o *machineOptions) {
		o.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *Metrics) MachineOption {
	return func(o *machineOptions) {
		o.metrics = m
	}
}

// WithTracer enables a span around every handler invocation
func WithTracer(tracer trace.Tracer) MachineOption {
	return func(o *machineOptions) {
		o.tracer = tracer
	}
}

// WithStateChangeCallback sets a callback invoked on the machine goroutine
// after each change of state
func WithStateChangeCallback(fn func(from, to StateID)) MachineOption {
	return func(o *machineOptions) {
		o.stateChangeCallback = fn
	}
}

// Name returns the machine name
func (m *Machine[C]) Name() string {
	return m.name
}

// Initial returns the initial state
func (m *Machine[C]) Initial() StateID {
	return m.initial
}

// Graph returns the validated transition graph
func (m *Machine[C]) Graph() *Graph {
	return m.graph
}

// Spawn starts a new instance owning data. The instance runs until a shutdown
// is requested, every handle is closed, or ctx ends. Cancelling ctx resolves
// the Task with a TaskCancelled error instead of the data.
func (m *Machine[C]) Spawn(ctx context.Context, data C) (*Handle, *Task[C]) {
	inst := m.newInstance(data)
	task := newTask[C]()

	m.opts.metrics.instanceStarted(m.name)
	inst.logger.Debug("instance started", "state", m.initial)

	go inst.run(ctx, task)

	return &Handle{c: inst.core}, task
}

func (m *Machine[C]) newInstance(data C) *instance[C] {
	c := newCore(m.initial, m.opts.channelSize, m.payloadTypes)
	return &instance[C]{
		m:      m,
		core:   c,
		data:   data,
		state:  m.initial,
		timer:  newStateTimer(),
		logger: m.opts.logger.With("machine", m.name, "instance", c.id),
	}
}

// instance is one running event loop. Everything except core is owned by
// the loop goroutine.
type instance[C any] struct {
	m      *Machine[C]
	core   *core
	data   C
	state  StateID
	timer  *stateTimer
	logger *slog.Logger
	hctx   Context[C] // reused for every handler call
}

func (i *instance[C]) run(ctx context.Context, task *Task[C]) {
	data, err := i.guardedLoop(ctx)

	i.timer.stop()
	i.core.terminate()
	i.m.opts.metrics.instanceStopped(i.m.name)
	i.logger.Debug("instance stopped", "state", i.state, "error", err)
	task.resolve(data, err)
}

// guardedLoop runs the loop and turns a handler panic into a TaskError
func (i *instance[C]) guardedLoop(ctx context.Context) (data C, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			i.logger.Error("handler panicked", "panic", r, "state", i.state)
			i.m.opts.metrics.panicked(i.m.name)
			var zero C
			data, err = zero, &TaskError{Kind: TaskPanicked, Value: r, Stack: stack}
		}
	}()
	return i.loop(ctx)
}

// loop services the queue, the state timer and the shutdown signal. The
// non-blocking pass first gives cancellation and shutdown priority over
// events that are already waiting.
func (i *instance[C]) loop(ctx context.Context) (C, error) {
	c := i.core
	for {
		select {
		case <-ctx.Done():
			return i.cancelled(ctx)
		case <-c.shutdown.Done():
			return i.shutdown(ctx, c.shutdown.Mode())
		case <-c.sendersGone:
			return i.shutdown(ctx, ShutdownImmediate)
		default:
		}

		select {
		case <-ctx.Done():
			return i.cancelled(ctx)
		case <-c.shutdown.Done():
			return i.shutdown(ctx, c.shutdown.Mode())
		case <-c.sendersGone:
			return i.shutdown(ctx, ShutdownImmediate)
		case <-i.timer.C():
			i.fireTimeout(ctx)
		case event := <-c.events:
			if !i.accept(event) {
				return i.shutdown(ctx, ShutdownImmediate)
			}
			i.dispatch(ctx, event)
		}
	}
}

func (i *instance[C]) cancelled(ctx context.Context) (C, error) {
	var zero C
	return zero, &TaskError{Kind: TaskCancelled, Cause: context.Cause(ctx)}
}

// accept reports whether an event taken by the blocking select may still be
// dispatched. An immediate shutdown requested while the loop was parked
// wins over the event.
func (i *instance[C]) accept(event Event) bool {
	if i.core.shutdown.Mode() != ShutdownImmediate {
		return true
	}
	i.logger.Debug("event dropped by immediate shutdown", "event", event.ID)
	return false
}

func (i *instance[C]) shutdown(ctx context.Context, mode ShutdownMode) (C, error) {
	// Blocked senders are released with ErrClosed; after this the queue
	// only shrinks.
	i.core.stopAccepting()

	if mode != ShutdownGraceful {
		i.logger.Debug("immediate shutdown", "pending", len(i.core.events))
		return i.data, nil
	}

	i.logger.Debug("graceful shutdown", "pending", len(i.core.events))
	for {
		select {
		case event := <-i.core.events:
			i.dispatch(ctx, event)
		default:
			return i.data, nil
		}
	}
}

// dispatch handles a single event
func (i *instance[C]) dispatch(ctx context.Context, event Event) {
	i.m.opts.metrics.eventReceived(i.m.name, event.ID)

	reg, ok := i.m.table[tableKey{state: i.state, event: event.ID}]
	if !ok {
		i.logger.Debug("no transition found", "event", event.ID, "state", i.state)
		i.m.opts.metrics.eventDropped(i.m.name, event.ID)
		return
	}

	i.invoke(ctx, reg, event)
}

func (i *instance[C]) fireTimeout(ctx context.Context) {
	i.m.opts.metrics.timeout(i.m.name)

	if i.m.timeout == nil {
		i.logger.Debug("timer fired without timeout handler", "state", i.state)
		i.timer.park()
		return
	}

	i.logger.Debug("timer fired", "state", i.state)
	i.invoke(ctx, i.m.timeout, Event{ID: TimeoutEvent})
}

// invoke runs reg's handler and applies its transition
func (i *instance[C]) invoke(ctx context.Context, reg *registration[C], event Event) {
	from := i.state
	t := i.call(ctx, reg, event)

	if !reg.allowsTarget(t.To) {
		i.logger.Error("handler returned undeclared target, state unchanged",
			"event", event.ID, "state", from, "target", t.To)
		i.m.opts.metrics.handlerError(i.m.name, reasonUndeclaredTarget)
		return
	}

	if t.Err != nil {
		i.logger.Warn("handler reported error", "event", event.ID, "from", from, "to", t.To, "error", t.Err)
		i.core.setLastError(t.Err)
		i.m.opts.metrics.handlerError(i.m.name, reasonReported)
	}

	i.state = t.To
	i.core.state.publish(t.To)

	if reg.hasTimeout && t.Err == nil {
		i.timer.arm(reg.timeout)
	} else {
		i.timer.park()
	}

	i.logger.Debug("transition", "event", event.ID, "from", from, "to", t.To, "timer_armed", i.timer.Armed())
	i.m.opts.metrics.transition(i.m.name, from, t.To)

	if i.m.opts.stateChangeCallback != nil && from != t.To {
		i.m.opts.stateChangeCallback(from, t.To)
	}
}

// call invokes the handler inside a span. A panic propagates to run after
// the span is closed.
func (i *instance[C]) call(ctx context.Context, reg *registration[C], event Event) (t Transition) {
	spanCtx, span := startDispatchSpan(ctx, i.m.opts.tracer, i.m.name, i.core.id, event.ID, i.state)
	start := time.Now()

	panicked := true
	defer func() {
		i.m.opts.metrics.observeHandler(i.m.name, event.ID, time.Since(start))
		endDispatchSpan(span, t, panicked)
	}()

	i.hctx = Context[C]{
		Event:  event,
		State:  i.state,
		Data:   &i.data,
		Logger: i.logger,
		ctx:    spanCtx,
	}
	t = reg.handler(&i.hctx)
	panicked = false
	return t
}
