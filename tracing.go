package asyncfsm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// tracerName is the instrumentation scope used for spans
const tracerName = "github.com/librescoot/asyncfsm"

var defaultTracer trace.Tracer = noop.NewTracerProvider().Tracer(tracerName)

const (
	attrMachine  = attribute.Key("fsm.machine")
	attrInstance = attribute.Key("fsm.instance")
	attrEvent    = attribute.Key("fsm.event")
	attrFrom     = attribute.Key("fsm.state.from")
	attrTo       = attribute.Key("fsm.state.to")
)

func startDispatchSpan(ctx context.Context, tracer trace.Tracer, machine, instance string, event EventID, from StateID) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fsm.dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attrMachine.String(machine),
			attrInstance.String(instance),
			attrEvent.String(string(event)),
			attrFrom.String(string(from)),
		),
	)
}

func endDispatchSpan(span trace.Span, t Transition, panicked bool) {
	if panicked {
		span.SetStatus(codes.Error, "handler panicked")
		span.End()
		return
	}
	span.SetAttributes(attrTo.String(string(t.To)))
	if t.Err != nil {
		span.RecordError(t.Err)
		span.SetStatus(codes.Error, t.Err.Error())
	}
	span.End()
}
