package arena

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/memarena/pkg/arena"

type telemetry struct {
	tracer   trace.Tracer
	mapped   metric.Int64UpDownCounter
	failures metric.Int64Counter
}

func newTelemetry(tracer trace.Tracer, meter metric.Meter) (*telemetry, error) {
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(instrumentationName)
	}
	if meter == nil {
		meter = noopmetric.NewMeterProvider().Meter(instrumentationName)
	}
	mapped, err := meter.Int64UpDownCounter("memarena.mapped.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes of backing store currently mapped by views and fixed maps."))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("memarena.failures",
		metric.WithDescription("Failed arena operations."))
	if err != nil {
		return nil, err
	}
	return &telemetry{tracer: tracer, mapped: mapped, failures: failures}, nil
}

func (t *telemetry) start(op string, attrs ...attribute.KeyValue) trace.Span {
	_, span := t.tracer.Start(context.Background(), "memarena."+op, trace.WithAttributes(attrs...))
	return span
}

func (t *telemetry) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.failures.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.Bool("contract", IsContractViolation(err)),
		))
	}
	span.End()
}

func (t *telemetry) addMapped(delta int64) {
	t.mapped.Add(context.Background(), delta)
}

func attrSize(size uintptr) attribute.KeyValue {
	return attribute.Int64("memarena.size", int64(size))
}

func attrOffset(offset int64) attribute.KeyValue {
	return attribute.Int64("memarena.offset", offset)
}

func attrAddr(addr uintptr) attribute.KeyValue {
	return attribute.String("memarena.addr", hexAddr(addr))
}
