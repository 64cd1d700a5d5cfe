package client

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"
)

const instrumentationName = "pkt.systems/hsearch/client"

type dispatchMetrics struct {
	attempts     metric.Int64Counter
	hostFailures metric.Int64Counter
	exhausted    metric.Int64Counter
	duration     metric.Float64Histogram
}

func newDispatchMetrics(mp metric.MeterProvider, logger pslog.Base) *dispatchMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &dispatchMetrics{}
	var err error

	m.attempts, err = meter.Int64Counter(
		"hsearch.client.attempts",
		metric.WithDescription("Host attempts made by the dispatcher"),
	)
	logMetricInitError(logger, "hsearch.client.attempts", err)

	m.hostFailures, err = meter.Int64Counter(
		"hsearch.client.host_failures",
		metric.WithDescription("Attempts that marked a host down"),
	)
	logMetricInitError(logger, "hsearch.client.host_failures", err)

	m.exhausted, err = meter.Int64Counter(
		"hsearch.client.exhausted",
		metric.WithDescription("Dispatches that failed on every host"),
	)
	logMetricInitError(logger, "hsearch.client.exhausted", err)

	m.duration, err = meter.Float64Histogram(
		"hsearch.client.attempt.duration",
		metric.WithDescription("Duration of a single host attempt"),
		metric.WithUnit("s"),
	)
	logMetricInitError(logger, "hsearch.client.attempt.duration", err)
	return m
}

func (m *dispatchMetrics) observeAttempt(ctx context.Context, op Operation, host, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("hsearch.operation", string(op)),
		attribute.String("hsearch.host", host),
		attribute.String("hsearch.outcome", outcome),
	)
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if outcome == outcomeHostFailure && m.hostFailures != nil {
		m.hostFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("hsearch.host", host)))
	}
}

func (m *dispatchMetrics) observeExhausted(ctx context.Context, op Operation) {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("hsearch.operation", string(op))))
}

func logMetricInitError(logger pslog.Base, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

func (c *Client) tracerProviderOrGlobal() trace.TracerProvider {
	if c.tracerProvider != nil {
		return c.tracerProvider
	}
	return otel.GetTracerProvider()
}

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

func (c *Client) startDispatchSpan(ctx context.Context, d *Descriptor, method string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "hsearch.dispatch."+string(d.Op), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("hsearch.operation", string(d.Op)),
		attribute.String("hsearch.role", d.Role.String()),
		attribute.String("http.request.method", method),
		attribute.String("url.path", d.Path),
		attribute.Bool("hsearch.search", d.Search),
	)
	return ctx, span
}

func endDispatchSpan(span trace.Span, attempts int, err error) {
	span.SetAttributes(attribute.Int("hsearch.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch_failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func spanAttempt(span trace.Span, host string, n int, outcome string, elapsed time.Duration) {
	span.AddEvent("hsearch.attempt", trace.WithAttributes(
		attribute.String("hsearch.host", host),
		attribute.Int("hsearch.attempt", n),
		attribute.String("hsearch.outcome", outcome),
		attribute.Int64("hsearch.duration_ms", elapsed.Milliseconds()),
	))
}
