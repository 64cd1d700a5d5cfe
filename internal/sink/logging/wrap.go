// Package logging decorates a sink with spans and debug logs.
package logging

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/hsearch/internal/requestid"
	"pkt.systems/hsearch/internal/sink"
)

type wrapped struct {
	inner  sink.Sink
	logger pslog.Logger
	tracer trace.Tracer
}

// Wrap decorates inner. A nil logger disables logging but keeps spans.
func Wrap(inner sink.Sink, logger pslog.Logger) sink.Sink {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &wrapped{
		inner:  inner,
		logger: logger,
		tracer: otel.Tracer("pkt.systems/hsearch/sink"),
	}
}

func (w *wrapped) start(ctx context.Context, op, key string) (context.Context, trace.Span, pslog.Logger, func(error)) {
	begin := time.Now()
	ctx, span := w.tracer.Start(ctx, "hsearch.sink."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("hsearch.sink.operation", op),
		attribute.String("hsearch.sink.key", key),
		attribute.String("hsearch.sink.location", w.inner.Location()),
	)
	logger := w.logger.With("key", key)
	if rid := requestid.From(ctx); rid != "" {
		logger = logger.With("rid", rid)
		span.SetAttributes(attribute.String("hsearch.request_id", rid))
	}
	return ctx, span, logger, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sink_error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int64("hsearch.sink.duration_ms", time.Since(begin).Milliseconds()))
	}
}

func (w *wrapped) Put(ctx context.Context, key string, body io.Reader, opts sink.PutOptions) (*sink.ObjectInfo, error) {
	ctx, span, logger, finish := w.start(ctx, "put", key)
	defer span.End()
	begin := time.Now()
	logger.Trace("sink.put.begin", "content_type", opts.ContentType, "size", opts.Size)
	info, err := w.inner.Put(ctx, key, body, opts)
	finish(err)
	if err != nil {
		logger.Debug("sink.put.error", "error", err, "elapsed", time.Since(begin))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("hsearch.sink.bytes", info.Size))
	logger.Debug("sink.put.success", "bytes", info.Size, "etag", info.ETag, "elapsed", time.Since(begin))
	return info, nil
}

func (w *wrapped) Get(ctx context.Context, key string) (io.ReadCloser, *sink.ObjectInfo, error) {
	ctx, span, logger, finish := w.start(ctx, "get", key)
	defer span.End()
	rc, info, err := w.inner.Get(ctx, key)
	finish(err)
	if err != nil {
		logger.Debug("sink.get.error", "error", err)
		return nil, nil, err
	}
	logger.Trace("sink.get.success", "bytes", info.Size)
	return rc, info, nil
}

func (w *wrapped) Location() string { return w.inner.Location() }

func (w *wrapped) Close() error { return w.inner.Close() }
