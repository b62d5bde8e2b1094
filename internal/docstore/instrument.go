package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer receives the outcome of every store operation.
type Observer func(backend, op string, d time.Duration, err error)

// Instrumented wraps a Store with a span per operation and an Observer
// callback, used for the operation duration histogram.
type Instrumented struct {
	next    Store
	backend string
	observe Observer
	tracer  trace.Tracer
}

// Instrument wraps next. backend is a label such as "memory" or "s3".
func Instrument(next Store, backend string, observe Observer) *Instrumented {
	return &Instrumented{
		next:    next,
		backend: backend,
		observe: observe,
		tracer:  otel.Tracer("github.com/keithlinneman/linnemanlabs-portfolio/internal/docstore"),
	}
}

func (s *Instrumented) start(ctx context.Context, op, collection string) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "docstore."+op, trace.WithAttributes(
		attribute.String("docstore.backend", s.backend),
		attribute.String("docstore.collection", collection),
	))
	return ctx, span, time.Now()
}

func (s *Instrumented) end(span trace.Span, op string, start time.Time, err error) {
	// a missing document is an answer, not a failure
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "docstore operation failed")
	}
	span.End()
	if s.observe != nil {
		s.observe(s.backend, op, time.Since(start), err)
	}
}

func (s *Instrumented) Get(ctx context.Context, collection, id string) (doc Document, err error) {
	ctx, span, start := s.start(ctx, "get", collection)
	defer func() { s.end(span, "get", start, err) }()
	return s.next.Get(ctx, collection, id)
}

func (s *Instrumented) List(ctx context.Context, collection string) (docs []Document, err error) {
	ctx, span, start := s.start(ctx, "list", collection)
	defer func() {
		span.SetAttributes(attribute.Int("docstore.count", len(docs)))
		s.end(span, "list", start, err)
	}()
	return s.next.List(ctx, collection)
}

func (s *Instrumented) Put(ctx context.Context, collection, id string, data json.RawMessage) (err error) {
	ctx, span, start := s.start(ctx, "put", collection)
	defer func() { s.end(span, "put", start, err) }()
	return s.next.Put(ctx, collection, id, data)
}

func (s *Instrumented) Ping(ctx context.Context) (err error) {
	ctx, span, start := s.start(ctx, "ping", "")
	defer func() { s.end(span, "ping", start, err) }()
	return s.next.Ping(ctx)
}

var _ Store = (*Instrumented)(nil)
