// Package fn holds the generic helpers selah's pipelines are built from: a
// Result carrying a value or its error, Stages composed with Then and
// instrumented with Named, retries, and slice utilities.
package fn

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/selah-app/selah/pkg/fn"

// Result is a value or the error that prevented it.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps a failure. err must be non-nil.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// FromPair converts a (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk reports whether r holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Stage is one step of a pipeline.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then runs second on the output of first. A failure of first is returned
// without running second.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		b, err := first(ctx, a).Unwrap()
		if err != nil {
			return Err[C](err)
		}
		return second(ctx, b)
	}
}

// Observer is called after every run of a Named stage.
type Observer func(ctx context.Context, stage string, took time.Duration, err error)

// Named runs stage inside a span called name, marks the span failed on error
// and reports each run to observers.
func Named[In, Out any](name string, stage Stage[In, Out], observers ...Observer) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		start := time.Now()

		res := stage(ctx, in)
		took := time.Since(start)
		if _, err := res.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			for _, o := range observers {
				o(ctx, name, took, err)
			}
			return res
		}
		span.SetAttributes(attribute.Int64("stage.duration_ms", took.Milliseconds()))
		for _, o := range observers {
			o(ctx, name, took, nil)
		}
		return res
	}
}
