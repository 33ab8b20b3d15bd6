// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides wrappers around client callbacks.
package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/absmach/fluxmsg/client"
	"github.com/absmach/fluxmsg/core"
)

type options struct {
	tracer trace.Tracer
	system string
}

// Option configures the middleware.
type Option func(*options)

// WithTracer overrides the tracer used for spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithSystem overrides the messaging.system attribute value.
func WithSystem(system string) Option {
	return func(o *options) {
		o.system = system
	}
}

func buildOptions(opts []Option) options {
	o := options{
		tracer: otel.Tracer("github.com/absmach/fluxmsg"),
		system: "fluxmsg",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TracedListener wraps a message listener with an OpenTelemetry consumer
// span per dispatched message.
func TracedListener(listener client.MessageListener, opts ...Option) client.MessageListener {
	o := buildOptions(opts)

	return func(msg *core.Message) {
		_, span := o.tracer.Start(context.Background(), "fluxmsg.process",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", o.system),
				attribute.String("messaging.destination", msg.Destination.Name),
				attribute.String("messaging.operation", "process"),
				attribute.String("messaging.message_id", msg.MessageID),
			),
		)
		defer span.End()

		listener(msg)
	}
}

// TracedExceptionListener wraps an exception listener so every asynchronous
// error is recorded on a span.
func TracedExceptionListener(listener client.ExceptionListener, opts ...Option) client.ExceptionListener {
	o := buildOptions(opts)

	return func(err error) {
		_, span := o.tracer.Start(context.Background(), "fluxmsg.exception",
			trace.WithAttributes(
				attribute.String("messaging.system", o.system),
			),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		if listener != nil {
			listener(err)
		}
	}
}
