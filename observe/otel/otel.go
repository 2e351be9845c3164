// Package otel bridges the observe.Sink to OpenTelemetry tracing.
//
// It converts observe.Event objects into OTel spans so that training
// sessions, step verdicts, and score updates are visible in any
// OpenTelemetry-compatible backend (Jaeger, Zipkin, Grafana, etc.).
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/meridianhq/satops-trainer/observe"
)

const instrumentationName = "github.com/meridianhq/satops-trainer"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an observe.Event into an OTel span.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	spanName := spanNameFor(event)
	ctx := context.Background()
	startTime := event.Timestamp

	_, span := s.tracer.Start(ctx, spanName, trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("satops.event.kind", string(event.Kind)),
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("satops.session.id", event.SessionID))
	}
	if event.ScenarioID != "" {
		attrs = append(attrs, attribute.String("satops.scenario.id", event.ScenarioID))
	}
	if event.OperatorID != "" {
		attrs = append(attrs, attribute.String("satops.operator.id", event.OperatorID))
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("satops.event.name", event.Name))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("satops.status", string(event.Status)))
	}
	if event.StepOrder != 0 {
		attrs = append(attrs, attribute.Int("satops.step.order", event.StepOrder))
	}
	if event.Path != "" {
		attrs = append(attrs, attribute.String("satops.step.path", event.Path))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("satops.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("satops.duration_ms", event.DurationMs))
	}

	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("satops.attr."+k, fmt.Sprintf("%v", v)))
	}

	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	} else if event.Status == observe.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindSession:
		return "satops.session"
	case observe.KindStep:
		if event.Name != "" {
			return "satops.step." + event.Name
		}
		return "satops.step"
	case observe.KindCommand:
		if event.Name != "" {
			return "satops.command." + event.Name
		}
		return "satops.command"
	case observe.KindScore:
		return "satops.score"
	case observe.KindAchievement:
		return "satops.achievement"
	default:
		if event.Name != "" {
			return "satops." + event.Name
		}
		return "satops.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
