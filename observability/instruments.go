package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/kbukum/orchestra"

// Instruments bundles the metric instruments recorded by the orchestrator's
// background workers.
type Instruments struct {
	messagesEnqueued     metric.Int64Counter
	messagesDelivered    metric.Int64Counter
	messagesDeadLettered metric.Int64Counter
	healthProbes         metric.Int64Counter
	probeDuration        metric.Float64Histogram
}

// NewInstruments creates the orchestrator's instruments on the global meter.
// With no meter provider configured, every instrument is a no-op.
func NewInstruments() (*Instruments, error) {
	meter := Meter(instrumentationName)

	messagesEnqueued, err := meter.Int64Counter("orchestra.messages.enqueued",
		metric.WithDescription("Messages accepted into the dispatch queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating enqueued counter: %w", err)
	}

	messagesDelivered, err := meter.Int64Counter("orchestra.messages.delivered",
		metric.WithDescription("Messages handed to the deliverer successfully"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}

	messagesDeadLettered, err := meter.Int64Counter("orchestra.messages.dead_lettered",
		metric.WithDescription("Messages set aside after delivery failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dead-lettered counter: %w", err)
	}

	healthProbes, err := meter.Int64Counter("orchestra.health.probes",
		metric.WithDescription("Health probes by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating probe counter: %w", err)
	}

	probeDuration, err := meter.Float64Histogram("orchestra.health.probe_duration",
		metric.WithDescription("Health probe duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating probe duration histogram: %w", err)
	}

	return &Instruments{
		messagesEnqueued:     messagesEnqueued,
		messagesDelivered:    messagesDelivered,
		messagesDeadLettered: messagesDeadLettered,
		healthProbes:         healthProbes,
		probeDuration:        probeDuration,
	}, nil
}

// RecordEnqueued counts one accepted message for a destination service.
func (i *Instruments) RecordEnqueued(ctx context.Context, service string) {
	if i == nil {
		return
	}
	i.messagesEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordDelivered counts one successful delivery.
func (i *Instruments) RecordDelivered(ctx context.Context, service string) {
	if i == nil {
		return
	}
	i.messagesDelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordDeadLettered counts one dead-lettered message.
func (i *Instruments) RecordDeadLettered(ctx context.Context, service string) {
	if i == nil {
		return
	}
	i.messagesDeadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordProbe counts one health probe with its outcome and duration.
func (i *Instruments) RecordProbe(ctx context.Context, service string, healthy bool, d time.Duration) {
	if i == nil {
		return
	}
	outcome := "healthy"
	if !healthy {
		outcome = "unhealthy"
	}
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	)
	i.healthProbes.Add(ctx, 1, attrs)
	i.probeDuration.Record(ctx, d.Seconds(), attrs)
}
