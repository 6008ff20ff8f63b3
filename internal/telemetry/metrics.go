package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the monitoring loop instruments. All methods are safe on
// a nil receiver so callers need no telemetry guards.
type Metrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	issuesFound   metric.Int64Counter
	notifications metric.Int64Counter
}

// NewMetrics registers the monitoring instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := Meter("kestrel/monitoring")

	cycles, err := meter.Int64Counter("kestrel.cycles",
		metric.WithDescription("Completed monitoring cycles"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create cycles counter: %w", err)
	}
	cycleDuration, err := meter.Float64Histogram("kestrel.cycle.duration",
		metric.WithDescription("Monitoring cycle duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create cycle duration histogram: %w", err)
	}
	issuesFound, err := meter.Int64Counter("kestrel.issues.detected",
		metric.WithDescription("Issues filed by the classification engine"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create issues counter: %w", err)
	}
	notifications, err := meter.Int64Counter("kestrel.notifications",
		metric.WithDescription("Notification delivery attempts"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create notifications counter: %w", err)
	}

	return &Metrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
		issuesFound:   issuesFound,
		notifications: notifications,
	}, nil
}

// RecordCycle counts one finished cycle and its duration.
func (m *Metrics) RecordCycle(ctx context.Context, seconds float64, timedOut bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("timed_out", timedOut))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, seconds, attrs)
}

// RecordIssues counts issues filed by one capability pass.
func (m *Metrics) RecordIssues(ctx context.Context, capability string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.issuesFound.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("capability", capability)))
}

// RecordNotification counts one delivery attempt.
func (m *Metrics) RecordNotification(ctx context.Context, channel string, sent bool) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("sent", sent),
	))
}
