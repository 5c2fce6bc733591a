package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName    = "github.com/metahub/integrationhub/internal/telemetry"
	instrumentationVersion = "1.0.0"
)

// DeliveryMetrics holds the counters the Delivery Worker and Alert
// Evaluator emit against the OpenTelemetry meter provider registered by
// Provider. Grounded on the teacher's OTelMiddleware HTTP metric set
// (internal/monitoring/otel_middleware.go), generalized from per-request
// HTTP counters to per-attempt delivery counters since this repo's outbound
// traffic is the Destination Client, not inbound gin requests.
type DeliveryMetrics struct {
	attemptsTotal  metric.Int64Counter
	deliveredTotal metric.Int64Counter
	failedTotal    metric.Int64Counter
	dlqTotal       metric.Int64Counter
	alertsFired    metric.Int64Counter
}

// NewDeliveryMetrics creates the delivery/alert counters against the
// process-global meter provider (set by Provider.NewProvider, or the
// no-op provider if telemetry is disabled).
func NewDeliveryMetrics() (*DeliveryMetrics, error) {
	meter := otel.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))

	attemptsTotal, err := meter.Int64Counter(
		"delivery_attempts_total",
		metric.WithDescription("Total number of DeliveryAttempt rows recorded"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("delivery_attempts_total counter: %w", err)
	}

	deliveredTotal, err := meter.Int64Counter(
		"delivery_events_delivered_total",
		metric.WithDescription("Total number of DeliveryEvents reaching status=delivered"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("delivery_events_delivered_total counter: %w", err)
	}

	failedTotal, err := meter.Int64Counter(
		"delivery_events_failed_total",
		metric.WithDescription("Total number of DeliveryEvents transitioning to status=failed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("delivery_events_failed_total counter: %w", err)
	}

	dlqTotal, err := meter.Int64Counter(
		"delivery_events_dlq_total",
		metric.WithDescription("Total number of DeliveryEvents moved to the dead-letter queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("delivery_events_dlq_total counter: %w", err)
	}

	alertsFired, err := meter.Int64Counter(
		"alert_rules_fired_total",
		metric.WithDescription("Total number of AlertRule evaluations that produced a new AlertHistory row"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("alert_rules_fired_total counter: %w", err)
	}

	return &DeliveryMetrics{
		attemptsTotal:  attemptsTotal,
		deliveredTotal: deliveredTotal,
		failedTotal:    failedTotal,
		dlqTotal:       dlqTotal,
		alertsFired:    alertsFired,
	}, nil
}

// RecordAttempt increments the per-attempt counter, tagged by tenant and
// outcome. Call once per DeliveryAttempt recorded.
func (m *DeliveryMetrics) RecordAttempt(ctx context.Context, tenantID string, success bool) {
	if m == nil {
		return
	}
	m.attemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Bool("success", success),
	))
}

// RecordTerminal increments the counter matching the terminal status a
// DeliveryEvent just transitioned into ("delivered", "failed" or "dlq").
// Any other value is ignored.
func (m *DeliveryMetrics) RecordTerminal(ctx context.Context, tenantID, terminalStatus string) {
	if m == nil {
		return
	}
	switch terminalStatus {
	case "delivered":
		m.deliveredTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
	case "failed":
		m.failedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
	case "dlq":
		m.dlqTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
	}
}

// RecordAlertFired increments the alert-fired counter, tagged by rule
// condition type.
func (m *DeliveryMetrics) RecordAlertFired(ctx context.Context, tenantID, conditionType string) {
	if m == nil {
		return
	}
	m.alertsFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("condition_type", conditionType),
	))
}
