package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "payment.captured"),
		attribute.String("event_id", "evt_123"),
		attribute.String("reason", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "event_id" {
			t.Fatalf("expected event_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "payment.captured", "ok")
	m.RecordAutomationJob(context.Background(), "dm_delivery", "enqueued")
	m.RecordRateLimitDenied(context.Background(), "/webhooks", "limit")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "creatorpay"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "refund.created", "ok")
	m.RecordEntitlementChange(context.Background(), "free", "downgrade")
}
