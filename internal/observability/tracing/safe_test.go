package tracing

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSignature(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.method", "POST"),
		attribute.String("http.request.header.x-razorpay-signature", "abc"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.method" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	err := SafeError(errors.New(strings.Repeat("x", 300)))
	if len(err.Error()) != 256 {
		t.Fatalf("expected 256 chars, got %d", len(err.Error()))
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}
