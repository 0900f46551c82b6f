package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY: Never record actual credential values (API tokens, authorization
// codes, state tokens) in traces or metrics. Only record metadata such as
// operation names, result classifications, and HTTP status codes.
const (
	// Authorization flow attributes
	AttrClientID = "oauth.client_id"
	AttrFlowMode = "oauth.flow_mode" // "direct" or "federated"
	AttrError    = "oauth.error"

	// Vault attributes
	AttrVaultOperation = "vault.operation"
	AttrVaultResult    = "vault.result"

	// Canvas API client attributes
	AttrCanvasMethod  = "canvas.method"
	AttrCanvasPath    = "canvas.path"
	AttrCanvasStatus  = "canvas.status_code"
	AttrCanvasAttempt = "canvas.attempt"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanError marks a span as failed with a description (nil-safe).
func SetSpanError(span trace.Span, description string) {
	if span != nil {
		span.SetStatus(codes.Error, description)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
