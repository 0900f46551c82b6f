package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the broker.
type Metrics struct {
	// Authorization flow metrics
	AuthorizationStarted  metric.Int64Counter
	AuthorizationApproved metric.Int64Counter
	CallbackProcessed     metric.Int64Counter

	// HTTP surface metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Vault metrics
	VaultOperationsTotal metric.Int64Counter

	// Canvas API client metrics
	CanvasRequestsTotal   metric.Int64Counter
	CanvasRequestDuration metric.Float64Histogram
	CanvasRetriesTotal    metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	authMeter := inst.Meter("auth")
	vaultMeter := inst.Meter("vault")
	canvasMeter := inst.Meter("canvas")

	var err error

	m.AuthorizationStarted, err = authMeter.Int64Counter(
		"canvas.authorization.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	m.AuthorizationApproved, err = authMeter.Int64Counter(
		"canvas.authorization.approved",
		metric.WithDescription("Number of approval form submissions accepted"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.approved counter: %w", err)
	}

	m.CallbackProcessed, err = authMeter.Int64Counter(
		"canvas.callback.processed",
		metric.WithDescription("Number of upstream provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.HTTPRequestsTotal, err = authMeter.Int64Counter(
		"canvas.http.requests.total",
		metric.WithDescription("Total number of HTTP requests on the authorization surface"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = authMeter.Float64Histogram(
		"canvas.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.VaultOperationsTotal, err = vaultMeter.Int64Counter(
		"canvas.vault.operations.total",
		metric.WithDescription("Vault operations by type and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault.operations.total counter: %w", err)
	}

	m.CanvasRequestsTotal, err = canvasMeter.Int64Counter(
		"canvas.api.requests.total",
		metric.WithDescription("Total number of Canvas API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api.requests.total counter: %w", err)
	}

	m.CanvasRequestDuration, err = canvasMeter.Float64Histogram(
		"canvas.api.request.duration",
		metric.WithDescription("Canvas API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api.request.duration histogram: %w", err)
	}

	m.CanvasRetriesTotal, err = canvasMeter.Int64Counter(
		"canvas.api.retries.total",
		metric.WithDescription("Number of Canvas API request retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api.retries.total counter: %w", err)
	}

	return m, nil
}
