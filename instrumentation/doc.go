// Package instrumentation provides OpenTelemetry meters and tracers for the
// Canvas MCP broker. All instruments are no-op backed unless a real provider
// is configured, so components can record metrics unconditionally.
//
// Scoped meters and tracers are created per layer ("auth", "vault", "canvas",
// "storage") through the Instrumentation value that is passed into each
// component at construction time.
package instrumentation
