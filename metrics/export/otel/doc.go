// Package otel publishes engine metrics through OpenTelemetry observable
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per latency bucket. A single callback reads
// [sessionauth.Engine.MetricsSnapshot] on each collection. Callers own the
// MeterProvider and pass in a Meter.
package otel
