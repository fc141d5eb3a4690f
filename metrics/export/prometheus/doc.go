// Package prometheus exposes engine counters and the authentication latency
// histogram as a prometheus.Collector.
//
// [NewExporter] builds a collector over [sessionauth.Engine.MetricsSnapshot].
// Counters are named sessionauth_*_total and the histogram is
// sessionauth_authenticate_latency_seconds. The exporter registers itself
// with a private registry served by [Exporter.Handler]; it never touches the
// global default registry, so callers that want it there register it
// themselves.
package prometheus
