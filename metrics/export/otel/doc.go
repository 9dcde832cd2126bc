// Package otel publishes authcore metrics through an OpenTelemetry Meter.
//
// Counters become Int64ObservableCounters. Each latency histogram is
// flattened into one Int64ObservableGauge per cumulative bucket plus a
// _count gauge. A single callback reads [authcore.Engine.MetricsSnapshot]
// and [authcore.Engine.AuditStats] per collection cycle. The caller owns
// the MeterProvider.
package otel
