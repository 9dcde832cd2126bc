// Package prometheus renders authcore metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps an [authcore.Engine] and exposes an
// [http.Handler] for a /metrics route. Counters are named
// authcore_*_total, the validate and authorize latencies are histograms
// named authcore_*_latency_seconds, and the audit dispatcher adds
// authcore_audit_* series.
package prometheus
