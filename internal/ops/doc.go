// Package ops provides the small operational HTTP listener a pipeline
// run can expose while it works: /healthz for liveness with a runtime
// snapshot, /readyz for readiness plus the current pipeline stage, and
// /metrics for Prometheus scrapes.
//
// The listener is observability only. It serves no data and accepts no
// commands; the detection engine itself has no network surface. The
// middleware chain mirrors the rest of the project: request ids feed
// the trace-correlated logger, panics become RFC 7807 responses, and an
// optional token-bucket rate limit guards the endpoints.
package ops
