// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - instruction throughput, rejects and routed counts
//   - acknowledgement counts by status
//   - throttle blocks and backoff drops
//   - broker error and retry counts
//   - session state and pending command buffer depth
package metrics
