// Package session manages the logical broker session on top of the raw
// WebSocket client.
//
// The Manager handshakes with the broker, seeds a block of broker order
// ids, and hands them out monotonically. Commands submitted while the
// connection is down are buffered in FIFO order and replayed on
// reconnect before any new traffic is accepted, so cancel-then-place
// sequences keep their ordering across outages. Reconnection runs
// autonomously with jittered exponential backoff.
//
// Broker order outcomes arrive asynchronously. WaitOutcome and
// WaitActive give callers a bounded wait on those events without
// polling.
package session
