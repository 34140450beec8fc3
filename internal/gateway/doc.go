// Package gateway implements the order-routing loop.
//
// One worker consumes trade instructions from the bus in receipt order
// and drives each through a fixed pipeline: decode, validate, retry
// gate, throttle, then route to the broker session. Routing is
// idempotent on (correlation_id, symbol): an unseen key places a new
// order, a seen key amends or replaces the mapped broker order
// depending on whether the broker has it live in its book.
//
// Every terminal outcome publishes exactly one acknowledgement carrying
// the original correlation id. The one deliberate exception is an
// instruction dropped while its key is backing off after a retryable
// broker error; that drop is backpressure and stays silent.
package gateway
