// Package throttle implements the admission-control component.
//
// It bounds order submission rate and notional exposure per rolling
// one-second window, independent of symbol. The check and the counter
// commit happen in one critical section: no sequence of concurrent calls
// can leave the committed counters above the configured ceilings.
package throttle
