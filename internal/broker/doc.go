// Package broker is the boundary shim for the execution venue.
//
// It speaks JSON frames over a single WebSocket: outbound Commands
// (handshake, place, cancel, cancel_all, next_id_block) and inbound
// Events (handshake_ack, id_block, order_status, open_order, position,
// portfolio, error). The gateway core never imports this package's
// client directly; the session manager owns it.
package broker
