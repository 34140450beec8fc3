// Package model defines the wire types exchanged over the message bus:
// the versioned envelope, the order/cancel payloads it carries, and the
// acknowledgement published for every terminal outcome.
package model
