package session

import (
	"errors"
	"time"

	"github.com/zveasy/trading-app/internal/broker"
)

// Errors
var (
	ErrClosed           = errors.New("session closed")
	ErrHandshakeTimeout = errors.New("handshake timed out")
	ErrAllocTimeout     = errors.New("order id allocation timed out")
	ErrWaitTimeout      = errors.New("timed out waiting for order status")
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DialFunc creates a fresh broker client for each connection attempt.
type DialFunc func() broker.Client

// Config configures a session Manager.
type Config struct {
	// ClientID identifies this gateway to the broker.
	ClientID int

	// HandshakeTimeout bounds the initial handshake round trip.
	HandshakeTimeout time.Duration

	// AllocTimeout bounds a blocking id-block request.
	AllocTimeout time.Duration

	// IDBlockSize is how many order ids each handshake or block
	// request grants.
	IDBlockSize int64

	// ReconnectBaseDelay is the first reconnect backoff delay.
	ReconnectBaseDelay time.Duration

	// ReconnectMaxDelay caps the reconnect backoff.
	ReconnectMaxDelay time.Duration
}

// DefaultConfig returns sensible session defaults.
func DefaultConfig() Config {
	return Config{
		ClientID:           1,
		HandshakeTimeout:   10 * time.Second,
		AllocTimeout:       5 * time.Second,
		IDBlockSize:        1000,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
	}
}

// OrderState is the last broker-reported state of an order.
type OrderState struct {
	OrderID      int64
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
}

// ActiveStatus reports whether a broker order status means the order is
// live and amendable at the broker.
func ActiveStatus(status string) bool {
	switch status {
	case "Submitted", "PreSubmitted":
		return true
	default:
		return false
	}
}

// benignCodes are broker notices that arrive on the error channel but
// carry no order failure (data farm connectivity chatter).
var benignCodes = map[int]bool{
	2104: true,
	2106: true,
	2158: true,
}
