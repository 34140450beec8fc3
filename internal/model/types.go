package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the only envelope version this gateway accepts.
const Version = "v1"

// Errors returned by envelope decoding. All of them classify as parse
// errors: the message is rejected immediately and never reaches the
// retry/throttle/state-store layers.
var (
	ErrBadEnvelope          = errors.New("malformed envelope")
	ErrUnsupportedVersion   = errors.New("unsupported envelope version")
	ErrMissingCorrelationID = errors.New("correlation_id required")
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is a known value.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

// Valid reports whether the order type is a known value.
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// MsgType identifies the payload carried by an envelope.
type MsgType string

const (
	MsgTypeOrder  MsgType = "SimpleOrder"
	MsgTypeCancel MsgType = "CancelRequest"
)

// Envelope is one logical instruction from the bus. The correlation id is
// caller-supplied and ties the instruction to its acknowledgement and to
// idempotency state.
type Envelope struct {
	Version       string          `json:"version"`
	CorrelationID string          `json:"correlation_id"`
	MsgType       MsgType         `json:"msg_type"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderRequest is the SimpleOrder payload: one trade instruction.
// Immutable once decoded.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   int       `json:"qty"`
	OrderType  OrderType `json:"order_type"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	Account    string    `json:"account,omitempty"`
	TIF        string    `json:"tif,omitempty"`
}

// CancelRequest asks the gateway to cancel the broker order mapped to a
// previously-seen correlation id.
type CancelRequest struct {
	Symbol string `json:"symbol"`
}

// AckStatus is the terminal outcome of a message.
type AckStatus string

const (
	AckAccepted AckStatus = "ACCEPTED"
	AckRejected AckStatus = "REJECTED"
)

// Ack is published on the bus for every terminal outcome, tagged with the
// original correlation id so the sender can correlate asynchronously.
// Messages dropped for backoff publish nothing.
type Ack struct {
	Version       string    `json:"version"`
	Kind          string    `json:"kind"`
	CorrelationID string    `json:"correlation_id"`
	Status        AckStatus `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	BrokerOrderID int64     `json:"broker_order_id,omitempty"`
}

// NewAck builds an acknowledgement for a correlation id.
func NewAck(correlationID string, status AckStatus) Ack {
	return Ack{
		Version:       Version,
		Kind:          "Ack",
		CorrelationID: correlationID,
		Status:        status,
	}
}

// DecodeEnvelope parses and checks an envelope frame. The payload is left
// raw; use DecodeOrder / DecodeCancel once the msg_type is known.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, env.Version)
	}
	if strings.TrimSpace(env.CorrelationID) == "" {
		return nil, ErrMissingCorrelationID
	}
	return &env, nil
}

// DecodeOrder parses the payload as an OrderRequest. The symbol is
// normalized to upper case; enum validity is checked here, business rules
// (quantity, price bounds, session) belong to the gateway validator.
func (e *Envelope) DecodeOrder() (*OrderRequest, error) {
	var req OrderRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrBadEnvelope)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: side %q", ErrBadEnvelope, req.Side)
	}
	if req.OrderType == "" {
		req.OrderType = OrderTypeMarket
	}
	if !req.OrderType.Valid() {
		return nil, fmt.Errorf("%w: order_type %q", ErrBadEnvelope, req.OrderType)
	}
	if req.TIF == "" {
		req.TIF = "DAY"
	}
	return &req, nil
}

// DecodeCancel parses the payload as a CancelRequest.
func (e *Envelope) DecodeCancel() (*CancelRequest, error) {
	var req CancelRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrBadEnvelope)
	}
	return &req, nil
}

// Notional is the monetary exposure of the request: |qty| * price. The
// gateway passes the limit price, so market orders count as zero notional
// and are bounded by the quantity caps only.
func (r *OrderRequest) Notional(price float64) float64 {
	qty := r.Quantity
	if qty < 0 {
		qty = -qty
	}
	return float64(qty) * price
}
