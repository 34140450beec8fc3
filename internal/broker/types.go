package broker

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Command ops.
const (
	OpHandshake   = "handshake"
	OpPlace       = "place"
	OpCancel      = "cancel"
	OpCancelAll   = "cancel_all"
	OpNextIDBlock = "next_id_block"
)

// Event types.
const (
	EventHandshakeAck = "handshake_ack"
	EventIDBlock      = "id_block"
	EventOrderStatus  = "order_status"
	EventOpenOrder    = "open_order"
	EventPosition     = "position"
	EventPortfolio    = "portfolio"
	EventError        = "error"
)

// Contract identifies the instrument an order trades.
type Contract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"sec_type"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// StockContract builds the default US equity contract for a symbol.
func StockContract(symbol string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  "STK",
		Exchange: "SMART",
		Currency: "USD",
	}
}

// Order is the broker-side order body.
type Order struct {
	Action     string  `json:"action"`     // BUY / SELL
	OrderType  string  `json:"order_type"` // MKT / LMT
	Quantity   int     `json:"qty"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	Account    string  `json:"account,omitempty"`
	TIF        string  `json:"tif"`
}

// NewOrder builds an order with the common fields set. TIF defaults to DAY.
func NewOrder(action, orderType string, quantity int, limitPrice float64, account string) Order {
	o := Order{
		Action:    action,
		OrderType: orderType,
		Quantity:  quantity,
		Account:   account,
		TIF:       "DAY",
	}
	if orderType == "LMT" {
		o.LimitPrice = limitPrice
	}
	return o
}

// Command is an outbound request frame. CmdID correlates the broker's
// response event for ops that have one (handshake, next_id_block).
type Command struct {
	CmdID    int64     `json:"id"`
	Op       string    `json:"op"`
	ClientID int       `json:"client_id,omitempty"`
	OrderID  int64     `json:"order_id,omitempty"`
	Contract *Contract `json:"contract,omitempty"`
	Order    *Order    `json:"order,omitempty"`
}

// Event is an inbound frame from the broker.
type Event struct {
	Type  string `json:"type"`
	CmdID int64  `json:"id,omitempty"` // echoes Command.CmdID for handshake_ack / id_block

	// handshake_ack, id_block
	NextID int64 `json:"next_id,omitempty"`

	// order_status, open_order, error
	OrderID      int64   `json:"order_id,omitempty"`
	Status       string  `json:"status,omitempty"`
	Filled       float64 `json:"filled,omitempty"`
	Remaining    float64 `json:"remaining,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`

	// position, portfolio
	Account       string  `json:"account,omitempty"`
	Symbol        string  `json:"symbol,omitempty"`
	Position      float64 `json:"position,omitempty"`
	AvgCost       float64 `json:"avg_cost,omitempty"`
	MarketPrice   float64 `json:"market_price,omitempty"`
	MarketValue   float64 `json:"market_value,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl,omitempty"`
	RealizedPnL   float64 `json:"realized_pnl,omitempty"`

	// error
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Error is a broker-reported failure surfaced to the gateway. The gateway
// classifies retryability by Code; this package never does.
type Error struct {
	Code    int
	OrderID int64
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker error %d (order %d): %s", e.Code, e.OrderID, e.Message)
}

// ClientConfig configures a broker WebSocket client.
type ClientConfig struct {
	URL          string        // broker endpoint (e.g. ws://127.0.0.1:7497/api)
	PingTimeout  time.Duration // max time without ping before the connection is stale
	WriteTimeout time.Duration // write deadline for sends
	BufferSize   int           // event channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}
