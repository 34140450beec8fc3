package model

import (
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	raw := []byte(`{
		"version": "v1",
		"correlation_id": "abc",
		"msg_type": "SimpleOrder",
		"payload": {"symbol": "aapl", "action": "BUY", "qty": 10}
	}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.CorrelationID != "abc" {
		t.Errorf("CorrelationID = %q, want %q", env.CorrelationID, "abc")
	}
	if env.MsgType != MsgTypeOrder {
		t.Errorf("MsgType = %q, want %q", env.MsgType, MsgTypeOrder)
	}
}

func TestDecodeEnvelope_NotJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	if !errors.Is(err, ErrBadEnvelope) {
		t.Errorf("err = %v, want ErrBadEnvelope", err)
	}
}

func TestDecodeEnvelope_WrongVersion(t *testing.T) {
	raw := []byte(`{"version": "v2", "correlation_id": "abc", "msg_type": "SimpleOrder", "payload": {}}`)
	_, err := DecodeEnvelope(raw)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeEnvelope_BlankCorrelationID(t *testing.T) {
	raw := []byte(`{"version": "v1", "correlation_id": "  ", "msg_type": "SimpleOrder", "payload": {}}`)
	_, err := DecodeEnvelope(raw)
	if !errors.Is(err, ErrMissingCorrelationID) {
		t.Errorf("err = %v, want ErrMissingCorrelationID", err)
	}
}

func TestDecodeOrder(t *testing.T) {
	env := &Envelope{
		Version:       Version,
		CorrelationID: "abc",
		MsgType:       MsgTypeOrder,
		Payload:       []byte(`{"symbol": " aapl ", "side": "BUY", "qty": 10, "order_type": "LMT", "limit_price": 185.0}`),
	}

	req, err := env.DecodeOrder()
	if err != nil {
		t.Fatalf("DecodeOrder failed: %v", err)
	}
	if req.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", req.Symbol)
	}
	if req.Side != SideBuy {
		t.Errorf("Side = %q, want BUY", req.Side)
	}
	if req.Quantity != 10 {
		t.Errorf("Quantity = %d, want 10", req.Quantity)
	}
	if req.OrderType != OrderTypeLimit {
		t.Errorf("OrderType = %q, want LMT", req.OrderType)
	}
	if req.LimitPrice != 185.0 {
		t.Errorf("LimitPrice = %v, want 185.0", req.LimitPrice)
	}
	if req.TIF != "DAY" {
		t.Errorf("TIF = %q, want DAY default", req.TIF)
	}
}

func TestDecodeOrder_Defaults(t *testing.T) {
	env := &Envelope{Payload: []byte(`{"symbol": "MSFT", "side": "SELL", "qty": 5}`)}

	req, err := env.DecodeOrder()
	if err != nil {
		t.Fatalf("DecodeOrder failed: %v", err)
	}
	if req.OrderType != OrderTypeMarket {
		t.Errorf("OrderType = %q, want MKT default", req.OrderType)
	}
}

func TestDecodeOrder_BadSide(t *testing.T) {
	env := &Envelope{Payload: []byte(`{"symbol": "MSFT", "side": "HOLD", "qty": 5}`)}
	if _, err := env.DecodeOrder(); !errors.Is(err, ErrBadEnvelope) {
		t.Errorf("err = %v, want ErrBadEnvelope", err)
	}
}

func TestDecodeOrder_MissingSymbol(t *testing.T) {
	env := &Envelope{Payload: []byte(`{"side": "BUY", "qty": 5}`)}
	if _, err := env.DecodeOrder(); !errors.Is(err, ErrBadEnvelope) {
		t.Errorf("err = %v, want ErrBadEnvelope", err)
	}
}

func TestNotional(t *testing.T) {
	req := &OrderRequest{Quantity: 10}
	if got := req.Notional(185.0); got != 1850.0 {
		t.Errorf("Notional = %v, want 1850.0", got)
	}

	req.Quantity = -10
	if got := req.Notional(2.0); got != 20.0 {
		t.Errorf("Notional = %v, want 20.0 for negative qty", got)
	}
}
