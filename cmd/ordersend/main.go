// Command ordersend submits a single trade instruction to a running
// gateway and waits for its acknowledgement. It is a smoke-test tool,
// not a trading client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zveasy/trading-app/internal/bus"
	"github.com/zveasy/trading-app/internal/model"
)

func main() {
	var (
		ingestURL  = flag.String("ingest", "ws://127.0.0.1:5555/orders", "gateway ingest endpoint")
		acksURL    = flag.String("acks", "ws://127.0.0.1:5556/acks", "gateway ack endpoint")
		symbol     = flag.String("symbol", "", "symbol to trade (required)")
		side       = flag.String("side", "BUY", "BUY or SELL")
		qty        = flag.Int("qty", 1, "order quantity")
		orderType  = flag.String("type", "MKT", "MKT or LMT")
		limitPrice = flag.Float64("price", 0, "limit price (LMT only)")
		account    = flag.String("account", "", "broker account override")
		cancel     = flag.Bool("cancel", false, "send a cancel for -corr instead of an order")
		corrID     = flag.String("corr", "", "correlation id (default: random)")
		wait       = flag.Duration("wait", 5*time.Second, "how long to wait for the ack")
	)
	flag.Parse()

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "ordersend: -symbol is required")
		flag.Usage()
		os.Exit(2)
	}
	if *corrID == "" {
		*corrID = uuid.NewString()
	}

	frame, err := buildFrame(*corrID, *symbol, *side, *qty, *orderType, *limitPrice, *account, *cancel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ordersend: %v\n", err)
		os.Exit(2)
	}

	// Subscribe before sending so the ack cannot be missed.
	ackConn, _, err := websocket.DefaultDialer.Dial(*acksURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ordersend: dial acks: %v\n", err)
		os.Exit(1)
	}
	defer ackConn.Close()

	orderConn, _, err := websocket.DefaultDialer.Dial(*ingestURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ordersend: dial ingest: %v\n", err)
		os.Exit(1)
	}
	defer orderConn.Close()

	if err := orderConn.WriteMessage(websocket.TextMessage, frame); err != nil {
		fmt.Fprintf(os.Stderr, "ordersend: send: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent %s correlation_id=%s\n", *symbol, *corrID)

	ack, err := awaitAck(ackConn, *corrID, *wait)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ordersend: %v\n", err)
		os.Exit(1)
	}

	if ack.Status == model.AckAccepted {
		fmt.Printf("ACCEPTED broker_order_id=%d\n", ack.BrokerOrderID)
		return
	}
	fmt.Printf("REJECTED reason=%q\n", ack.Reason)
	os.Exit(1)
}

func buildFrame(corrID, symbol, side string, qty int, orderType string, limitPrice float64, account string, cancel bool) ([]byte, error) {
	var (
		msgType model.MsgType
		payload any
	)
	if cancel {
		msgType = model.MsgTypeCancel
		payload = model.CancelRequest{Symbol: strings.ToUpper(symbol)}
	} else {
		msgType = model.MsgTypeOrder
		payload = model.OrderRequest{
			Symbol:     strings.ToUpper(symbol),
			Side:       model.Side(strings.ToUpper(side)),
			Quantity:   qty,
			OrderType:  model.OrderType(strings.ToUpper(orderType)),
			LimitPrice: limitPrice,
			Account:    account,
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(model.Envelope{
		Version:       model.Version,
		CorrelationID: corrID,
		MsgType:       msgType,
		Payload:       raw,
	})
}

func awaitAck(conn *websocket.Conn, corrID string, wait time.Duration) (*model.Ack, error) {
	deadline := time.Now().Add(wait)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("no ack within %v: %w", wait, err)
		}

		var frame bus.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Topic != bus.TopicOrderAcks {
			continue
		}
		var ack model.Ack
		if err := json.Unmarshal(frame.Data, &ack); err != nil {
			continue
		}
		if ack.CorrelationID == corrID {
			return &ack, nil
		}
	}
}
