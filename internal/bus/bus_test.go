package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startIngest(t *testing.T, cfg IngestConfig) *Ingest {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	in := NewIngest(cfg, nil)
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		in.Stop(ctx)
	})
	return in
}

func startPublisher(t *testing.T, cfg PublisherConfig) *Publisher {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	p := NewPublisher(cfg, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

func dialWS(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestIngest_DeliversFramesInOrder(t *testing.T) {
	in := startIngest(t, IngestConfig{BufferSize: 16})
	producer := dialWS(t, in.Addr(), "/orders")

	for i := 0; i < 5; i++ {
		frame := fmt.Sprintf(`{"seq":%d}`, i)
		if err := producer.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case data := <-in.Messages():
			var got struct {
				Seq int `json:"seq"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal frame %d: %v", i, err)
			}
			if got.Seq != i {
				t.Errorf("frame %d seq = %d, want %d", i, got.Seq, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestIngest_MultipleProducers(t *testing.T) {
	in := startIngest(t, IngestConfig{BufferSize: 16})
	a := dialWS(t, in.Addr(), "/orders")
	b := dialWS(t, in.Addr(), "/orders")

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"from":"a"}`)); err != nil {
		t.Fatalf("producer a write: %v", err)
	}
	if err := b.WriteMessage(websocket.TextMessage, []byte(`{"from":"b"}`)); err != nil {
		t.Fatalf("producer b write: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case data := <-in.Messages():
			var got struct {
				From string `json:"from"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			seen[got.From] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("seen = %v, want frames from both producers", seen)
	}
}

func TestIngest_StopClosesMessages(t *testing.T) {
	in := NewIngest(IngestConfig{Addr: "127.0.0.1:0"}, nil)
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := in.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case _, ok := <-in.Messages():
		if ok {
			t.Error("Messages() yielded a frame after Stop, want closed channel")
		}
	case <-time.After(time.Second):
		t.Error("Messages() not closed after Stop")
	}
}

func TestPublisher_FanOut(t *testing.T) {
	p := startPublisher(t, PublisherConfig{BufferSize: 8})
	subA := dialWS(t, p.Addr(), "/acks")
	subB := dialWS(t, p.Addr(), "/acks")

	deadline := time.Now().Add(2 * time.Second)
	for p.Subscribers() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Subscribers(); got != 2 {
		t.Fatalf("Subscribers() = %d, want 2", got)
	}

	type ack struct {
		CorrelationID string `json:"correlation_id"`
		Status        string `json:"status"`
	}
	if err := p.Publish(TopicOrderAcks, ack{CorrelationID: "abc", Status: "ACK"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for name, sub := range map[string]*websocket.Conn{"a": subA, "b": subB} {
		sub.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := sub.ReadMessage()
		if err != nil {
			t.Fatalf("subscriber %s read: %v", name, err)
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("subscriber %s unmarshal: %v", name, err)
		}
		if frame.Topic != TopicOrderAcks {
			t.Errorf("subscriber %s topic = %q, want %q", name, frame.Topic, TopicOrderAcks)
		}
		var got ack
		if err := json.Unmarshal(frame.Data, &got); err != nil {
			t.Fatalf("subscriber %s unmarshal data: %v", name, err)
		}
		if got.CorrelationID != "abc" || got.Status != "ACK" {
			t.Errorf("subscriber %s ack = %+v, want abc/ACK", name, got)
		}
	}
}

func TestPublisher_DisconnectedSubscriberRemoved(t *testing.T) {
	p := startPublisher(t, PublisherConfig{BufferSize: 8})
	sub := dialWS(t, p.Addr(), "/acks")

	deadline := time.Now().Add(2 * time.Second)
	for p.Subscribers() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	sub.Close()

	deadline = time.Now().Add(2 * time.Second)
	for p.Subscribers() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Subscribers(); got != 0 {
		t.Errorf("Subscribers() after disconnect = %d, want 0", got)
	}

	// Publishing with no subscribers is a no-op, not an error.
	if err := p.Publish(TopicOrderAcks, map[string]string{"status": "ACK"}); err != nil {
		t.Errorf("Publish() with no subscribers error = %v", err)
	}
}
