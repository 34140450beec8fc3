package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TopicOrderAcks is the topic acknowledgements are published on.
const TopicOrderAcks = "order_acks"

// Frame is one published message.
type Frame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// PublisherConfig configures the ack fan-out server.
type PublisherConfig struct {
	Addr       string // listen address, e.g. ":5556"
	BufferSize int    // per-subscriber send buffer
}

// Publisher fans published frames out to WebSocket subscribers. Slow
// subscribers have frames dropped rather than blocking the publisher.
type Publisher struct {
	cfg      PublisherConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	subs     map[*subscriber]struct{}
	running  bool
	dropped  int64

	wg sync.WaitGroup
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewPublisher creates a publisher. logger may be nil.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Start binds the listen address and begins accepting subscribers.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/acks", p.handleSubscriber)

	p.listener = ln
	p.server = &http.Server{Handler: mux}
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("publisher server failed", "error", err)
		}
	}()

	p.logger.Info("ack publisher listening", "addr", ln.Addr().String())
	return nil
}

// Stop disconnects all subscribers and shuts the server down.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	srv := p.server
	for sub := range p.subs {
		close(sub.send)
		delete(p.subs, sub)
	}
	p.mu.Unlock()

	err := srv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Publish sends v to every connected subscriber under topic.
func (p *Publisher) Publish(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame data: %w", err)
	}
	frame, err := json.Marshal(Frame{Topic: topic, Data: data})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs {
		select {
		case sub.send <- frame:
		default:
			p.dropped++
			p.logger.Warn("subscriber falling behind, dropping frame", "topic", topic)
		}
	}
	return nil
}

// Subscribers returns the current subscriber count.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Dropped returns how many frames were dropped on slow subscribers.
func (p *Publisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Addr returns the bound listen address.
func (p *Publisher) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *Publisher) handleSubscriber(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("subscriber upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, p.cfg.BufferSize),
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.subs[sub] = struct{}{}
	p.wg.Add(2)
	p.mu.Unlock()

	p.logger.Debug("subscriber connected", "remote", r.RemoteAddr)

	// Writer drains the send buffer.
	go func() {
		defer p.wg.Done()
		defer conn.Close()
		for frame := range sub.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.drop(sub)
				return
			}
		}
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}()

	// Reader only detects subscriber disconnects.
	go func() {
		defer p.wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				p.drop(sub)
				return
			}
		}
	}()
}

// drop removes a subscriber after a transport failure.
func (p *Publisher) drop(sub *subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[sub]; !ok {
		return
	}
	delete(p.subs, sub)
	close(sub.send)
	sub.conn.Close()
}
