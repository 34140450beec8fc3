package bus

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrNotStarted is returned by accessors that need a running server.
var ErrNotStarted = errors.New("bus server not started")

// IngestConfig configures the instruction ingest server.
type IngestConfig struct {
	Addr       string // listen address, e.g. ":5555"
	BufferSize int    // instruction channel buffer
}

// Ingest accepts WebSocket connections from instruction producers and
// funnels their frames into a single ordered channel.
type Ingest struct {
	cfg      IngestConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	messages chan []byte

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	conns    map[*websocket.Conn]struct{}
	running  bool

	wg sync.WaitGroup
}

// NewIngest creates an ingest server. logger may be nil.
func NewIngest(cfg IngestConfig, logger *slog.Logger) *Ingest {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	return &Ingest{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan []byte, cfg.BufferSize),
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Start binds the listen address and begins accepting producers.
func (in *Ingest) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running {
		return nil
	}

	ln, err := net.Listen("tcp", in.cfg.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", in.handleProducer)

	in.listener = ln
	in.server = &http.Server{Handler: mux}
	in.running = true

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		if err := in.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			in.logger.Error("ingest server failed", "error", err)
		}
	}()

	in.logger.Info("ingest server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down and closes the message channel once all
// producer connections have drained.
func (in *Ingest) Stop(ctx context.Context) error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return nil
	}
	in.running = false
	srv := in.server
	// Hijacked WebSocket connections are not covered by Shutdown.
	for conn := range in.conns {
		conn.Close()
	}
	in.mu.Unlock()

	err := srv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(in.messages)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Messages returns the ordered instruction channel. It is closed after
// Stop completes.
func (in *Ingest) Messages() <-chan []byte {
	return in.messages
}

// Addr returns the bound listen address.
func (in *Ingest) Addr() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.listener == nil {
		return ""
	}
	return in.listener.Addr().String()
}

func (in *Ingest) handleProducer(w http.ResponseWriter, r *http.Request) {
	conn, err := in.upgrader.Upgrade(w, r, nil)
	if err != nil {
		in.logger.Warn("producer upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		conn.Close()
		return
	}
	in.conns[conn] = struct{}{}
	in.wg.Add(1)
	in.mu.Unlock()

	in.logger.Debug("producer connected", "remote", r.RemoteAddr)

	go func() {
		defer in.wg.Done()
		defer func() {
			conn.Close()
			in.mu.Lock()
			delete(in.conns, conn)
			in.mu.Unlock()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					in.logger.Debug("producer read ended", "remote", r.RemoteAddr, "error", err)
				}
				return
			}
			// Blocking send keeps frame order and applies backpressure.
			in.messages <- data
		}
	}()
}
