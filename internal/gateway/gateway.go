package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/zveasy/trading-app/internal/broker"
	"github.com/zveasy/trading-app/internal/bus"
	"github.com/zveasy/trading-app/internal/metrics"
	"github.com/zveasy/trading-app/internal/model"
	"github.com/zveasy/trading-app/internal/retry"
	"github.com/zveasy/trading-app/internal/session"
	"github.com/zveasy/trading-app/internal/store"
	"github.com/zveasy/trading-app/internal/throttle"
)

// Session is the broker session surface the gateway routes through.
// *session.Manager satisfies it.
type Session interface {
	SubmitOrder(ctx context.Context, contract broker.Contract, order broker.Order) (int64, error)
	SubmitOrderWithID(ctx context.Context, id int64, contract broker.Contract, order broker.Order) error
	ReplaceOrder(ctx context.Context, oldID int64, contract broker.Contract, order broker.Order) (int64, error)
	CancelOrder(ctx context.Context, id int64) error
	WaitOutcome(ctx context.Context, id int64, wait time.Duration) error
	OrderState(id int64) (session.OrderState, bool)
}

// Publisher publishes acknowledgement frames. *bus.Publisher satisfies it.
type Publisher interface {
	Publish(topic string, v any) error
}

// Config configures the gateway loop.
type Config struct {
	// OutcomeWait bounds how long each routed order waits for the
	// broker to report an error before the gateway acks optimistically.
	OutcomeWait time.Duration
}

// DefaultConfig returns sensible gateway defaults.
func DefaultConfig() Config {
	return Config{OutcomeWait: 1 * time.Second}
}

// Gateway consumes trade instructions from the bus, enforces the
// validation, retry and throttle gates, routes orders through the broker
// session, and publishes one acknowledgement per terminal outcome.
// Instructions are processed strictly in receipt order by one worker.
type Gateway struct {
	cfg       Config
	sess      Session
	mappings  store.Mappings
	registry  *retry.Registry
	throttle  *throttle.Throttle
	validator *Validator
	pub       Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// cache mirrors the durable mapping; the loop is the only writer.
	cache map[store.Key]int64

	messages <-chan []byte

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a gateway. logger and m may be nil.
func New(
	cfg Config,
	messages <-chan []byte,
	sess Session,
	mappings store.Mappings,
	registry *retry.Registry,
	thr *throttle.Throttle,
	validator *Validator,
	pub Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.OutcomeWait <= 0 {
		cfg.OutcomeWait = DefaultConfig().OutcomeWait
	}
	return &Gateway{
		cfg:       cfg,
		sess:      sess,
		mappings:  mappings,
		registry:  registry,
		throttle:  thr,
		validator: validator,
		pub:       pub,
		metrics:   m,
		logger:    logger,
		cache:     make(map[store.Key]int64),
		messages:  messages,
	}
}

// Start loads the idempotency mapping and begins consuming instructions.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}

	loaded, err := g.mappings.Load(ctx)
	if err != nil {
		return err
	}
	g.cache = loaded
	if g.cache == nil {
		g.cache = make(map[store.Key]int64)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.running = true

	g.wg.Add(1)
	go g.run(loopCtx)

	g.logger.Info("gateway started", "known_mappings", len(g.cache))
	return nil
}

// Stop halts the loop. In-flight instruction handling completes first.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	cancel := g.cancel
	g.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.logger.Info("gateway stopped")
	return nil
}

func (g *Gateway) run(ctx context.Context) {
	defer g.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-g.messages:
			if !ok {
				return
			}
			g.handleFrame(ctx, data)
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, data []byte) {
	g.metrics.MessagesReceived.Inc()
	started := time.Now()
	defer func() {
		g.metrics.Processing.Observe(time.Since(started).Seconds())
	}()

	env, err := model.DecodeEnvelope(data)
	if err != nil {
		g.rejectParse(bestEffortCorrelationID(data), err)
		return
	}

	switch env.MsgType {
	case model.MsgTypeOrder:
		g.handleOrder(ctx, env)
	case model.MsgTypeCancel:
		g.handleCancel(ctx, env)
	default:
		g.rejectParse(env.CorrelationID, errors.New("unknown msg_type "+string(env.MsgType)))
	}
}

func (g *Gateway) handleOrder(ctx context.Context, env *model.Envelope) {
	req, err := env.DecodeOrder()
	if err != nil {
		g.rejectParse(env.CorrelationID, err)
		return
	}
	key := store.Key{CorrelationID: env.CorrelationID, Symbol: req.Symbol}

	// Validation failures never touch retry or throttle state.
	if reason, ok := g.validator.Check(req); !ok {
		g.metrics.Rejects.WithLabelValues("validation").Inc()
		g.logger.Info("order rejected", "correlation_id", env.CorrelationID,
			"symbol", req.Symbol, "reason", reason)
		g.publishAck(model.Ack{
			Version:       model.Version,
			Kind:          "Ack",
			CorrelationID: env.CorrelationID,
			Status:        model.AckRejected,
			Reason:        reason,
		})
		return
	}

	// Backoff drops are deliberate backpressure: no ack is published.
	if !g.registry.Ready(key) {
		g.metrics.BackoffDropped.Inc()
		g.logger.Debug("dropped while backing off",
			"correlation_id", env.CorrelationID, "symbol", req.Symbol)
		return
	}

	if allowed, reason := g.throttle.Admit(req.Quantity, req.LimitPrice); !allowed {
		g.metrics.ThrottleBlocked.Inc()
		g.metrics.Rejects.WithLabelValues("throttle").Inc()
		g.publishAck(model.Ack{
			Version:       model.Version,
			Kind:          "Ack",
			CorrelationID: env.CorrelationID,
			Status:        model.AckRejected,
			Reason:        reason,
		})
		return
	}

	contract := broker.StockContract(req.Symbol)
	order := broker.NewOrder(string(req.Side), string(req.OrderType), req.Quantity, req.LimitPrice, req.Account)
	order.TIF = req.TIF

	existingID, known := g.cache[key]

	var (
		route   string
		finalID int64
	)
	switch {
	case !known:
		route = "NEW"
		finalID, err = g.sess.SubmitOrder(ctx, contract, order)

	default:
		// A known key is always an update: replace if the broker has
		// the order in its book, otherwise amend in place to avoid
		// racing its pending-submit handling.
		if st, ok := g.sess.OrderState(existingID); ok && session.ActiveStatus(st.Status) {
			route = "REPLACE"
			finalID, err = g.sess.ReplaceOrder(ctx, existingID, contract, order)
		} else {
			route = "MODIFY"
			finalID = existingID
			err = g.sess.SubmitOrderWithID(ctx, existingID, contract, order)
		}
	}
	if err != nil {
		g.rejectBroker(ctx, key, env.CorrelationID, err)
		return
	}

	if err := g.sess.WaitOutcome(ctx, finalID, g.cfg.OutcomeWait); err != nil {
		g.rejectBroker(ctx, key, env.CorrelationID, err)
		return
	}

	// The upsert is the linearization point: a replayed correlation id
	// observed after this ack must resolve to an update, so the mapping
	// lands before the ack is published.
	status := store.StatusSubmitted
	if known {
		status = store.StatusUpdated
	}
	if err := g.mappings.Upsert(ctx, key, finalID, status); err != nil {
		g.logger.Error("mapping upsert failed", "correlation_id", env.CorrelationID,
			"symbol", req.Symbol, "error", err)
		g.publishAck(model.Ack{
			Version:       model.Version,
			Kind:          "Ack",
			CorrelationID: env.CorrelationID,
			Status:        model.AckRejected,
			Reason:        "state store unavailable: " + err.Error(),
		})
		return
	}
	g.cache[key] = finalID
	g.registry.OnSuccess(key)

	g.metrics.Routed.WithLabelValues(route).Inc()
	g.logger.Info("order routed", "correlation_id", env.CorrelationID,
		"symbol", req.Symbol, "route", route, "broker_order_id", finalID)

	ack := model.NewAck(env.CorrelationID, model.AckAccepted)
	ack.BrokerOrderID = finalID
	g.publishAck(ack)
}

func (g *Gateway) handleCancel(ctx context.Context, env *model.Envelope) {
	req, err := env.DecodeCancel()
	if err != nil {
		g.rejectParse(env.CorrelationID, err)
		return
	}
	key := store.Key{CorrelationID: env.CorrelationID, Symbol: req.Symbol}

	id, known := g.cache[key]
	if !known {
		g.metrics.Rejects.WithLabelValues("validation").Inc()
		g.publishAck(model.Ack{
			Version:       model.Version,
			Kind:          "Ack",
			CorrelationID: env.CorrelationID,
			Status:        model.AckRejected,
			Reason:        "no broker order mapped to this correlation_id",
		})
		return
	}

	if err := g.sess.CancelOrder(ctx, id); err != nil {
		g.rejectBroker(ctx, key, env.CorrelationID, err)
		return
	}

	g.metrics.Routed.WithLabelValues("CANCEL").Inc()
	g.logger.Info("cancel routed", "correlation_id", env.CorrelationID,
		"symbol", req.Symbol, "broker_order_id", id)

	ack := model.NewAck(env.CorrelationID, model.AckAccepted)
	ack.BrokerOrderID = id
	g.publishAck(ack)
}

// rejectBroker classifies a broker-layer failure, arms the retry backoff
// when the code is retryable, and acks this attempt as rejected.
func (g *Gateway) rejectBroker(ctx context.Context, key store.Key, correlationID string, err error) {
	var be *broker.Error
	if errors.As(err, &be) {
		g.metrics.BrokerErrors.WithLabelValues(strconv.Itoa(be.Code)).Inc()
		if g.registry.OnError(key, be.Code) {
			g.metrics.BrokerRetries.Inc()
		}
	}
	g.metrics.Rejects.WithLabelValues("broker").Inc()
	g.logger.Warn("broker rejected order", "correlation_id", correlationID,
		"symbol", key.Symbol, "error", err)
	g.publishAck(model.Ack{
		Version:       model.Version,
		Kind:          "Ack",
		CorrelationID: correlationID,
		Status:        model.AckRejected,
		Reason:        err.Error(),
	})
}

func (g *Gateway) rejectParse(correlationID string, err error) {
	g.metrics.Rejects.WithLabelValues("parse").Inc()
	g.logger.Warn("unparseable instruction", "correlation_id", correlationID, "error", err)
	g.publishAck(model.Ack{
		Version:       model.Version,
		Kind:          "Ack",
		CorrelationID: correlationID,
		Status:        model.AckRejected,
		Reason:        "PARSE_ERROR: " + err.Error(),
	})
}

func (g *Gateway) publishAck(ack model.Ack) {
	if err := g.pub.Publish(bus.TopicOrderAcks, ack); err != nil {
		g.logger.Error("ack publish failed", "correlation_id", ack.CorrelationID, "error", err)
		return
	}
	g.metrics.Acks.WithLabelValues(string(ack.Status)).Inc()
}

// bestEffortCorrelationID pulls a correlation id out of an otherwise
// unusable frame so the reject can still be correlated.
func bestEffortCorrelationID(data []byte) string {
	var probe struct {
		CorrelationID string `json:"correlation_id"`
	}
	json.Unmarshal(data, &probe)
	return probe.CorrelationID
}
