package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zveasy/trading-app/internal/broker"
	"github.com/zveasy/trading-app/internal/config"
	"github.com/zveasy/trading-app/internal/model"
	"github.com/zveasy/trading-app/internal/retry"
	"github.com/zveasy/trading-app/internal/session"
	"github.com/zveasy/trading-app/internal/store"
	"github.com/zveasy/trading-app/internal/throttle"
)

type sessionCall struct {
	Op      string
	OrderID int64
	Order   broker.Order
}

// fakeSession records routing calls and hands out sequential ids.
type fakeSession struct {
	mu     sync.Mutex
	nextID int64
	calls  []sessionCall
	states map[int64]session.OrderState

	submitErr  error
	outcomeErr map[int64]error
}

func newFakeSession(nextID int64) *fakeSession {
	return &fakeSession{
		nextID:     nextID,
		states:     make(map[int64]session.OrderState),
		outcomeErr: make(map[int64]error),
	}
}

func (f *fakeSession) SubmitOrder(_ context.Context, _ broker.Contract, order broker.Order) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	id := f.nextID
	f.nextID++
	f.calls = append(f.calls, sessionCall{Op: "submit", OrderID: id, Order: order})
	return id, nil
}

func (f *fakeSession) SubmitOrderWithID(_ context.Context, id int64, _ broker.Contract, order broker.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.calls = append(f.calls, sessionCall{Op: "modify", OrderID: id, Order: order})
	return nil
}

func (f *fakeSession) ReplaceOrder(_ context.Context, oldID int64, _ broker.Contract, order broker.Order) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	id := f.nextID
	f.nextID++
	f.calls = append(f.calls, sessionCall{Op: "replace", OrderID: oldID, Order: order})
	f.calls = append(f.calls, sessionCall{Op: "submit", OrderID: id, Order: order})
	return id, nil
}

func (f *fakeSession) CancelOrder(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.calls = append(f.calls, sessionCall{Op: "cancel", OrderID: id})
	return nil
}

func (f *fakeSession) WaitOutcome(_ context.Context, id int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomeErr[id]
}

func (f *fakeSession) OrderState(id int64) (session.OrderState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	return st, ok
}

func (f *fakeSession) setStatus(id int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = session.OrderState{OrderID: id, Status: status}
}

func (f *fakeSession) callOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, c := range f.calls {
		ops[i] = c.Op
	}
	return ops
}

// capturePub records every published ack.
type capturePub struct {
	mu   sync.Mutex
	acks []model.Ack
}

func (p *capturePub) Publish(topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acks = append(p.acks, v.(model.Ack))
	return nil
}

func (p *capturePub) all() []model.Ack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Ack, len(p.acks))
	copy(out, p.acks)
	return out
}

type testEnv struct {
	gw       *Gateway
	sess     *fakeSession
	pub      *capturePub
	mappings *store.MemoryMappings
	registry *retry.Registry
}

func newTestEnv(t *testing.T, limits config.LimitsConfig, throttleCfg throttle.Config) *testEnv {
	t.Helper()
	validator, err := NewValidator(limits)
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	env := &testEnv{
		sess:     newFakeSession(1001),
		pub:      &capturePub{},
		mappings: store.NewMemoryMappings(),
		registry: retry.NewRegistry(retry.Config{MaxAttempts: 5, BaseDelay: time.Hour, CapDelay: 2 * time.Hour}),
	}
	env.gw = New(
		Config{OutcomeWait: 10 * time.Millisecond},
		nil,
		env.sess,
		env.mappings,
		env.registry,
		throttle.New(throttleCfg),
		validator,
		env.pub,
		nil,
		nil,
	)
	return env
}

func orderFrame(t *testing.T, correlationID string, req model.OrderRequest) []byte {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, err := json.Marshal(model.Envelope{
		Version:       model.Version,
		CorrelationID: correlationID,
		MsgType:       model.MsgTypeOrder,
		Payload:       payload,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return frame
}

func cancelFrame(t *testing.T, correlationID, symbol string) []byte {
	t.Helper()
	payload := fmt.Sprintf(`{"symbol":%q}`, symbol)
	frame, err := json.Marshal(model.Envelope{
		Version:       model.Version,
		CorrelationID: correlationID,
		MsgType:       model.MsgTypeCancel,
		Payload:       json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return frame
}

func buyOrder(qty int) model.OrderRequest {
	return model.OrderRequest{Symbol: "AAPL", Side: model.SideBuy, Quantity: qty, OrderType: model.OrderTypeMarket}
}

func TestGateway_NewOrderAccepted(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(100)))

	acks := env.pub.all()
	if len(acks) != 1 {
		t.Fatalf("len(acks) = %d, want 1", len(acks))
	}
	if acks[0].Status != model.AckAccepted || acks[0].BrokerOrderID != 1001 {
		t.Errorf("ack = %+v, want ACCEPTED broker order 1001", acks[0])
	}
	if acks[0].CorrelationID != "abc" {
		t.Errorf("ack correlation_id = %q, want %q", acks[0].CorrelationID, "abc")
	}

	// The mapping lands before the ack.
	id, ok := env.mappings.Get(store.Key{CorrelationID: "abc", Symbol: "AAPL"})
	if !ok || id != 1001 {
		t.Errorf("mapping = (%d, %v), want (1001, true)", id, ok)
	}
}

func TestGateway_ReplayReplacesWhenActive(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(100)))
	env.sess.setStatus(1001, "Submitted")

	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(150)))

	acks := env.pub.all()
	if len(acks) != 2 {
		t.Fatalf("len(acks) = %d, want 2", len(acks))
	}
	if acks[1].Status != model.AckAccepted || acks[1].BrokerOrderID != 1002 {
		t.Errorf("replay ack = %+v, want ACCEPTED broker order 1002", acks[1])
	}

	id, _ := env.mappings.Get(store.Key{CorrelationID: "abc", Symbol: "AAPL"})
	if id != 1002 {
		t.Errorf("mapping after replace = %d, want 1002", id)
	}

	ops := env.sess.callOps()
	want := []string{"submit", "replace", "submit"}
	if len(ops) != len(want) {
		t.Fatalf("session ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("session ops = %v, want %v", ops, want)
			break
		}
	}
}

func TestGateway_ReplayModifiesInPlaceWhenNotActive(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(100)))
	// No broker status yet: the order is still pending acknowledgement.
	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(150)))

	acks := env.pub.all()
	if len(acks) != 2 {
		t.Fatalf("len(acks) = %d, want 2", len(acks))
	}
	if acks[1].BrokerOrderID != 1001 {
		t.Errorf("modify ack broker order = %d, want 1001 (same id)", acks[1].BrokerOrderID)
	}

	ops := env.sess.callOps()
	if len(ops) != 2 || ops[1] != "modify" {
		t.Errorf("session ops = %v, want [submit modify]", ops)
	}

	id, _ := env.mappings.Get(store.Key{CorrelationID: "abc", Symbol: "AAPL"})
	if id != 1001 {
		t.Errorf("mapping after modify = %d, want 1001", id)
	}
}

func TestGateway_SameCorrelationDifferentSymbolIsNew(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(100)))
	msft := buyOrder(100)
	msft.Symbol = "MSFT"
	env.gw.handleFrame(ctx, orderFrame(t, "abc", msft))

	ops := env.sess.callOps()
	if len(ops) != 2 || ops[0] != "submit" || ops[1] != "submit" {
		t.Errorf("session ops = %v, want two independent submits", ops)
	}
}

func TestGateway_ParseErrorRejectedImmediately(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})

	env.gw.handleFrame(context.Background(), []byte(`{"correlation_id":"abc","version":"v99"}`))

	acks := env.pub.all()
	if len(acks) != 1 || acks[0].Status != model.AckRejected {
		t.Fatalf("acks = %+v, want one REJECTED", acks)
	}
	if acks[0].CorrelationID != "abc" {
		t.Errorf("ack correlation_id = %q, want best-effort %q", acks[0].CorrelationID, "abc")
	}
	if len(env.sess.callOps()) != 0 {
		t.Errorf("session ops = %v, want none for a parse error", env.sess.callOps())
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", env.registry.Len())
	}
}

func TestGateway_ValidationRejectLeavesRetryAlone(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{MaxQuantity: 10}, throttle.Config{})

	env.gw.handleFrame(context.Background(), orderFrame(t, "abc", buyOrder(500)))

	acks := env.pub.all()
	if len(acks) != 1 || acks[0].Status != model.AckRejected {
		t.Fatalf("acks = %+v, want one REJECTED", acks)
	}
	if acks[0].Reason == "" {
		t.Error("validation reject has empty reason")
	}
	if len(env.sess.callOps()) != 0 {
		t.Errorf("session ops = %v, want none", env.sess.callOps())
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", env.registry.Len())
	}
}

func TestGateway_SymbolAllowList(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{AllowedSymbols: []string{"MSFT"}}, throttle.Config{})

	env.gw.handleFrame(context.Background(), orderFrame(t, "abc", buyOrder(10)))

	acks := env.pub.all()
	if len(acks) != 1 || acks[0].Status != model.AckRejected {
		t.Fatalf("acks = %+v, want one REJECTED for disallowed symbol", acks)
	}
}

func TestGateway_ThrottleRejectIsAckedNotDropped(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{MaxOrdersPerSec: 1})
	ctx := context.Background()

	env.gw.handleFrame(ctx, orderFrame(t, "a1", buyOrder(10)))
	env.gw.handleFrame(ctx, orderFrame(t, "a2", buyOrder(10)))

	acks := env.pub.all()
	if len(acks) != 2 {
		t.Fatalf("len(acks) = %d, want 2 (throttle rejects still ack)", len(acks))
	}
	if acks[0].Status != model.AckAccepted {
		t.Errorf("first ack = %+v, want ACCEPTED", acks[0])
	}
	if acks[1].Status != model.AckRejected {
		t.Errorf("second ack = %+v, want REJECTED by throttle", acks[1])
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0 (throttle never consumes retry state)", env.registry.Len())
	}
}

func TestGateway_RetryableErrorArmsBackoffAndDropsSilently(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	env.sess.submitErr = &broker.Error{Code: 1100, Message: "connectivity lost"}
	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(10)))

	acks := env.pub.all()
	if len(acks) != 1 || acks[0].Status != model.AckRejected {
		t.Fatalf("acks = %+v, want one REJECTED for the failed attempt", acks)
	}
	if env.registry.Len() != 1 {
		t.Fatalf("registry.Len() = %d, want 1", env.registry.Len())
	}
	if env.registry.Ready(store.Key{CorrelationID: "abc", Symbol: "AAPL"}) {
		t.Error("Ready() = true, want false while the key backs off")
	}

	// Same key again while backing off: silent drop, no second ack.
	env.sess.submitErr = nil
	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(10)))

	if got := len(env.pub.all()); got != 1 {
		t.Errorf("len(acks) after backoff drop = %d, want still 1", got)
	}
	if len(env.sess.callOps()) != 0 {
		t.Errorf("session ops = %v, want none while backing off", env.sess.callOps())
	}
}

func TestGateway_NonRetryableErrorLeavesKeyReady(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	env.sess.submitErr = &broker.Error{Code: 321, Message: "invalid contract"}
	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(10)))

	if env.registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0 for non-retryable code", env.registry.Len())
	}
	if !env.registry.Ready(store.Key{CorrelationID: "abc", Symbol: "AAPL"}) {
		t.Error("Ready() = false, want true after non-retryable error")
	}
}

func TestGateway_OutcomeErrorRejects(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	env.sess.outcomeErr[1001] = &broker.Error{Code: 202, OrderID: 1001, Message: "order cancelled"}
	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(10)))

	acks := env.pub.all()
	if len(acks) != 1 || acks[0].Status != model.AckRejected {
		t.Fatalf("acks = %+v, want one REJECTED", acks)
	}
	// A failed attempt never records a mapping.
	if _, ok := env.mappings.Get(store.Key{CorrelationID: "abc", Symbol: "AAPL"}); ok {
		t.Error("mapping recorded despite broker error outcome")
	}
	if env.registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1 (202 is retryable)", env.registry.Len())
	}
}

func TestGateway_CancelRequests(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	// Unknown key rejects.
	env.gw.handleFrame(ctx, cancelFrame(t, "nope", "AAPL"))
	acks := env.pub.all()
	if len(acks) != 1 || acks[0].Status != model.AckRejected {
		t.Fatalf("acks = %+v, want REJECTED for unmapped cancel", acks)
	}

	// Known key routes the cancel against the mapped broker id.
	env.gw.handleFrame(ctx, orderFrame(t, "abc", buyOrder(10)))
	env.gw.handleFrame(ctx, cancelFrame(t, "abc", "AAPL"))

	acks = env.pub.all()
	last := acks[len(acks)-1]
	if last.Status != model.AckAccepted || last.BrokerOrderID != 1001 {
		t.Errorf("cancel ack = %+v, want ACCEPTED broker order 1001", last)
	}
	ops := env.sess.callOps()
	if ops[len(ops)-1] != "cancel" {
		t.Errorf("session ops = %v, want trailing cancel", ops)
	}
}

func TestGateway_StartLoadsMappingsAndConsumes(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{}, throttle.Config{})
	ctx := context.Background()

	// A mapping from a previous run makes a replayed key an update.
	key := store.Key{CorrelationID: "abc", Symbol: "AAPL"}
	if err := env.mappings.Upsert(ctx, key, 1001, store.StatusSubmitted); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	messages := make(chan []byte, 1)
	env.gw.messages = messages
	if err := env.gw.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		env.gw.Stop(stopCtx)
	}()

	messages <- orderFrame(t, "abc", buyOrder(25))

	deadline := time.Now().Add(2 * time.Second)
	for len(env.pub.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	acks := env.pub.all()
	if len(acks) != 1 {
		t.Fatalf("len(acks) = %d, want 1", len(acks))
	}
	if acks[0].Status != model.AckAccepted || acks[0].BrokerOrderID != 1001 {
		t.Errorf("ack = %+v, want in-place modify of broker order 1001", acks[0])
	}
	ops := env.sess.callOps()
	if len(ops) != 1 || ops[0] != "modify" {
		t.Errorf("session ops = %v, want [modify]", ops)
	}
}
