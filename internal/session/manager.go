package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zveasy/trading-app/internal/broker"
	"github.com/zveasy/trading-app/internal/store"
)

// Manager owns one logical broker session. It performs the handshake,
// allocates broker order ids, buffers commands while disconnected, and
// reconnects autonomously with jittered exponential backoff. Buffered
// commands replay in submission order before new traffic is accepted.
type Manager struct {
	cfg    Config
	dial   DialFunc
	logger *slog.Logger

	// txMu serializes transmission and buffer flushes so replayed
	// commands keep their original order.
	txMu    sync.Mutex
	pending []broker.Command

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	client broker.Client
	stop   chan struct{} // per-connection; closed when the connection dies
	closed bool

	orders    map[int64]OrderState
	orderErrs map[int64]*broker.Error
	positions map[string]store.PositionRow
	portfolio map[string]store.PnLRow

	resp map[int64]chan broker.Event

	allocMu sync.Mutex
	nextID  int64
	ceiling int64

	cmdSeq atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a session manager. logger may be nil.
func NewManager(cfg Config, dial DialFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:       cfg,
		dial:      dial,
		logger:    logger,
		orders:    make(map[int64]OrderState),
		orderErrs: make(map[int64]*broker.Error),
		positions: make(map[string]store.PositionRow),
		portfolio: make(map[string]store.PnLRow),
		resp:      make(map[int64]chan broker.Event),
		done:      make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Connect dials the broker and blocks until the handshake completes.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if err := m.establish(ctx); err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return err
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := m.flushLocked(); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = StateConnected
	m.mu.Unlock()
	return nil
}

// establish dials a fresh client, starts its pumps and runs the
// handshake. The caller owns the state transition to connected.
func (m *Manager) establish(ctx context.Context) error {
	cl := m.dial()
	if err := cl.Connect(ctx); err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.client = cl
	m.stop = stop
	m.mu.Unlock()

	m.wg.Add(2)
	go m.eventLoop(cl, stop)
	go m.watch(cl, stop)

	if err := m.handshake(ctx, cl); err != nil {
		close(stop)
		cl.Close()
		return err
	}
	return nil
}

// handshake announces the client id and seeds the order id block from
// the broker's reply.
func (m *Manager) handshake(ctx context.Context, cl broker.Client) error {
	cmdID := m.cmdSeq.Add(1)
	ch := m.registerResp(cmdID)
	defer m.unregisterResp(cmdID)

	if err := cl.Send(broker.Command{
		CmdID:    cmdID,
		Op:       broker.OpHandshake,
		ClientID: m.cfg.ClientID,
	}); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	select {
	case ev := <-ch:
		m.seedIDs(ev.NextID)
		m.logger.Info("broker handshake complete",
			"client_id", m.cfg.ClientID, "next_order_id", ev.NextID)
		return nil
	case <-time.After(m.cfg.HandshakeTimeout):
		return ErrHandshakeTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// seedIDs adopts the broker's next valid id. It only ever moves the
// allocator forward, so ids handed out before a reconnect are never
// reissued.
func (m *Manager) seedIDs(nextID int64) {
	m.allocMu.Lock()
	if nextID > m.nextID {
		m.nextID = nextID
		m.ceiling = nextID + m.cfg.IDBlockSize
	}
	m.allocMu.Unlock()
}

func (m *Manager) registerResp(cmdID int64) chan broker.Event {
	ch := make(chan broker.Event, 1)
	m.mu.Lock()
	m.resp[cmdID] = ch
	m.mu.Unlock()
	return ch
}

func (m *Manager) unregisterResp(cmdID int64) {
	m.mu.Lock()
	delete(m.resp, cmdID)
	m.mu.Unlock()
}

// eventLoop drains one connection's events into session state.
func (m *Manager) eventLoop(cl broker.Client, stop chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case ev := <-cl.Events():
			m.handleEvent(ev)
		case <-stop:
			return
		case <-m.done:
			return
		}
	}
}

func (m *Manager) handleEvent(ev broker.Event) {
	switch ev.Type {
	case broker.EventHandshakeAck, broker.EventIDBlock:
		m.mu.Lock()
		ch := m.resp[ev.CmdID]
		delete(m.resp, ev.CmdID)
		m.mu.Unlock()
		if ch != nil {
			ch <- ev
		}

	case broker.EventOrderStatus, broker.EventOpenOrder:
		m.mu.Lock()
		m.orders[ev.OrderID] = OrderState{
			OrderID:      ev.OrderID,
			Status:       ev.Status,
			Filled:       ev.Filled,
			Remaining:    ev.Remaining,
			AvgFillPrice: ev.AvgFillPrice,
		}
		m.mu.Unlock()
		m.cond.Broadcast()

	case broker.EventPosition:
		m.mu.Lock()
		m.positions[ev.Account+"|"+ev.Symbol] = store.PositionRow{
			Account:  ev.Account,
			Symbol:   ev.Symbol,
			Position: ev.Position,
			AvgCost:  ev.AvgCost,
		}
		m.mu.Unlock()

	case broker.EventPortfolio:
		m.mu.Lock()
		m.portfolio[ev.Symbol] = store.PnLRow{
			Symbol:        ev.Symbol,
			Position:      ev.Position,
			MarketPrice:   ev.MarketPrice,
			MarketValue:   ev.MarketValue,
			AvgCost:       ev.AvgCost,
			UnrealizedPnL: ev.UnrealizedPnL,
			RealizedPnL:   ev.RealizedPnL,
		}
		m.mu.Unlock()

	case broker.EventError:
		if benignCodes[ev.Code] {
			m.logger.Info("broker notice", "code", ev.Code, "message", ev.Message)
			return
		}
		if ev.OrderID > 0 {
			m.mu.Lock()
			m.orderErrs[ev.OrderID] = &broker.Error{
				Code:    ev.Code,
				OrderID: ev.OrderID,
				Message: ev.Message,
			}
			m.mu.Unlock()
			m.cond.Broadcast()
			return
		}
		m.logger.Warn("broker error", "code", ev.Code, "message", ev.Message)

	default:
		m.logger.Debug("unhandled broker event", "type", ev.Type)
	}
}

// watch waits for the connection to fail and kicks off reconnection.
func (m *Manager) watch(cl broker.Client, stop chan struct{}) {
	defer m.wg.Done()
	select {
	case err, ok := <-cl.Errors():
		if !ok {
			return
		}
		m.logger.Warn("broker connection lost", "error", err)
		m.onDisconnect(cl, stop)
	case <-stop:
	case <-m.done:
	}
}

func (m *Manager) onDisconnect(cl broker.Client, stop chan struct{}) {
	m.mu.Lock()
	if m.closed || m.client != cl {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	close(stop)
	cl.Close()

	m.wg.Add(1)
	go m.reconnectLoop()
}

// reconnectLoop retries until a connection sticks or the session closes.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for attempt := 0; ; attempt++ {
		delay := m.backoffDelay(attempt)
		m.logger.Info("reconnecting to broker", "attempt", attempt+1, "delay", delay)

		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
		err := m.establish(ctx)
		cancel()
		if err != nil {
			m.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		// Replay buffered commands before accepting new traffic. The
		// state flips to connected only after the flush so concurrent
		// submitters cannot overtake the replay.
		m.txMu.Lock()
		if err := m.flushLocked(); err != nil {
			m.txMu.Unlock()
			m.logger.Warn("pending replay failed, retrying", "error", err)
			continue
		}
		m.mu.Lock()
		closed := m.closed
		if !closed {
			m.state = StateConnected
		}
		m.mu.Unlock()
		m.txMu.Unlock()

		if !closed {
			m.logger.Info("broker session restored")
		}
		return
	}
}

func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 0; i < attempt && delay < m.cfg.ReconnectMaxDelay; i++ {
		delay *= 2
	}
	if delay > m.cfg.ReconnectMaxDelay {
		delay = m.cfg.ReconnectMaxDelay
	}
	if half := delay / 2; half > 0 {
		delay += rand.N(half)
	}
	return delay
}

// flushLocked drains the pending buffer in FIFO order. txMu must be held.
func (m *Manager) flushLocked() error {
	if len(m.pending) == 0 {
		return nil
	}
	m.mu.Lock()
	cl := m.client
	m.mu.Unlock()

	for i, cmd := range m.pending {
		if err := cl.Send(cmd); err != nil {
			m.pending = m.pending[i:]
			return fmt.Errorf("replay buffered command %s: %w", cmd.Op, err)
		}
	}
	m.logger.Info("replayed buffered commands", "count", len(m.pending))
	m.pending = nil
	return nil
}

// transmit sends commands in order, buffering them when disconnected.
// Multi-command transmissions (cancel then place) hold the lock across
// both sends so no other command can interleave.
func (m *Manager) transmit(cmds ...broker.Command) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	connected := m.state == StateConnected
	cl := m.client
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}

	for i, cmd := range cmds {
		if !connected {
			m.pending = append(m.pending, cmds[i:]...)
			m.logger.Debug("buffered command while disconnected",
				"op", cmd.Op, "pending", len(m.pending))
			return nil
		}
		if err := cl.Send(cmd); err != nil {
			// The watcher will notice the dead connection; keep the
			// command for replay.
			m.pending = append(m.pending, cmds[i:]...)
			m.logger.Warn("send failed, buffered for replay", "op", cmd.Op, "error", err)
			return nil
		}
	}
	return nil
}

// SubmitOrder allocates a broker order id and places the order. The id
// is returned even when the command was buffered for later replay.
func (m *Manager) SubmitOrder(ctx context.Context, contract broker.Contract, order broker.Order) (int64, error) {
	id, err := m.allocateID(ctx)
	if err != nil {
		return 0, err
	}
	if err := m.SubmitOrderWithID(ctx, id, contract, order); err != nil {
		return 0, err
	}
	return id, nil
}

// SubmitOrderWithID places or amends an order under an existing broker
// order id (in-place modify).
func (m *Manager) SubmitOrderWithID(ctx context.Context, id int64, contract broker.Contract, order broker.Order) error {
	m.clearOutcome(id)
	return m.transmit(broker.Command{
		Op:       broker.OpPlace,
		OrderID:  id,
		Contract: &contract,
		Order:    &order,
	})
}

// ReplaceOrder cancels oldID and places the order under a fresh id.
// The two commands cannot be interleaved by concurrent submissions.
func (m *Manager) ReplaceOrder(ctx context.Context, oldID int64, contract broker.Contract, order broker.Order) (int64, error) {
	newID, err := m.allocateID(ctx)
	if err != nil {
		return 0, err
	}
	m.clearOutcome(newID)
	err = m.transmit(
		broker.Command{Op: broker.OpCancel, OrderID: oldID},
		broker.Command{Op: broker.OpPlace, OrderID: newID, Contract: &contract, Order: &order},
	)
	if err != nil {
		return 0, err
	}
	return newID, nil
}

// CancelOrder cancels a single order.
func (m *Manager) CancelOrder(ctx context.Context, id int64) error {
	return m.transmit(broker.Command{Op: broker.OpCancel, OrderID: id})
}

// CancelAll cancels every open order for this client id.
func (m *Manager) CancelAll(ctx context.Context) error {
	return m.transmit(broker.Command{Op: broker.OpCancelAll, ClientID: m.cfg.ClientID})
}

func (m *Manager) clearOutcome(id int64) {
	m.mu.Lock()
	delete(m.orderErrs, id)
	m.mu.Unlock()
}

// allocateID hands out the next id from the current block, requesting a
// new block from the broker when the block is exhausted.
func (m *Manager) allocateID(ctx context.Context) (int64, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	if m.nextID >= m.ceiling {
		if err := m.requestIDBlockLocked(ctx); err != nil {
			return 0, err
		}
	}
	id := m.nextID
	m.nextID++
	return id, nil
}

// requestIDBlockLocked performs a blocking id-block round trip.
// allocMu must be held.
func (m *Manager) requestIDBlockLocked(ctx context.Context) error {
	cmdID := m.cmdSeq.Add(1)
	ch := m.registerResp(cmdID)
	defer m.unregisterResp(cmdID)

	if err := m.transmit(broker.Command{CmdID: cmdID, Op: broker.OpNextIDBlock}); err != nil {
		return err
	}

	select {
	case ev := <-ch:
		m.nextID = ev.NextID
		m.ceiling = ev.NextID + m.cfg.IDBlockSize
		m.logger.Debug("order id block granted", "next_id", ev.NextID)
		return nil
	case <-time.After(m.cfg.AllocTimeout):
		return ErrAllocTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// WaitOutcome waits up to wait for the broker to report an outcome for
// an order. It returns the broker error if one arrived, nil once any
// status is seen, and nil optimistically when the wait elapses with no
// news.
func (m *Manager) WaitOutcome(ctx context.Context, id int64, wait time.Duration) error {
	timedOut := false
	timer := time.AfterFunc(wait, func() {
		m.mu.Lock()
		timedOut = true
		m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer timer.Stop()

	stopCtx := context.AfterFunc(ctx, func() { m.cond.Broadcast() })
	defer stopCtx()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if be := m.orderErrs[id]; be != nil {
			return be
		}
		if _, ok := m.orders[id]; ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if timedOut || m.closed {
			return nil
		}
		m.cond.Wait()
	}
}

// WaitActive blocks until the order reaches a live broker status, a
// broker error arrives, or the timeout elapses.
func (m *Manager) WaitActive(ctx context.Context, id int64, timeout time.Duration) error {
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		m.mu.Lock()
		timedOut = true
		m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer timer.Stop()

	stopCtx := context.AfterFunc(ctx, func() { m.cond.Broadcast() })
	defer stopCtx()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if be := m.orderErrs[id]; be != nil {
			return be
		}
		if st, ok := m.orders[id]; ok && ActiveStatus(st.Status) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.closed {
			return ErrClosed
		}
		if timedOut {
			return ErrWaitTimeout
		}
		m.cond.Wait()
	}
}

// OrderState returns the last reported state for an order.
func (m *Manager) OrderState(id int64) (OrderState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.orders[id]
	return st, ok
}

// Snapshot captures the current broker-reported state.
func (m *Manager) Snapshot() store.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := store.Snapshot{TakenAt: time.Now().UTC()}
	for _, p := range m.positions {
		snap.Positions = append(snap.Positions, p)
	}
	for _, o := range m.orders {
		snap.Orders = append(snap.Orders, store.OrderRow{
			OrderID:      o.OrderID,
			Status:       o.Status,
			Filled:       o.Filled,
			Remaining:    o.Remaining,
			AvgFillPrice: o.AvgFillPrice,
		})
	}
	for _, p := range m.portfolio {
		snap.PnL = append(snap.PnL, p)
	}
	return snap
}

// State returns the session lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PendingCount returns the number of buffered commands awaiting replay.
func (m *Manager) PendingCount() int {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return len(m.pending)
}

// Close shuts the session down. Buffered commands are dropped.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateDisconnected
	cl := m.client
	m.mu.Unlock()

	close(m.done)
	m.cond.Broadcast()

	if cl != nil {
		cl.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
