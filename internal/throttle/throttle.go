package throttle

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the per-window ceilings.
type Config struct {
	MaxOrdersPerSec int     // admitted orders per window
	MaxNotional     float64 // admitted |qty|*price sum per window
}

// DefaultConfig matches the original risk limits.
func DefaultConfig() Config {
	return Config{
		MaxOrdersPerSec: 20,
		MaxNotional:     2_000_000,
	}
}

// Stats is a point-in-time view of throttle counters.
type Stats struct {
	WindowCount    int
	WindowNotional float64
	Blocked        int64
}

// Throttle is a sliding one-second admission window. Safe for concurrent
// use; admission is atomic with the counter update.
type Throttle struct {
	cfg Config

	mu          sync.Mutex
	windowStart time.Time
	count       int
	notional    float64
	blocked     int64

	now func() time.Time
}

// New creates a throttle with the given ceilings.
func New(cfg Config) *Throttle {
	if cfg.MaxOrdersPerSec <= 0 {
		cfg.MaxOrdersPerSec = DefaultConfig().MaxOrdersPerSec
	}
	if cfg.MaxNotional <= 0 {
		cfg.MaxNotional = DefaultConfig().MaxNotional
	}
	return &Throttle{cfg: cfg, now: time.Now}
}

// Admit checks whether one more order of the given size fits in the
// current window. On admit the counters are committed before returning;
// on reject they are left unchanged and a reason is returned.
func (t *Throttle) Admit(quantity int, price float64) (bool, string) {
	if quantity < 0 {
		quantity = -quantity
	}
	addNotional := float64(quantity) * price

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.windowStart) >= time.Second {
		t.windowStart = now
		t.count = 0
		t.notional = 0
	}

	wouldCount := t.count + 1
	wouldNotional := t.notional + addNotional

	if wouldCount > t.cfg.MaxOrdersPerSec {
		t.blocked++
		return false, fmt.Sprintf("throttle: %d orders/sec exceeded", t.cfg.MaxOrdersPerSec)
	}
	if wouldNotional > t.cfg.MaxNotional {
		t.blocked++
		return false, fmt.Sprintf("throttle: notional %.2f exceeds cap %.2f", wouldNotional, t.cfg.MaxNotional)
	}

	t.count = wouldCount
	t.notional = wouldNotional
	return true, ""
}

// Stats returns current counters.
func (t *Throttle) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		WindowCount:    t.count,
		WindowNotional: t.notional,
		Blocked:        t.blocked,
	}
}
