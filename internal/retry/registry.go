package retry

import (
	"sync"
	"time"

	"github.com/zveasy/trading-app/internal/store"
)

// Key is the logical-message identity the registry tracks: the same
// composite identity the idempotency store keys on.
type Key = store.Key

// DefaultRetryableCodes are broker error codes worth a backoff-and-retry
// rather than a permanent reject.
var DefaultRetryableCodes = map[int]struct{}{
	1100: {}, // connectivity lost
	1101: {}, // connectivity restored, session reset
	200:  {}, // no security definition found
	202:  {}, // order cancelled while a replacement is still needed
	104:  {}, // cannot modify a filled order (usually transient)
}

// Config tunes the backoff schedule.
type Config struct {
	// MaxAttempts bounds the exponent; past it the delay clamps at CapDelay.
	// It is not a give-up threshold: the registry retries indefinitely.
	MaxAttempts int

	// BaseDelay is the first backoff step.
	BaseDelay time.Duration

	// CapDelay is the upper bound for any backoff step.
	CapDelay time.Duration

	// RetryableCodes overrides DefaultRetryableCodes when non-nil.
	RetryableCodes map[int]struct{}
}

// DefaultConfig returns the schedule used by the original receiver.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   1 * time.Second,
		CapDelay:    60 * time.Second,
	}
}

type entry struct {
	nextAllowedAt time.Time
	attempts      int
}

// Registry tracks the next allowed processing time per key. Safe for
// concurrent use.
type Registry struct {
	cfg   Config
	codes map[int]struct{}

	mu    sync.Mutex
	state map[Key]entry

	now func() time.Time
}

// NewRegistry creates a registry with the given schedule.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.CapDelay <= 0 {
		cfg.CapDelay = DefaultConfig().CapDelay
	}
	codes := cfg.RetryableCodes
	if codes == nil {
		codes = DefaultRetryableCodes
	}
	return &Registry{
		cfg:   cfg,
		codes: codes,
		state: make(map[Key]entry),
		now:   time.Now,
	}
}

// Ready reports whether key may be processed now: true when the key is
// unseen or its backoff window has expired.
func (r *Registry) Ready(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.state[key]
	if !ok {
		return true
	}
	return !r.now().Before(e.nextAllowedAt)
}

// OnError records a broker error for key. Non-retryable codes are ignored
// so callers can invoke it unconditionally; retryable codes advance the
// attempts counter even when the previous window has not expired, so an
// error arriving mid-backoff extends the wait. Returns whether the code
// was retryable.
func (r *Registry) OnError(key Key, code int) bool {
	if !r.Retryable(code) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.state[key]
	delay := r.delay(e.attempts)
	r.state[key] = entry{
		nextAllowedAt: r.now().Add(delay),
		attempts:      e.attempts + 1,
	}
	return true
}

// OnSuccess clears all state for key. Full reset, not a decrement.
func (r *Registry) OnSuccess(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, key)
}

// Retryable reports whether a broker error code is in the retryable set.
func (r *Registry) Retryable(code int) bool {
	_, ok := r.codes[code]
	return ok
}

// Len returns the number of keys currently backing off.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state)
}

func (r *Registry) delay(attempts int) time.Duration {
	if attempts >= r.cfg.MaxAttempts {
		return r.cfg.CapDelay
	}
	d := r.cfg.BaseDelay << uint(attempts)
	if d > r.cfg.CapDelay || d <= 0 {
		return r.cfg.CapDelay
	}
	return d
}
