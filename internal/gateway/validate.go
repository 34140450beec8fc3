package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zveasy/trading-app/internal/config"
	"github.com/zveasy/trading-app/internal/model"
)

// Validator applies the configured business rules to decoded orders.
// Rules evaluate in a fixed order and the first failure wins. Zero
// limits disable the corresponding rule.
type Validator struct {
	allowed     map[string]bool
	minPrice    float64
	maxPrice    float64
	maxQuantity int
	maxNotional float64
	window      *sessionWindow

	now func() time.Time
}

// NewValidator builds a validator from the configured limits.
func NewValidator(cfg config.LimitsConfig) (*Validator, error) {
	v := &Validator{
		minPrice:    cfg.MinPrice,
		maxPrice:    cfg.MaxPrice,
		maxQuantity: cfg.MaxQuantity,
		maxNotional: cfg.MaxNotional,
		now:         time.Now,
	}
	if len(cfg.AllowedSymbols) > 0 {
		v.allowed = make(map[string]bool, len(cfg.AllowedSymbols))
		for _, s := range cfg.AllowedSymbols {
			v.allowed[strings.ToUpper(strings.TrimSpace(s))] = true
		}
	}
	if cfg.SessionWindow != "" {
		w, err := parseSessionWindow(cfg.SessionWindow, cfg.SessionTimezone)
		if err != nil {
			return nil, err
		}
		v.window = w
	}
	return v, nil
}

// Check validates one order. It returns ok=false and a human-readable
// reason on the first failing rule.
func (v *Validator) Check(req *model.OrderRequest) (string, bool) {
	if req.Quantity <= 0 {
		return fmt.Sprintf("quantity must be positive, got %d", req.Quantity), false
	}
	if req.OrderType == model.OrderTypeLimit && req.LimitPrice <= 0 {
		return "limit orders require a positive limit_price", false
	}
	if req.LimitPrice > 0 {
		if v.minPrice > 0 && req.LimitPrice < v.minPrice {
			return fmt.Sprintf("price %.4f below minimum %.4f", req.LimitPrice, v.minPrice), false
		}
		if v.maxPrice > 0 && req.LimitPrice > v.maxPrice {
			return fmt.Sprintf("price %.4f above maximum %.4f", req.LimitPrice, v.maxPrice), false
		}
	}
	if v.maxQuantity > 0 && req.Quantity > v.maxQuantity {
		return fmt.Sprintf("quantity %d exceeds maximum %d", req.Quantity, v.maxQuantity), false
	}
	if v.maxNotional > 0 && req.LimitPrice > 0 {
		if notional := req.Notional(req.LimitPrice); notional > v.maxNotional {
			return fmt.Sprintf("notional %.2f exceeds maximum %.2f", notional, v.maxNotional), false
		}
	}
	if v.allowed != nil && !v.allowed[req.Symbol] {
		return fmt.Sprintf("symbol %s not in allow-list", req.Symbol), false
	}
	if v.window != nil && !v.window.contains(v.now()) {
		return fmt.Sprintf("outside trading session %s", v.window), false
	}
	return "", true
}

// sessionWindow is a daily trading window in a fixed timezone. Windows
// where start > end span midnight.
type sessionWindow struct {
	startMin int // minutes since midnight, inclusive
	endMin   int // minutes since midnight, exclusive
	loc      *time.Location
	text     string
}

func parseSessionWindow(window, timezone string) (*sessionWindow, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("session timezone: %w", err)
	}

	parts := strings.Split(window, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("session window %q must be formatted HHMM-HHMM", window)
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return nil, fmt.Errorf("session window %q: %w", window, err)
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return nil, fmt.Errorf("session window %q: %w", window, err)
	}

	return &sessionWindow{
		startMin: start,
		endMin:   end,
		loc:      loc,
		text:     window + " " + timezone,
	}, nil
}

func parseHHMM(s string) (int, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("time %q must be HHMM", s)
	}
	hour, err := strconv.Atoi(s[:2])
	if err != nil || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	min, err := strconv.Atoi(s[2:])
	if err != nil || min > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + min, nil
}

func (w *sessionWindow) contains(t time.Time) bool {
	local := t.In(w.loc)
	cur := local.Hour()*60 + local.Minute()
	if w.startMin <= w.endMin {
		return cur >= w.startMin && cur < w.endMin
	}
	return cur >= w.startMin || cur < w.endMin
}

func (w *sessionWindow) String() string {
	return w.text
}
