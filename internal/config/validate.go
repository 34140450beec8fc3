package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var sessionWindowRe = regexp.MustCompile(`^([01]\d|2[0-3])[0-5]\d-([01]\d|2[0-3])[0-5]\d$`)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Broker.URL == "" {
		return errors.New("broker.url is required")
	}
	if c.Broker.ClientID < 0 {
		return errors.New("broker.client_id must be >= 0")
	}
	if c.Broker.IDBlockSize < 1 {
		return errors.New("broker.id_block_size must be >= 1")
	}

	if c.Bus.IngestAddr == "" {
		return errors.New("bus.ingest_addr is required")
	}
	if c.Bus.BufferSize < 1 {
		return errors.New("bus.buffer_size must be >= 1")
	}

	if err := c.Database.Postgres.validate("database.postgres"); err != nil {
		return err
	}

	if c.Limits.MinPrice < 0 {
		return errors.New("limits.min_price must be >= 0")
	}
	if c.Limits.MaxPrice > 0 && c.Limits.MaxPrice < c.Limits.MinPrice {
		return fmt.Errorf("limits.max_price (%g) cannot be below min_price (%g)",
			c.Limits.MaxPrice, c.Limits.MinPrice)
	}
	if c.Limits.SessionWindow != "" {
		if !sessionWindowRe.MatchString(c.Limits.SessionWindow) {
			return fmt.Errorf("limits.session_window %q must be formatted HHMM-HHMM", c.Limits.SessionWindow)
		}
		if _, err := time.LoadLocation(c.Limits.SessionTimezone); err != nil {
			return fmt.Errorf("limits.session_timezone: %w", err)
		}
	}

	if c.Throttle.MaxOrdersPerSec < 1 {
		return errors.New("throttle.max_orders_per_sec must be >= 1")
	}
	if c.Throttle.MaxNotional <= 0 {
		return errors.New("throttle.max_notional must be > 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be > 0")
	}
	if c.Retry.CapDelay < c.Retry.BaseDelay {
		return errors.New("retry.cap_delay must be >= retry.base_delay")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
