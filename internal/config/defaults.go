package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBrokerURL          = "ws://127.0.0.1:7497/api"
	DefaultClientID           = 1
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultAllocTimeout       = 5 * time.Second
	DefaultIDBlockSize        = 1000
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultOutcomeWait        = 1 * time.Second
	DefaultIngestAddr         = ":5555"
	DefaultPublishAddr        = ":5556"
	DefaultBusBufferSize      = 1000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultMaxOrdersPerSec    = 20
	DefaultThrottleNotional   = 2_000_000
	DefaultRetryMaxAttempts   = 5
	DefaultRetryBaseDelay     = 500 * time.Millisecond
	DefaultRetryCapDelay      = 30 * time.Second
	DefaultSnapshotInterval   = 30 * time.Second
	DefaultSnapshotTimeout    = 10 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultSessionTimezone    = "America/New_York"
)

func (c *GatewayConfig) applyDefaults() {
	// Broker defaults
	if c.Broker.URL == "" {
		c.Broker.URL = DefaultBrokerURL
	}
	if c.Broker.ClientID == 0 {
		c.Broker.ClientID = DefaultClientID
	}
	if c.Broker.HandshakeTimeout == 0 {
		c.Broker.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Broker.AllocTimeout == 0 {
		c.Broker.AllocTimeout = DefaultAllocTimeout
	}
	if c.Broker.IDBlockSize == 0 {
		c.Broker.IDBlockSize = DefaultIDBlockSize
	}
	if c.Broker.ReconnectBaseDelay == 0 {
		c.Broker.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Broker.ReconnectMaxDelay == 0 {
		c.Broker.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Broker.PingTimeout == 0 {
		c.Broker.PingTimeout = DefaultPingTimeout
	}
	if c.Broker.WriteTimeout == 0 {
		c.Broker.WriteTimeout = DefaultWriteTimeout
	}
	if c.Broker.OutcomeWait == 0 {
		c.Broker.OutcomeWait = DefaultOutcomeWait
	}

	// Bus defaults
	if c.Bus.IngestAddr == "" {
		c.Bus.IngestAddr = DefaultIngestAddr
	}
	if c.Bus.PublishAddr == "" {
		c.Bus.PublishAddr = DefaultPublishAddr
	}
	if c.Bus.BufferSize == 0 {
		c.Bus.BufferSize = DefaultBusBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Limits defaults
	if c.Limits.SessionTimezone == "" {
		c.Limits.SessionTimezone = DefaultSessionTimezone
	}

	// Throttle defaults
	if c.Throttle.MaxOrdersPerSec == 0 {
		c.Throttle.MaxOrdersPerSec = DefaultMaxOrdersPerSec
	}
	if c.Throttle.MaxNotional == 0 {
		c.Throttle.MaxNotional = DefaultThrottleNotional
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if c.Retry.CapDelay == 0 {
		c.Retry.CapDelay = DefaultRetryCapDelay
	}

	// Snapshot defaults
	if c.Snapshots.Interval == 0 {
		c.Snapshots.Interval = DefaultSnapshotInterval
	}
	if c.Snapshots.WriteTimeout == 0 {
		c.Snapshots.WriteTimeout = DefaultSnapshotTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
