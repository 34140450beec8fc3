package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Broker    BrokerConfig    `yaml:"broker"`
	Bus       BusConfig       `yaml:"bus"`
	Database  DatabaseConfig  `yaml:"database"`
	Limits    LimitsConfig    `yaml:"limits"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Retry     RetryConfig     `yaml:"retry"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BrokerConfig holds the broker connection settings.
type BrokerConfig struct {
	URL                string        `yaml:"url"`
	ClientID           int           `yaml:"client_id"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	AllocTimeout       time.Duration `yaml:"alloc_timeout"`
	IDBlockSize        int64         `yaml:"id_block_size"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	OutcomeWait        time.Duration `yaml:"outcome_wait"`
}

// BusConfig holds the message-bus bind addresses.
type BusConfig struct {
	IngestAddr  string `yaml:"ingest_addr"`
	PublishAddr string `yaml:"publish_addr"`
	BufferSize  int    `yaml:"buffer_size"`
}

// DatabaseConfig holds the gateway's Postgres connection.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LimitsConfig holds per-order validation limits. Zero values disable
// the corresponding check.
type LimitsConfig struct {
	AllowedSymbols []string `yaml:"allowed_symbols"`
	MinPrice       float64  `yaml:"min_price"`
	MaxPrice       float64  `yaml:"max_price"`
	MaxQuantity    int      `yaml:"max_quantity"`
	MaxNotional    float64  `yaml:"max_notional"`

	// SessionWindow restricts submissions to a trading window,
	// formatted "HHMM-HHMM" in SessionTimezone (e.g. "0930-1600").
	SessionWindow   string `yaml:"session_window"`
	SessionTimezone string `yaml:"session_timezone"`
}

// ThrottleConfig holds the per-second admission ceilings.
type ThrottleConfig struct {
	MaxOrdersPerSec int     `yaml:"max_orders_per_sec"`
	MaxNotional     float64 `yaml:"max_notional"`
}

// RetryConfig holds the broker-error backoff parameters.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	CapDelay    time.Duration `yaml:"cap_delay"`
	// RetryableCodes overrides the built-in retryable set when set.
	RetryableCodes []int `yaml:"retryable_codes"`
}

// SnapshotsConfig holds the periodic state snapshot settings.
type SnapshotsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
