package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMappings stores the idempotency mapping in Postgres using the
// database's native atomic upsert.
type PostgresMappings struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresMappings creates a mapping store backed by db.
func NewPostgresMappings(db *pgxpool.Pool, logger *slog.Logger) *PostgresMappings {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresMappings{db: db, logger: logger}
}

// Init creates the mapping table if it does not exist.
func (s *PostgresMappings) Init(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS order_mapping (
			correlation_id  TEXT        NOT NULL,
			symbol          TEXT        NOT NULL,
			broker_order_id BIGINT      NOT NULL,
			status          TEXT        NOT NULL,
			last_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (correlation_id, symbol)
		)
	`)
	if err != nil {
		return fmt.Errorf("create order_mapping table: %w", err)
	}
	return nil
}

// Load returns the full mapping.
func (s *PostgresMappings) Load(ctx context.Context) (map[Key]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT correlation_id, symbol, broker_order_id FROM order_mapping`)
	if err != nil {
		return nil, fmt.Errorf("load order_mapping: %w", err)
	}
	defer rows.Close()

	out := make(map[Key]int64)
	for rows.Next() {
		var (
			key Key
			id  int64
		)
		if err := rows.Scan(&key.CorrelationID, &key.Symbol, &id); err != nil {
			return nil, fmt.Errorf("scan order_mapping row: %w", err)
		}
		out[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order_mapping: %w", err)
	}

	s.logger.Info("loaded order mappings", "count", len(out))
	return out, nil
}

// Upsert inserts or updates one mapping row atomically.
func (s *PostgresMappings) Upsert(ctx context.Context, key Key, brokerOrderID int64, status Status) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_mapping (correlation_id, symbol, broker_order_id, status, last_updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (correlation_id, symbol)
		DO UPDATE SET broker_order_id = EXCLUDED.broker_order_id,
		              status          = EXCLUDED.status,
		              last_updated_at = now()
	`, key.CorrelationID, key.Symbol, brokerOrderID, string(status))
	if err != nil {
		return fmt.Errorf("upsert order_mapping (%s, %s): %w", key.CorrelationID, key.Symbol, err)
	}
	return nil
}

// MemoryMappings is an in-memory Mappings implementation for tests and
// dry runs.
type MemoryMappings struct {
	mu sync.Mutex
	m  map[Key]int64

	// Upserts counts writes, for assertions on linearization order.
	Upserts int
}

// NewMemoryMappings creates an empty in-memory mapping store.
func NewMemoryMappings() *MemoryMappings {
	return &MemoryMappings{m: make(map[Key]int64)}
}

// Load returns a copy of the mapping.
func (s *MemoryMappings) Load(ctx context.Context) (map[Key]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Key]int64, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

// Upsert inserts or updates one mapping.
func (s *MemoryMappings) Upsert(ctx context.Context, key Key, brokerOrderID int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = brokerOrderID
	s.Upserts++
	return nil
}

// Get returns the stored broker order id for key.
func (s *MemoryMappings) Get(key Key) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.m[key]
	return id, ok
}
